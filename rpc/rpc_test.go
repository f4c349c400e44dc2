package rpc_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/command"
	"github.com/vsariola/tracklane/rpc"
)

type recorder struct {
	mu   sync.Mutex
	cmds []command.Command
}

func (r *recorder) Push(cmd command.Command) {
	switch c := cmd.(type) {
	case command.GetProject:
		c.Reply <- tracklane.Project{BPM: 99, Tracks: []tracklane.Track{{ID: "t1", Kind: tracklane.MIDITrack}}}
		return
	case command.SaveProject:
		c.Done <- nil
		return
	}
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
}

func TestSendReceive(t *testing.T) {
	rec := &recorder{}
	server, err := rpc.Listen("127.0.0.1:0", rec)
	if err != nil {
		t.Fatalf("rpc.Listen error: %v", err)
	}
	defer server.Close()
	client, err := rpc.Dial(server.Addr().String())
	if err != nil {
		t.Fatalf("rpc.Dial error: %v", err)
	}
	defer client.Close()
	sent := []command.Command{
		command.Play{},
		command.SetBPM{BPM: 140},
		command.SetTrackVolume{TrackID: "t1", Volume: 0.5},
		command.AddPlugin{TrackID: "t1", URI: "delay", Index: 2},
	}
	for _, cmd := range sent {
		if err := client.Send(cmd); err != nil {
			t.Fatalf("Send(%T): %v", cmd, err)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.cmds) != len(sent) {
		t.Fatalf("received %d commands, want %d", len(rec.cmds), len(sent))
	}
	if got := rec.cmds[1].(command.SetBPM); got.BPM != 140 {
		t.Fatalf("received %+v", got)
	}
	if got := rec.cmds[3].(command.AddPlugin); got.URI != "delay" || got.Index != 2 {
		t.Fatalf("received %+v", got)
	}
	p, err := client.Project()
	if err != nil || p.BPM != 99 || len(p.Tracks) != 1 {
		t.Fatalf("Project = %+v, %v", p, err)
	}
	if err := client.Save("/tmp/remote.yml"); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestSendRejects(t *testing.T) {
	s := &rpc.CommandServer{}
	var reply int
	for _, cmd := range []command.Command{command.GetProject{}, command.SaveProject{Path: "x"}} {
		if err := s.Send(rpc.Envelope{Command: cmd}, &reply); !errors.Is(err, rpc.ErrUseMethod) {
			t.Fatalf("Send(%T) = %v, want ErrUseMethod", cmd, err)
		}
	}
	if err := s.Send(rpc.Envelope{}, &reply); !errors.Is(err, rpc.ErrNoCommand) {
		t.Fatalf("Send(nil) = %v, want ErrNoCommand", err)
	}
}
