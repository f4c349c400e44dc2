// Package rpc forwards commands from a remote client to the command
// processor over net/rpc.
package rpc

import (
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/command"
	"github.com/vsariola/tracklane/engine"
)

type (
	// Sink receives the forwarded commands, e.g. engine.CommandQueue.
	Sink interface {
		Push(cmd command.Command)
	}

	// Envelope wraps a command so gob can send it as an interface value.
	Envelope struct {
		Command command.Command
	}

	// CommandServer is the receiver registered with net/rpc.
	CommandServer struct {
		sink    Sink
		timeout time.Duration
		log     *logrus.Entry
	}

	Server struct {
		listener net.Listener
		done     chan struct{}
	}

	Client struct {
		client *rpc.Client
	}
)

const serviceName = "Tracklane"

var (
	ErrNoCommand = errors.New("no command")
	ErrTimeout   = errors.New("command processor did not answer")
	// ErrUseMethod is returned for commands that reply through a channel;
	// Client has a method for each of them.
	ErrUseMethod = errors.New("command needs a reply channel, use the client method")
)

func init() {
	for _, cmd := range command.All() {
		gob.Register(cmd)
	}
}

// Listen serves commands on addr until Close is called.
func Listen(addr string, sink Sink) (*Server, error) {
	srv := rpc.NewServer()
	h := &CommandServer{sink: sink, timeout: 5 * time.Second, log: logrus.WithField("component", "rpc")}
	if err := srv.RegisterName(serviceName, h); err != nil {
		return nil, fmt.Errorf("rpc register failed: %w", err)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.Listen failed: %w", err)
	}
	s := &Server{listener: l, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		http.Serve(l, srv)
	}()
	h.log.WithField("addr", l.Addr().String()).Info("listening for remote commands")
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) Close() error {
	err := s.listener.Close()
	<-s.done
	return err
}

func (s *CommandServer) Send(args Envelope, reply *int) error {
	switch args.Command.(type) {
	case nil:
		return ErrNoCommand
	case command.GetProject, command.SaveProject:
		return ErrUseMethod
	}
	s.log.WithField("command", fmt.Sprintf("%T", args.Command)).Debug("remote command")
	s.sink.Push(args.Command)
	return nil
}

func (s *CommandServer) Project(_ int, reply *tracklane.Project) error {
	ch := make(chan tracklane.Project, 1)
	s.sink.Push(command.GetProject{Reply: ch})
	p, ok := engine.TimeoutReceive(ch, s.timeout)
	if !ok {
		return ErrTimeout
	}
	*reply = p
	return nil
}

func (s *CommandServer) Save(path string, reply *int) error {
	ch := make(chan error, 1)
	s.sink.Push(command.SaveProject{Path: path, Done: ch})
	err, ok := engine.TimeoutReceive(ch, s.timeout)
	if !ok {
		return ErrTimeout
	}
	return err
}

func Dial(addr string) (*Client, error) {
	c, err := rpc.DialHTTP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc.DialHTTP failed: %w", err)
	}
	return &Client{client: c}, nil
}

func (c *Client) Send(cmd command.Command) error {
	var reply int
	return c.client.Call(serviceName+".Send", Envelope{Command: cmd}, &reply)
}

// Project returns a copy of the remote project.
func (c *Client) Project() (tracklane.Project, error) {
	var p tracklane.Project
	err := c.client.Call(serviceName+".Project", 0, &p)
	return p, err
}

// Save asks the remote processor to save its project to path on the
// remote machine.
func (c *Client) Save(path string) error {
	var reply int
	return c.client.Call(serviceName+".Save", path, &reply)
}

func (c *Client) Close() error { return c.client.Close() }
