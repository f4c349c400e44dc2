package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vsariola/tracklane"
)

func exportProject() tracklane.Project {
	midi := tracklane.NewTrack("keys", tracklane.MIDITrack)
	midi.MIDIClips = []tracklane.MIDIClip{{ID: "c", LengthBeats: 4, Notes: []tracklane.Note{
		{Pitch: 60, Velocity: 100, StartBeat: 0, LengthBeats: 1},
		{Pitch: 67, Velocity: 100, StartBeat: 1.5, LengthBeats: 2},
	}}}
	return testProject(audioTrack("a", dcClip(0.1, 0.5, 3)), midi)
}

func renderToFile(t *testing.T, proj tracklane.Project, opts ExportOptions) tracklane.AudioBuffer {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.wav")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()
	frames, err := Render(context.Background(), proj, nil, f, opts, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	buf, sr, err := tracklane.ReadWav(f)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if sr != proj.SampleRate || len(buf) != frames {
		t.Fatalf("read %d frames at %d Hz, rendered %d at %d Hz", len(buf), sr, frames, proj.SampleRate)
	}
	return buf
}

func TestRenderLengthDoesNotDependOnBlockSize(t *testing.T) {
	proj := exportProject()
	var first tracklane.AudioBuffer
	for _, blockSize := range []int{64, 1000, 4096} {
		buf := renderToFile(t, proj, ExportOptions{EndBeat: 4, BitDepth: tracklane.Int16, BlockSize: blockSize})
		if len(buf) != 88200 {
			t.Fatalf("block size %d: %d frames, want 88200", blockSize, len(buf))
		}
		if first == nil {
			first = buf
			continue
		}
		for i := range buf {
			if buf[i] != first[i] {
				t.Fatalf("block size %d: frame %d = %v, want %v", blockSize, i, buf[i], first[i])
			}
		}
	}
}

func TestRenderRange(t *testing.T) {
	proj := exportProject()
	buf := renderToFile(t, proj, ExportOptions{StartBeat: 1, EndBeat: 1.5, BitDepth: tracklane.Int24})
	if len(buf) != 11025 {
		t.Fatalf("%d frames, want 11025", len(buf))
	}
	if p := buf.Peak(); p[0] == 0 {
		t.Fatalf("range with a clip playing is silent")
	}
}

func TestRenderNormalize(t *testing.T) {
	proj := testProject(audioTrack("a", dcClip(0.1, 0, 1)))
	buf := renderToFile(t, proj, ExportOptions{Normalize: true, BitDepth: tracklane.Int24})
	if p := buf.Peak(); !almostEqual(p[0], normalizeTarget) {
		t.Fatalf("normalized peak = %v, want %v", p[0], normalizeTarget)
	}
}

func TestRenderEmptyRange(t *testing.T) {
	proj := testProject()
	f, err := os.CreateTemp(t.TempDir(), "*.wav")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := Render(context.Background(), proj, nil, f, ExportOptions{}, nil); !errors.Is(err, ErrEmptyRange) {
		t.Fatalf("rendering an empty project: %v, want ErrEmptyRange", err)
	}
}

func TestExportReplacesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	updates := make(chan MsgToUI, UIQueueSize)
	if err := Export(context.Background(), exportProject(), nil, path, ExportOptions{EndBeat: 1}, updates); err != nil {
		t.Fatalf("export: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.wav" {
		t.Fatalf("directory holds %v, want only out.wav", entries)
	}
	complete := false
	for len(updates) > 0 {
		if p, ok := (<-updates).Data.(ExportProgress); ok && p.Stage == ExportComplete {
			complete = p.Path == path
		}
	}
	if !complete {
		t.Fatalf("no ExportComplete update")
	}
}

func TestExportCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Export(ctx, exportProject(), nil, path, ExportOptions{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled export returned %v, want context.Canceled", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("canceled export left %v behind", entries)
	}
}

func TestExportFrames(t *testing.T) {
	tests := []struct {
		start, end, bpm float64
		sr              int
		want            int
	}{
		{0, 4, 120, 44100, 88200},
		{1, 2, 60, 48000, 48000},
		{0, 1, 0, 44100, 0},
		{0, 1.0 / 3, 120, 44100, 7350},
		{2, 1, 120, 44100, -22050},
	}
	for _, test := range tests {
		if got := ExportFrames(test.start, test.end, test.bpm, test.sr); got != test.want {
			t.Fatalf("ExportFrames(%v, %v, %v, %v) = %d, want %d", test.start, test.end, test.bpm, test.sr, got, test.want)
		}
	}
}
