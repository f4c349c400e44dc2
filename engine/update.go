package engine

import (
	"fmt"
	"time"
)

type (
	// Alert is a message for the user, e.g. a plugin that failed to load or
	// started failing while processing. Name identifies the source so the UI
	// can replace an older alert of the same source instead of stacking them.
	Alert struct {
		Name     string
		Priority AlertPriority
		Message  string
		Duration time.Duration
	}

	AlertPriority int

	// Performance describes how much of the realtime budget the last
	// callback used. Load is the callback time divided by the duration of
	// the buffer; a load above 1 means the callback missed its deadline,
	// which is counted in XRuns.
	Performance struct {
		Load  float32
		Peak  float32 // highest load since the engine started
		XRuns int
	}

	// ExportProgress is sent by the offline renderer.
	ExportProgress struct {
		Stage    ExportStage
		Progress float32 // 0..1
		Path     string
		Err      error
	}

	ExportStage int

	// RecordingFinished is sent by the processor after recorded material has
	// been added to the project.
	RecordingFinished struct {
		TrackIDs []string
		Notes    int
		Frames   int
	}
)

const (
	Info AlertPriority = iota
	Warning
	Error
)

const (
	ExportRendering ExportStage = iota
	ExportNormalizing
	ExportFinalizing
	ExportComplete
	ExportFailed
)

const defaultAlertDuration = 3 * time.Second

func (p AlertPriority) String() string {
	switch p {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func (s ExportStage) String() string {
	switch s {
	case ExportRendering:
		return "rendering"
	case ExportNormalizing:
		return "normalizing"
	case ExportFinalizing:
		return "finalizing"
	case ExportComplete:
		return "complete"
	case ExportFailed:
		return "failed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (a Alert) String() string {
	return fmt.Sprintf("[%v] %s: %s", a.Priority, a.Name, a.Message)
}
