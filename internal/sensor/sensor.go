// Package sensor defines the sensor contract and the polling loop shared by
// every camera backend.
//
// A Poller owns exactly one Backend. Start opens it and runs cycles of
// acquire, detect, filter and report until Stop is called, the context is
// cancelled or the backend fails. Cycles never overlap: a slow detector or a
// slow callback lowers the effective frame rate.
package sensor

import (
	"context"
	"errors"
	"image"

	"aimonitor/internal/model"
)

// ErrAlreadyRunning is returned by Start on a sensor that is already running.
var ErrAlreadyRunning = errors.New("sensor already running")

// Callback receives qualifying detections. It runs synchronously on the loop goroutine.
type Callback func(label string, img image.Image)

// Sensor is a continuously sampling source of detections.
type Sensor interface {
	// Start blocks until Stop is called, ctx is done or the device fails.
	Start(ctx context.Context) error
	// Stop is idempotent and safe to call from any goroutine.
	Stop() error
}

// Observable is implemented by sensors that can expose the score and box of
// each detection they report. Journals use it to record more than the callback
// carries.
type Observable interface {
	Observe(fn func(model.Detection))
}

// Frame is the output of one backend cycle.
type Frame struct {
	Image      image.Image
	Candidates []model.Candidate
	// Ready is false when the detector produced no output for this frame,
	// e.g. an accelerator that has not finished inference yet.
	Ready bool
}

// Backend is a device plus detector pair driven by a Poller.
type Backend interface {
	Name() string
	// Open acquires the device and loads the detector.
	Open(ctx context.Context) error
	// Next acquires the freshest frame and runs detection on it.
	Next(ctx context.Context) (Frame, error)
	// Close releases the device. The Poller calls it at most once per Open.
	Close() error
}

// Policy controls how many callbacks a single cycle may produce.
type Policy int

const (
	// FirstMatch reports only the first qualifying detection of a cycle.
	FirstMatch Policy = iota
	// EachMatch reports every qualifying detection of a cycle.
	EachMatch
)

func (p Policy) String() string {
	switch p {
	case FirstMatch:
		return "first-match"
	case EachMatch:
		return "each-match"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a Poller.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
