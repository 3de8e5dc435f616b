package media

import (
	"context"
	"errors"
)

// Mode selects what a capture session records.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

// Sentinel errors reported by host implementations. The capture error
// classifier matches on these before falling back to message heuristics.
var (
	ErrPermissionDenied     = errors.New("permission denied by host")
	ErrNoDevice             = errors.New("no capture device available")
	ErrUnsupported          = errors.New("requested format not supported")
	ErrInvalidConfiguration = errors.New("invalid capture configuration")
)

// DataFunc receives encoded media chunks as the recorder emits them.
// Chunks are delivered strictly in emission order.
type DataFunc func([]byte)

// Track is a single live device track within a stream. Each track is
// stopped individually so one failing release does not block the others.
type Track interface {
	Kind() string
	Stop() error
}

// Stream is an opaque handle to live device tracks. It is owned
// exclusively by the capture session while active.
type Stream interface {
	Mode() Mode
	Tracks() []Track
}

// Recorder is the active encoder bound to a stream. At most one live
// recorder exists per session. Stop flushes the final chunk through the
// recorder's DataFunc before returning.
type Recorder interface {
	Start() error
	Pause() error
	Resume() error
	Stop() error
	MimeType() string
}

// Host abstracts the runtime that grants device access, probes encoding
// capability and constructs recorders. It is injected into the capture
// session so tests can substitute a scripted implementation.
type Host interface {
	// RequestStream acquires a live device stream for the given mode.
	// Failures are reported with the sentinel errors above where the
	// cause is identifiable.
	RequestStream(ctx context.Context, mode Mode) (Stream, error)

	// Supports reports whether the host can encode the given MIME type.
	// It never fails; an unsupported type is not an error.
	Supports(mimeType string) bool

	// NewRecorder binds an encoder to the stream. An empty mimeType
	// selects the host's default format for the stream's mode.
	NewRecorder(s Stream, mimeType string, onData DataFunc) (Recorder, error)
}
