package capture

import (
	"errors"
	"strings"
	"time"

	"github.com/rcowellai/old-recording-app/internal/media"
)

// Kind is the closed taxonomy of capture failures surfaced to the UI.
type Kind string

const (
	KindPermissionDenied     Kind = "PERMISSION_DENIED"
	KindNoDevice             Kind = "NO_DEVICE"
	KindUnsupported          Kind = "UNSUPPORTED"
	KindInvalidConfiguration Kind = "INVALID_CONFIGURATION"
	KindUnknown              Kind = "UNKNOWN"
)

// Error is a classified capture failure. Cause is the original host
// failure, kept for diagnostics only; callers act on Kind and Message.
type Error struct {
	Kind    Kind
	Message string
	Time    time.Time
	Cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the same request may simply be tried again.
// Unsupported failures need a mode switch first.
func (e *Error) Retryable() bool {
	return e.Kind == KindPermissionDenied || e.Kind == KindNoDevice || e.Kind == KindUnknown
}

// Classify maps a host failure into the closed taxonomy. Sentinel errors
// from the media package identify the kind directly; everything else is
// matched on message keywords. Classify never panics and performs no I/O.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	kind := KindUnknown
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		kind = KindPermissionDenied
	case errors.Is(err, media.ErrNoDevice):
		kind = KindNoDevice
	case errors.Is(err, media.ErrUnsupported):
		kind = KindUnsupported
	case errors.Is(err, media.ErrInvalidConfiguration):
		kind = KindInvalidConfiguration
	default:
		kind = kindFromMessage(err.Error())
	}

	return &Error{
		Kind:    kind,
		Message: messageFor(kind),
		Time:    time.Now(),
		Cause:   err,
	}
}

func kindFromMessage(msg string) Kind {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "not allowed"),
		strings.Contains(msg, "access denied"):
		return KindPermissionDenied
	case strings.Contains(msg, "no such device"),
		strings.Contains(msg, "no such file"),
		strings.Contains(msg, "device not found"),
		strings.Contains(msg, "no capture device"):
		return KindNoDevice
	case strings.Contains(msg, "not supported"),
		strings.Contains(msg, "unsupported"):
		return KindUnsupported
	case strings.Contains(msg, "invalid"):
		return KindInvalidConfiguration
	}
	return KindUnknown
}

func messageFor(kind Kind) string {
	switch kind {
	case KindPermissionDenied:
		return "Access to the capture device was denied. Grant permission and try again."
	case KindNoDevice:
		return "No capture device was found. Connect a microphone or camera and try again."
	case KindUnsupported:
		return "The requested recording format is not supported on this system."
	case KindInvalidConfiguration:
		return "The recording configuration is invalid. Check the configured devices and formats."
	}
	return "Recording failed due to an unexpected error."
}
