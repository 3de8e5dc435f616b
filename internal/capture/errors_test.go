package capture

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rcowellai/old-recording-app/internal/media"
)

func TestClassify_SentinelErrors(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{fmt.Errorf("%w: /dev/video0", media.ErrPermissionDenied), KindPermissionDenied},
		{fmt.Errorf("%w: /dev/video0", media.ErrNoDevice), KindNoDevice},
		{fmt.Errorf("%w: codec vp9", media.ErrUnsupported), KindUnsupported},
		{fmt.Errorf("%w: empty device", media.ErrInvalidConfiguration), KindInvalidConfiguration},
	}

	for _, tc := range cases {
		got := Classify(tc.err)
		if got.Kind != tc.kind {
			t.Errorf("Classify(%v): expected kind %s, got %s", tc.err, tc.kind, got.Kind)
		}
		if got.Message == "" {
			t.Errorf("Classify(%v): expected non-empty message", tc.err)
		}
		if got.Time.IsZero() {
			t.Errorf("Classify(%v): expected timestamp to be set", tc.err)
		}
		if !errors.Is(got, tc.err) {
			t.Errorf("Classify(%v): expected original cause to be preserved", tc.err)
		}
	}
}

func TestClassify_MessageHeuristics(t *testing.T) {
	cases := []struct {
		msg  string
		kind Kind
	}{
		{"open /dev/snd: permission denied", KindPermissionDenied},
		{"capture request not allowed by user", KindPermissionDenied},
		{"open /dev/video0: no such file or directory", KindNoDevice},
		{"alsa device not found", KindNoDevice},
		{"container mkv is not supported", KindUnsupported},
		{"invalid sample rate 0", KindInvalidConfiguration},
		{"something exploded", KindUnknown},
	}

	for _, tc := range cases {
		got := Classify(errors.New(tc.msg))
		if got.Kind != tc.kind {
			t.Errorf("Classify(%q): expected kind %s, got %s", tc.msg, tc.kind, got.Kind)
		}
	}
}

func TestClassify_NilAndAlreadyClassified(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Errorf("Expected nil for nil error, got %+v", got)
	}

	original := Classify(fmt.Errorf("%w: mic", media.ErrNoDevice))
	wrapped := fmt.Errorf("request failed: %w", original)
	if got := Classify(wrapped); got != original {
		t.Errorf("Expected already-classified error to pass through, got %+v", got)
	}
}

func TestError_Retryable(t *testing.T) {
	if !Classify(fmt.Errorf("%w", media.ErrPermissionDenied)).Retryable() {
		t.Error("Expected permission errors to be retryable")
	}
	if !Classify(fmt.Errorf("%w", media.ErrNoDevice)).Retryable() {
		t.Error("Expected device errors to be retryable")
	}
	if Classify(fmt.Errorf("%w", media.ErrUnsupported)).Retryable() {
		t.Error("Expected unsupported errors to require a mode switch, not a retry")
	}
}
