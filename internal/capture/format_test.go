package capture

import (
	"testing"

	"github.com/rcowellai/old-recording-app/internal/media"
)

func supportsOnly(supported ...string) func(string) bool {
	set := map[string]bool{}
	for _, s := range supported {
		set[s] = true
	}
	return func(m string) bool { return set[m] }
}

func TestSelectFormat_FirstSupportedWins(t *testing.T) {
	candidates := []string{"video/mp4;codecs=h264", "video/webm;codecs=vp8,opus"}

	got := SelectFormat(media.ModeVideo, candidates, supportsOnly(candidates...))
	if got != candidates[0] {
		t.Errorf("Expected first candidate %q, got %q", candidates[0], got)
	}
}

func TestSelectFormat_FallsThroughToSecond(t *testing.T) {
	candidates := []string{"audio/mp4;codecs=aac", "audio/webm;codecs=opus"}

	got := SelectFormat(media.ModeAudio, candidates, supportsOnly("audio/webm;codecs=opus"))
	if got != "audio/webm;codecs=opus" {
		t.Errorf("Expected second candidate, got %q", got)
	}
}

func TestSelectFormat_NoMatchReturnsEmpty(t *testing.T) {
	candidates := []string{"audio/mp4;codecs=aac", "audio/webm;codecs=opus"}

	if got := SelectFormat(media.ModeAudio, candidates, supportsOnly()); got != "" {
		t.Errorf("Expected empty result for no match, got %q", got)
	}
	if got := SelectFormat(media.ModeVideo, nil, supportsOnly()); got != "" {
		t.Errorf("Expected empty result for empty candidate list, got %q", got)
	}
}
