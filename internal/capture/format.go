package capture

import (
	"log/slog"

	"github.com/rcowellai/old-recording-app/internal/media"
)

// SelectFormat probes each candidate MIME type against the host capability
// check in preference order and returns the first match. An empty return
// means no explicit match; the caller proceeds with the host default.
// Absence of a match is not an error, but audio quality is sensitive to
// the default choice so the audio fallback is logged as a warning.
func SelectFormat(mode media.Mode, candidates []string, supports func(string) bool) string {
	for _, candidate := range candidates {
		if supports(candidate) {
			slog.Debug("Recording format negotiated", "mode", mode, "mime", candidate)
			return candidate
		}
	}

	if mode == media.ModeAudio {
		slog.Warn("No preferred audio format supported, falling back to host default", "candidates", candidates)
	} else {
		slog.Debug("No preferred video format supported, falling back to host default", "candidates", candidates)
	}
	return ""
}
