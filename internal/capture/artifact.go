package capture

import (
	"github.com/rcowellai/old-recording-app/internal/media"
)

// Artifact is the final assembled recording: the chunk buffer concatenated
// in arrival order, tagged with the negotiated MIME type. Immutable once
// created; a new recording attempt supersedes it rather than merging.
type Artifact struct {
	Data     []byte
	MimeType string
	Mode     media.Mode
	Duration int // recorded seconds, pauses excluded
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

func assembleArtifact(chunks [][]byte, mimeType string, mode media.Mode, duration int) *Artifact {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}

	data := make([]byte, 0, total)
	for _, c := range chunks {
		data = append(data, c...)
	}

	return &Artifact{
		Data:     data,
		MimeType: mimeType,
		Mode:     mode,
		Duration: duration,
	}
}
