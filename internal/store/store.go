package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rcowellai/old-recording-app/internal/capture"
)

// saveChunkSize is the write granularity used to report progress.
const saveChunkSize = 256 * 1024

// Recording is the metadata kept next to each saved artifact, persisted
// as a yaml sidecar.
type Recording struct {
	ID              string    `yaml:"id" json:"id"`
	Name            string    `yaml:"name" json:"name"`
	Mode            string    `yaml:"mode" json:"mode"`
	MimeType        string    `yaml:"mime_type" json:"mime_type"`
	Size            int64     `yaml:"size" json:"size"`
	DurationSeconds int       `yaml:"duration_seconds" json:"duration_seconds"`
	CreatedAt       time.Time `yaml:"created_at" json:"created_at"`

	// Path is resolved from the store directory on load, never persisted.
	Path string `yaml:"-" json:"-"`
}

// ProgressFunc receives nondecreasing fractions in [0,1]; the final call
// is always 1.
type ProgressFunc func(fraction float64)

// Store persists finished recordings in a single flat directory: the
// media file named by a fresh uuid plus a yaml sidecar with its metadata.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory recordings are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the artifact to disk and returns the identifier of the new
// recording. The file extension is derived from the artifact's MIME type.
func (s *Store) Save(artifact *capture.Artifact, name string, onProgress ProgressFunc) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("nothing to save: no artifact")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	id := uuid.NewString()
	mediaPath := filepath.Join(s.dir, id+"."+ExtensionForMime(artifact.MimeType))

	if err := writeInChunks(mediaPath, artifact.Data, onProgress); err != nil {
		return "", fmt.Errorf("failed to write recording %s: %w", id, err)
	}

	rec := Recording{
		ID:              id,
		Name:            name,
		Mode:            string(artifact.Mode),
		MimeType:        artifact.MimeType,
		Size:            int64(len(artifact.Data)),
		DurationSeconds: artifact.Duration,
		CreatedAt:       time.Now(),
	}
	if err := s.writeSidecar(rec); err != nil {
		os.Remove(mediaPath)
		return "", err
	}

	slog.Info("Recording saved", "id", id, "name", name, "bytes", rec.Size, "path", mediaPath)
	return id, nil
}

// List returns all saved recordings, newest first.
func (s *Store) List() ([]Recording, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recordings []Recording
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		rec, err := s.readSidecar(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			slog.Warn("Skipping unreadable recording metadata", "file", entry.Name(), "error", err)
			continue
		}
		recordings = append(recordings, rec)
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].CreatedAt.After(recordings[j].CreatedAt)
	})
	return recordings, nil
}

// Get returns the recording with the given identifier.
func (s *Store) Get(id string) (*Recording, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	rec, err := s.readSidecar(filepath.Join(s.dir, id+".yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("recording not found: %s", id)
		}
		return nil, err
	}
	return &rec, nil
}

// Delete removes a recording and its metadata.
func (s *Store) Delete(id string) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete recording %s: %w", id, err)
	}
	if err := os.Remove(filepath.Join(s.dir, id+".yaml")); err != nil {
		return fmt.Errorf("failed to delete recording metadata %s: %w", id, err)
	}
	slog.Info("Recording deleted", "id", id)
	return nil
}

func (s *Store) writeSidecar(rec Recording) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recording metadata: %w", err)
	}
	path := filepath.Join(s.dir, rec.ID+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write recording metadata: %w", err)
	}
	return nil
}

func (s *Store) readSidecar(path string) (Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Recording{}, err
	}
	var rec Recording
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return Recording{}, fmt.Errorf("failed to parse recording metadata %s: %w", path, err)
	}
	rec.Path = filepath.Join(s.dir, rec.ID+"."+ExtensionForMime(rec.MimeType))
	return rec, nil
}

// validID rejects identifiers that could escape the store directory.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid recording identifier: %q", id)
	}
	return nil
}

// writeInChunks writes data in fixed-size pieces, reporting progress after
// each one. An empty payload still reports completion.
func writeInChunks(path string, data []byte, onProgress ProgressFunc) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	total := len(data)
	written := 0
	for written < total {
		end := written + saveChunkSize
		if end > total {
			end = total
		}
		if _, err := f.Write(data[written:end]); err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
		written = end
		if onProgress != nil {
			onProgress(float64(written) / float64(total))
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	if total == 0 && onProgress != nil {
		onProgress(1)
	}
	return nil
}

// ExtensionForMime maps a negotiated MIME type to the file extension the
// container conventionally uses.
func ExtensionForMime(mimeType string) string {
	base := mimeType
	if idx := strings.Index(base, ";"); idx != -1 {
		base = base[:idx]
	}
	base = strings.ToLower(strings.TrimSpace(base))

	switch base {
	case "audio/mp4":
		return "m4a"
	case "video/mp4":
		return "mp4"
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/ogg", "application/ogg":
		return "ogg"
	default:
		return "bin"
	}
}
