package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rcowellai/old-recording-app/internal/capture"
	"github.com/rcowellai/old-recording-app/internal/config"
	"github.com/rcowellai/old-recording-app/internal/media"
	"github.com/rcowellai/old-recording-app/internal/store"
)

// Service is the surface the CLI and the HTTP server drive the recorder
// through.
type Service interface {
	// Session operations
	RequestAudio(ctx context.Context) error
	RequestVideo(ctx context.Context) error
	Begin() error
	Pause() error
	Resume() error
	Done() error
	Reset()
	Status() Status

	// Library operations
	SaveLast(name string, onProgress store.ProgressFunc) (string, error)
	ListRecordings() ([]store.Recording, error)
	GetRecording(id string) (*store.Recording, error)
	DeleteRecording(id string) error

	// Configuration operations
	Config() *config.Config
	CountdownSteps() <-chan string
	GetLastError() string

	// Close closes the countdown step channel so consumers ranging over
	// CountdownSteps exit.
	Close()
}

// Status is a point-in-time snapshot of the session for the UI layer.
type Status struct {
	State              string `json:"state"`
	Mode               string `json:"mode,omitempty"`
	ElapsedSeconds     int    `json:"elapsed_seconds"`
	MaxDurationSeconds int    `json:"max_duration_seconds"`
	CountdownStep      string `json:"countdown_step,omitempty"`
	MimeType           string `json:"mime_type,omitempty"`
	ArtifactBytes      int    `json:"artifact_bytes"`
	AutoFinalized      bool   `json:"auto_finalized"`
	LastError          string `json:"last_error,omitempty"`
}

// RecorderService is the main service implementation: one capture session
// built from the configuration, a store for finished artifacts, and a
// thread-safe last-error string for the UI.
type RecorderService struct {
	cfg     *config.Config
	session *capture.Session
	library *store.Store

	// Countdown steps are fanned out to whoever is listening; a full or
	// closed channel drops the step rather than stall the countdown.
	stepc      chan string
	stepMutex  sync.Mutex
	stepClosed bool

	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service wired to an ffmpeg-backed host.
func New(cfg *config.Config) Service {
	host := media.NewFFmpegHost(media.FFmpegOptions{
		BinaryPath:  cfg.FFmpeg.Binary,
		AudioDevice: cfg.Devices.Audio,
		VideoDevice: cfg.Devices.Video,
	})
	return NewWithHost(cfg, host)
}

// NewWithHost creates a service over an explicit host runtime.
func NewWithHost(cfg *config.Config, host media.Host) Service {
	s := &RecorderService{
		cfg:     cfg,
		library: store.New(cfg.Output.Directory),
		stepc:   make(chan string, 16),
	}
	s.session = capture.NewSession(capture.Options{
		Host:           host,
		MaxDuration:    cfg.Recording.MaxDurationSeconds,
		CountdownSteps: cfg.Recording.CountdownSteps,
		TickInterval:   cfg.Recording.TickInterval,
		AudioFormats:   cfg.Formats.Audio,
		VideoFormats:   cfg.Formats.Video,
		OnCountdownStep: s.pushStep,
		OnError: func(cerr *capture.Error) {
			s.setLastError(cerr.Message)
		},
		OnFinalized: func(auto bool) {
			if auto {
				slog.Info("Duration cap reached, recording finished automatically")
			}
		},
	})
	return s
}

// RequestAudio acquires the microphone (IDLE -> STREAM_READY).
func (s *RecorderService) RequestAudio(ctx context.Context) error {
	s.clearLastError()
	return s.recordError(s.session.RequestAudio(ctx))
}

// RequestVideo acquires camera and microphone (IDLE -> STREAM_READY).
func (s *RecorderService) RequestVideo(ctx context.Context) error {
	s.clearLastError()
	return s.recordError(s.session.RequestVideo(ctx))
}

// Begin starts the countdown into a new recording.
func (s *RecorderService) Begin() error {
	s.clearLastError()
	return s.recordError(s.session.Begin())
}

func (s *RecorderService) Pause() error {
	return s.recordError(s.session.Pause())
}

func (s *RecorderService) Resume() error {
	return s.recordError(s.session.Resume())
}

// Done stops the recording and assembles the artifact.
func (s *RecorderService) Done() error {
	return s.recordError(s.session.Done())
}

// Reset discards the session and returns to idle.
func (s *RecorderService) Reset() {
	s.session.Reset()
	s.clearLastError()
}

// Status returns the current session snapshot.
func (s *RecorderService) Status() Status {
	var artifactBytes int
	if artifact := s.session.Artifact(); artifact != nil {
		artifactBytes = artifact.Size()
	}
	return Status{
		State:              string(s.session.State()),
		Mode:               string(s.session.Mode()),
		ElapsedSeconds:     s.session.Elapsed(),
		MaxDurationSeconds: s.session.MaxDuration(),
		CountdownStep:      s.session.CountdownStep(),
		MimeType:           s.session.MimeType(),
		ArtifactBytes:      artifactBytes,
		AutoFinalized:      s.session.AutoFinalized(),
		LastError:          s.GetLastError(),
	}
}

// SaveLast persists the artifact of the stopped session and returns its
// identifier.
func (s *RecorderService) SaveLast(name string, onProgress store.ProgressFunc) (string, error) {
	artifact := s.session.Artifact()
	if artifact == nil {
		err := fmt.Errorf("no finished recording to save, current state: %s", s.session.State())
		s.setLastError(err.Error())
		return "", err
	}
	id, err := s.library.Save(artifact, name, onProgress)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", err))
		return "", err
	}
	return id, nil
}

// ListRecordings returns the saved library, newest first.
func (s *RecorderService) ListRecordings() ([]store.Recording, error) {
	return s.library.List()
}

func (s *RecorderService) GetRecording(id string) (*store.Recording, error) {
	return s.library.Get(id)
}

func (s *RecorderService) DeleteRecording(id string) error {
	return s.library.Delete(id)
}

// Config returns the configuration the service was built from.
func (s *RecorderService) Config() *config.Config {
	return s.cfg
}

// CountdownSteps exposes countdown steps as they fire; an empty string
// clears the display.
func (s *RecorderService) CountdownSteps() <-chan string {
	return s.stepc
}

// Close closes the countdown step channel so consumers ranging over
// CountdownSteps exit. Steps fired after Close are dropped. Safe to call
// more than once.
func (s *RecorderService) Close() {
	s.stepMutex.Lock()
	defer s.stepMutex.Unlock()
	if s.stepClosed {
		return
	}
	s.stepClosed = true
	close(s.stepc)
}

func (s *RecorderService) pushStep(step string) {
	s.stepMutex.Lock()
	defer s.stepMutex.Unlock()
	if s.stepClosed {
		return
	}
	select {
	case s.stepc <- step:
	default:
	}
}

// GetLastError returns the last error message (thread-safe).
func (s *RecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// recordError mirrors a failed transition into the last-error slot so the
// UI sees it on the next status poll.
func (s *RecorderService) recordError(err error) error {
	if err != nil {
		s.setLastError(err.Error())
	}
	return err
}

func (s *RecorderService) setLastError(msg string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = msg
}

func (s *RecorderService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
