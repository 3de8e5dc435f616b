package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcowellai/old-recording-app/internal/media"
)

// State represents the current phase of a capture session.
type State string

const (
	StateIdle               State = "IDLE"
	StateAwaitingPermission State = "AWAITING_PERMISSION"
	StateStreamReady        State = "STREAM_READY"
	StateCountingDown       State = "COUNTING_DOWN"
	StateRecording          State = "RECORDING"
	StatePaused             State = "PAUSED"
	StateStopped            State = "STOPPED"
)

// Options configures a capture session.
type Options struct {
	Host           media.Host
	MaxDuration    int           // hard cap in recorded seconds
	CountdownSteps []string      // displayed one per tick before capture (re)starts
	TickInterval   time.Duration // elapsed-time and countdown tick, default 1s

	AudioFormats []string // ranked MIME candidates for audio sessions
	VideoFormats []string // ranked MIME candidates for video sessions

	// OnCountdownStep reports the step being displayed; an empty step
	// clears the display.
	OnCountdownStep func(step string)
	// OnError reports failures that happen after the triggering call has
	// returned, such as recorder construction after the countdown.
	OnError func(*Error)
	// OnFinalized fires exactly once per completed recording; auto is
	// true when the duration cap forced the stop.
	OnFinalized func(auto bool)
}

// Session drives one capture lifecycle: it owns the device stream and the
// single live recorder, runs the countdown-gated start/pause/resume/stop
// transitions, enforces the duration cap and assembles the final artifact.
// All methods are safe for concurrent use.
type Session struct {
	host      media.Host
	opts      Options
	countdown *countdown

	mu              sync.Mutex
	state           State
	mode            media.Mode
	stream          media.Stream
	recorder        media.Recorder
	mimeType        string
	elapsed         int
	artifact        *Artifact
	autoFinalized   bool
	countdownStep   string
	cancelCountdown func()
	tickerStop      chan struct{}
	gen             uint64 // recording attempt counter, guards stale callbacks

	chunkMu  sync.Mutex
	chunks   [][]byte
	chunkGen uint64 // attempt allowed to append; 0 accepts nothing
}

// NewSession creates an idle session bound to the given host.
func NewSession(opts Options) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 30
	}
	if len(opts.CountdownSteps) == 0 {
		opts.CountdownSteps = []string{"3", "2", "1", "BEGIN"}
	}

	s := &Session{
		host:  opts.Host,
		opts:  opts,
		state: StateIdle,
	}
	s.countdown = newCountdown(opts.TickInterval, func(step string) {
		s.mu.Lock()
		s.countdownStep = step
		s.mu.Unlock()
		if opts.OnCountdownStep != nil {
			opts.OnCountdownStep(step)
		}
	})
	return s
}

// RequestAudio acquires a microphone stream for an audio-only session.
func (s *Session) RequestAudio(ctx context.Context) error {
	return s.request(ctx, media.ModeAudio)
}

// RequestVideo acquires camera and microphone streams for a video session.
func (s *Session) RequestVideo(ctx context.Context) error {
	return s.request(ctx, media.ModeVideo)
}

func (s *Session) request(ctx context.Context, mode media.Mode) error {
	s.mu.Lock()
	switch s.state {
	case StateAwaitingPermission:
		// A grant attempt is already outstanding; never start a second
		// parallel one.
		s.mu.Unlock()
		return nil
	case StateIdle:
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("can only request a stream from idle state, current: %s", st)
	}
	s.state = StateAwaitingPermission
	s.mode = mode
	s.mu.Unlock()

	stream, err := s.host.RequestStream(ctx, mode)

	s.mu.Lock()
	if s.state != StateAwaitingPermission {
		// Reset raced the grant; release whatever was acquired.
		s.mu.Unlock()
		releaseStream(stream)
		return nil
	}
	if err != nil {
		s.state = StateIdle
		s.mode = ""
		s.mu.Unlock()
		cerr := Classify(err)
		slog.Error("Device stream request failed", "mode", mode, "kind", cerr.Kind, "error", err)
		return cerr
	}
	s.stream = stream
	s.state = StateStreamReady
	s.mu.Unlock()

	slog.Debug("Device stream ready", "mode", mode)
	return nil
}

// Begin starts the countdown; capture begins when it completes. Recorder
// construction failures are reported through OnError and return the
// session to StreamReady so Begin can be retried without a new grant.
func (s *Session) Begin() error {
	s.mu.Lock()
	if s.state != StateStreamReady {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("can only begin recording from stream-ready state, current: %s", st)
	}
	s.state = StateCountingDown
	s.mu.Unlock()

	s.startCountdown(s.beginAttempt)
	return nil
}

// Pause suspends the recorder and freezes the elapsed counter. Chunks
// captured so far are preserved.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateRecording {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("can only pause from recording state, current: %s", st)
	}
	s.state = StatePaused
	rec := s.recorder
	s.stopTickerLocked()
	s.mu.Unlock()

	if err := rec.Pause(); err != nil {
		cerr := Classify(err)
		slog.Error("Recorder pause failed", "kind", cerr.Kind, "error", err)
		return cerr
	}
	slog.Debug("Recording paused", "elapsed", s.Elapsed())
	return nil
}

// Resume plays a fresh countdown and then continues the paused recording.
// The elapsed counter carries on from its preserved value.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("can only resume from paused state, current: %s", st)
	}
	s.state = StateCountingDown
	s.mu.Unlock()

	s.startCountdown(s.resumeAttempt)
	return nil
}

// Done stops the recording and assembles the artifact. Finalize is
// idempotent: if the duration cap fired first, Done is a no-op.
func (s *Session) Done() error {
	return s.finalize(false)
}

// Reset force-stops any live recorder, releases every device track and
// discards chunks and artifact, returning the session to Idle. Each
// release is isolated so one failure does not block the others.
func (s *Session) Reset() {
	s.mu.Lock()
	rec := s.recorder
	stream := s.stream
	cancel := s.cancelCountdown
	s.stopTickerLocked()
	s.recorder = nil
	s.stream = nil
	s.cancelCountdown = nil
	s.state = StateIdle
	s.mode = ""
	s.mimeType = ""
	s.elapsed = 0
	s.artifact = nil
	s.autoFinalized = false
	s.countdownStep = ""
	s.gen++
	s.mu.Unlock()

	s.chunkMu.Lock()
	s.chunkGen = 0
	s.chunks = nil
	s.chunkMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rec != nil {
		if err := rec.Stop(); err != nil {
			slog.Warn("Recorder stop failed during reset", "error", err)
		}
	}
	releaseStream(stream)
	slog.Debug("Session reset to idle")
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the selected capture mode, empty while idle.
func (s *Session) Mode() media.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Elapsed returns the recorded seconds so far, pauses excluded.
func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// MimeType returns the negotiated MIME type of the live or finished
// recording, verbatim as the recorder reported it.
func (s *Session) MimeType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mimeType
}

// Artifact returns the assembled recording once the session has stopped,
// nil before that.
func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Stream exposes the live device stream for preview rendering only.
func (s *Session) Stream() media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// AutoFinalized reports whether the duration cap, rather than a manual
// stop, ended the last recording.
func (s *Session) AutoFinalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoFinalized
}

// CountdownStep returns the step currently displayed, empty outside a
// countdown.
func (s *Session) CountdownStep() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countdownStep
}

// MaxDuration returns the configured duration cap in seconds.
func (s *Session) MaxDuration() int {
	return s.opts.MaxDuration
}

func (s *Session) startCountdown(onComplete func()) {
	cancel := s.countdown.start(s.opts.CountdownSteps, onComplete)
	s.mu.Lock()
	s.cancelCountdown = cancel
	s.mu.Unlock()
}

// beginAttempt runs when the initial countdown completes: negotiate the
// format, build the recorder, replace the chunk buffer and start ticking.
func (s *Session) beginAttempt() {
	s.mu.Lock()
	if s.state != StateCountingDown || s.recorder != nil {
		s.mu.Unlock()
		return
	}
	stream := s.stream
	mode := s.mode
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	mimeType := SelectFormat(mode, s.candidatesFor(mode), s.host.Supports)

	onData := func(p []byte) {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		s.chunkMu.Lock()
		if s.chunkGen == gen {
			s.chunks = append(s.chunks, chunk)
		}
		s.chunkMu.Unlock()
	}

	rec, err := s.host.NewRecorder(stream, mimeType, onData)
	if err != nil {
		s.failAttempt(err)
		return
	}

	// A new attempt replaces the previous buffer, never merges into it.
	s.chunkMu.Lock()
	s.chunks = nil
	s.chunkGen = gen
	s.chunkMu.Unlock()

	s.mu.Lock()
	if s.state != StateCountingDown {
		s.mu.Unlock()
		rec.Stop()
		return
	}
	s.recorder = rec
	s.mimeType = rec.MimeType()
	s.elapsed = 0
	s.artifact = nil
	s.autoFinalized = false
	s.mu.Unlock()

	if err := rec.Start(); err != nil {
		s.mu.Lock()
		s.recorder = nil
		s.mu.Unlock()
		s.failAttempt(err)
		return
	}

	s.mu.Lock()
	if s.state != StateCountingDown {
		// Reset or finalize won while the recorder was starting.
		s.mu.Unlock()
		rec.Stop()
		return
	}
	s.state = StateRecording
	stop := make(chan struct{})
	s.tickerStop = stop
	s.mu.Unlock()

	go s.runTicker(gen, stop)
	slog.Info("Recording started", "mode", mode, "mime", rec.MimeType())
}

// resumeAttempt runs when a resume countdown completes.
func (s *Session) resumeAttempt() {
	s.mu.Lock()
	if s.state != StateCountingDown || s.recorder == nil {
		s.mu.Unlock()
		return
	}
	rec := s.recorder
	gen := s.gen
	s.mu.Unlock()

	if err := rec.Resume(); err != nil {
		s.mu.Lock()
		if s.state != StateCountingDown {
			// Finalize or reset won while the recorder was resuming; the
			// failure is moot and must not surface as a session error.
			s.mu.Unlock()
			slog.Debug("Ignoring resume failure on finished session", "error", err)
			return
		}
		s.state = StatePaused
		s.mu.Unlock()
		cerr := Classify(err)
		slog.Error("Recorder resume failed", "kind", cerr.Kind, "error", err)
		if s.opts.OnError != nil {
			s.opts.OnError(cerr)
		}
		return
	}

	s.mu.Lock()
	if s.state != StateCountingDown {
		s.mu.Unlock()
		return
	}
	s.state = StateRecording
	stop := make(chan struct{})
	s.tickerStop = stop
	s.mu.Unlock()

	go s.runTicker(gen, stop)
	slog.Debug("Recording resumed", "elapsed", s.Elapsed())
}

// failAttempt returns the session to StreamReady after a recorder failure
// so the user can retry without re-granting device permission.
func (s *Session) failAttempt(err error) {
	cerr := Classify(err)

	s.mu.Lock()
	if s.state == StateCountingDown {
		s.state = StateStreamReady
	}
	s.mu.Unlock()

	s.chunkMu.Lock()
	s.chunkGen = 0
	s.chunkMu.Unlock()

	slog.Error("Recording attempt failed", "kind", cerr.Kind, "error", err)
	if s.opts.OnError != nil {
		s.opts.OnError(cerr)
	}
}

// runTicker advances the elapsed counter once per tick while recording
// and triggers finalize the instant the cap is reached. The generation
// check drops ticks that outlive their attempt.
func (s *Session) runTicker(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state != StateRecording || s.gen != gen {
				s.mu.Unlock()
				return
			}
			s.elapsed++
			reached := s.elapsed >= s.opts.MaxDuration
			s.mu.Unlock()

			if reached {
				if err := s.finalize(true); err != nil {
					slog.Error("Automatic finalize failed", "error", err)
				}
				return
			}
		}
	}
}

// finalize performs the single Stopped transition: stop the recorder
// (flushing its final chunk), release every device track, assemble the
// artifact from the chunk buffer. First stop wins; later requests are
// no-ops.
func (s *Session) finalize(auto bool) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateRecording, StatePaused:
	case StateCountingDown:
		if s.recorder == nil {
			st := s.state
			s.mu.Unlock()
			if auto {
				return nil
			}
			return fmt.Errorf("can only finish from recording or paused state, current: %s", st)
		}
		// A resume countdown is in flight; finish from the paused capture.
	default:
		st := s.state
		s.mu.Unlock()
		if auto {
			return nil
		}
		return fmt.Errorf("can only finish from recording or paused state, current: %s", st)
	}

	s.state = StateStopped
	rec := s.recorder
	stream := s.stream
	cancel := s.cancelCountdown
	s.recorder = nil
	s.stream = nil
	s.cancelCountdown = nil
	s.stopTickerLocked()
	mimeType := s.mimeType
	mode := s.mode
	duration := s.elapsed
	gen := s.gen
	s.autoFinalized = auto
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Stop the recorder before reading the buffer so its final chunk is
	// flushed and counted.
	if rec != nil {
		if err := rec.Stop(); err != nil {
			slog.Warn("Recorder stop failed, assembling from received chunks", "error", err)
		}
	}
	releaseStream(stream)

	s.chunkMu.Lock()
	s.chunkGen = 0
	chunks := s.chunks
	s.chunks = nil
	s.chunkMu.Unlock()

	artifact := assembleArtifact(chunks, mimeType, mode, duration)

	s.mu.Lock()
	if s.state != StateStopped || s.gen != gen {
		// Reset ran while the recorder was draining; the take is discarded.
		s.mu.Unlock()
		slog.Info("Recording discarded by reset during finalize", "mode", mode)
		return nil
	}
	s.artifact = artifact
	s.mu.Unlock()

	slog.Info("Recording finished",
		"mode", mode, "mime", mimeType, "seconds", duration,
		"bytes", artifact.Size(), "auto", auto)

	if s.opts.OnFinalized != nil {
		s.opts.OnFinalized(auto)
	}
	return nil
}

func (s *Session) stopTickerLocked() {
	if s.tickerStop != nil {
		close(s.tickerStop)
		s.tickerStop = nil
	}
}

func (s *Session) candidatesFor(mode media.Mode) []string {
	if mode == media.ModeVideo {
		return s.opts.VideoFormats
	}
	return s.opts.AudioFormats
}

// releaseStream stops every track, each in its own failure boundary.
func releaseStream(stream media.Stream) {
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		if err := t.Stop(); err != nil {
			slog.Warn("Failed to stop device track", "kind", t.Kind(), "error", err)
		}
	}
}
