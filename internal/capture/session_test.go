package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rcowellai/old-recording-app/internal/media"
)

type fakeTrack struct {
	mu      sync.Mutex
	kind    string
	stopped bool
	stopErr error
}

func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return t.stopErr
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeStream struct {
	mode   media.Mode
	tracks []media.Track
}

func (s *fakeStream) Mode() media.Mode      { return s.mode }
func (s *fakeStream) Tracks() []media.Track { return s.tracks }

type fakeRecorder struct {
	mu            sync.Mutex
	mimeType      string
	onData        media.DataFunc
	emitOnStart   [][]byte
	finalChunk    []byte
	startErr      error
	resumeErr     error
	started       bool
	paused        bool
	stopped       bool
	stopEntered   chan struct{} // closed when Stop begins draining
	stopGate      chan struct{} // when set, Stop blocks until closed
	resumeEntered chan struct{} // closed when Resume is called
	resumeGate    chan struct{} // when set, Resume blocks until closed
}

func (r *fakeRecorder) MimeType() string { return r.mimeType }

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	if r.startErr != nil {
		err := r.startErr
		r.mu.Unlock()
		return err
	}
	r.started = true
	emit := r.emitOnStart
	onData := r.onData
	r.mu.Unlock()

	for _, chunk := range emit {
		onData(chunk)
	}
	return nil
}

func (r *fakeRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
	return nil
}

func (r *fakeRecorder) Resume() error {
	r.mu.Lock()
	err := r.resumeErr
	entered := r.resumeEntered
	gate := r.resumeGate
	r.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	final := r.finalChunk
	onData := r.onData
	entered := r.stopEntered
	gate := r.stopGate
	r.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	if len(final) > 0 && onData != nil {
		onData(final)
	}
	return nil
}

func (r *fakeRecorder) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

type fakeHost struct {
	mu          sync.Mutex
	supported   map[string]bool
	defaultMime string
	streamErr   error
	recorderErr error
	startErr    error
	resumeErr   error
	emitOnStart [][]byte
	finalChunk  []byte
	gate        chan struct{} // when set, RequestStream blocks until closed

	requests     int
	recorders    int
	lastStream   *fakeStream
	lastRecorder *fakeRecorder
}

func (h *fakeHost) RequestStream(ctx context.Context, mode media.Mode) (media.Stream, error) {
	h.mu.Lock()
	h.requests++
	gate := h.gate
	err := h.streamErr
	h.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	tracks := []media.Track{&fakeTrack{kind: "audio"}}
	if mode == media.ModeVideo {
		tracks = append(tracks, &fakeTrack{kind: "video"})
	}
	stream := &fakeStream{mode: mode, tracks: tracks}

	h.mu.Lock()
	h.lastStream = stream
	h.mu.Unlock()
	return stream, nil
}

func (h *fakeHost) Supports(mimeType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.supported[mimeType]
}

func (h *fakeHost) NewRecorder(s media.Stream, mimeType string, onData media.DataFunc) (media.Recorder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recorders++
	if h.recorderErr != nil {
		return nil, h.recorderErr
	}
	if mimeType == "" {
		mimeType = h.defaultMime
	}
	rec := &fakeRecorder{
		mimeType:    mimeType,
		onData:      onData,
		emitOnStart: h.emitOnStart,
		finalChunk:  h.finalChunk,
		startErr:    h.startErr,
		resumeErr:   h.resumeErr,
	}
	h.lastRecorder = rec
	return rec, nil
}

func (h *fakeHost) requestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests
}

func (h *fakeHost) recorderCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recorders
}

func (h *fakeHost) recorder() *fakeRecorder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastRecorder
}

func (h *fakeHost) stream() *fakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastStream
}

func newTestSession(host *fakeHost, maxDuration int, extra ...func(*Options)) *Session {
	opts := Options{
		Host:           host,
		MaxDuration:    maxDuration,
		CountdownSteps: []string{"3", "2", "1", "BEGIN"},
		TickInterval:   testTick,
		AudioFormats:   []string{"audio/mp4;codecs=aac", "audio/webm;codecs=opus"},
		VideoFormats:   []string{"video/mp4;codecs=h264", "video/webm;codecs=vp8,opus"},
	}
	for _, fn := range extra {
		fn(&opts)
	}
	return NewSession(opts)
}

func TestSession_FullLifecycleAssemblesArtifactInOrder(t *testing.T) {
	host := &fakeHost{
		supported:   map[string]bool{"audio/mp4;codecs=aac": true},
		emitOnStart: [][]byte{[]byte("alpha-"), []byte("beta-")},
		finalChunk:  []byte("omega"),
	}
	s := newTestSession(host, 30)

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if got := s.State(); got != StateStreamReady {
		t.Fatalf("Expected STREAM_READY after grant, got %s", got)
	}

	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if got := s.State(); got != StateCountingDown {
		t.Errorf("Expected COUNTING_DOWN after Begin, got %s", got)
	}

	waitFor(t, "recording to start", func() bool { return s.State() == StateRecording })
	if got := s.MimeType(); got != "audio/mp4;codecs=aac" {
		t.Errorf("Expected negotiated MIME type, got %q", got)
	}

	if err := s.Done(); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	if got := s.State(); got != StateStopped {
		t.Fatalf("Expected STOPPED after Done, got %s", got)
	}

	artifact := s.Artifact()
	if artifact == nil {
		t.Fatal("Expected artifact after stop")
	}
	want := []byte("alpha-beta-omega")
	if !bytes.Equal(artifact.Data, want) {
		t.Errorf("Expected artifact %q (chunks in arrival order), got %q", want, artifact.Data)
	}
	if artifact.MimeType != "audio/mp4;codecs=aac" {
		t.Errorf("Expected artifact MIME to match negotiation, got %q", artifact.MimeType)
	}

	if rec := host.recorder(); rec == nil || !rec.isStopped() {
		t.Error("Expected recorder to be stopped after Done")
	}
	for _, tr := range host.stream().tracks {
		if !tr.(*fakeTrack).isStopped() {
			t.Errorf("Expected %s track to be released after Done", tr.Kind())
		}
	}
}

func TestSession_NegotiationFallsBackToSupportedCandidate(t *testing.T) {
	// Host supports only the second audio candidate.
	host := &fakeHost{supported: map[string]bool{"audio/webm;codecs=opus": true}}
	s := newTestSession(host, 30)

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	waitFor(t, "recording to start", func() bool { return s.State() == StateRecording })

	if got := s.MimeType(); got != "audio/webm;codecs=opus" {
		t.Errorf("Expected fallback candidate to be negotiated, got %q", got)
	}
}

func TestSession_NoMatchUsesHostDefault(t *testing.T) {
	host := &fakeHost{defaultMime: "audio/webm"}
	s := newTestSession(host, 30)

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	waitFor(t, "recording to start", func() bool { return s.State() == StateRecording })

	if got := s.MimeType(); got != "audio/webm" {
		t.Errorf("Expected host default MIME type, got %q", got)
	}
}

func TestSession_PermissionDeniedReturnsToIdleAndIsRetryable(t *testing.T) {
	host := &fakeHost{streamErr: fmt.Errorf("%w: camera", media.ErrPermissionDenied)}
	s := newTestSession(host, 30)

	err := s.RequestVideo(context.Background())
	if err == nil {
		t.Fatal("Expected classified error from denied request")
	}

	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected *capture.Error, got %T: %v", err, err)
	}
	if cerr.Kind != KindPermissionDenied {
		t.Errorf("Expected PERMISSION_DENIED, got %s", cerr.Kind)
	}
	if cerr.Message == "" {
		t.Error("Expected human-readable message")
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("Expected session back in IDLE, got %s", got)
	}

	// Same request succeeds once the grant goes through.
	host.mu.Lock()
	host.streamErr = nil
	host.mu.Unlock()
	if err := s.RequestVideo(context.Background()); err != nil {
		t.Fatalf("Expected retry to succeed, got: %v", err)
	}
	if got := s.State(); got != StateStreamReady {
		t.Errorf("Expected STREAM_READY after retry, got %s", got)
	}
}

func TestSession_SecondRequestWhileAwaitingIsNoOp(t *testing.T) {
	gate := make(chan struct{})
	host := &fakeHost{gate: gate}
	s := newTestSession(host, 30)

	go s.RequestAudio(context.Background())
	waitFor(t, "awaiting permission", func() bool { return s.State() == StateAwaitingPermission })

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Errorf("Expected second request to be a no-op, got: %v", err)
	}
	if got := host.requestCount(); got != 1 {
		t.Errorf("Expected exactly one grant attempt, got %d", got)
	}

	close(gate)
	waitFor(t, "stream ready", func() bool { return s.State() == StateStreamReady })
}

func TestSession_RecorderFailureReturnsToStreamReady(t *testing.T) {
	host := &fakeHost{recorderErr: fmt.Errorf("%w: encoder busy", media.ErrUnsupported)}

	var reportedMu sync.Mutex
	var reported []*Error
	s := newTestSession(host, 30, func(o *Options) {
		o.OnError = func(e *Error) {
			reportedMu.Lock()
			reported = append(reported, e)
			reportedMu.Unlock()
		}
	})

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	waitFor(t, "return to stream ready", func() bool { return s.State() == StateStreamReady })

	reportedMu.Lock()
	if len(reported) != 1 || reported[0].Kind != KindUnsupported {
		t.Errorf("Expected one UNSUPPORTED report, got %+v", reported)
	}
	reportedMu.Unlock()

	// Begin can be retried without a second permission grant.
	host.mu.Lock()
	host.recorderErr = nil
	host.mu.Unlock()
	if err := s.Begin(); err != nil {
		t.Fatalf("Expected retry after recorder failure, got: %v", err)
	}
	waitFor(t, "recording to start", func() bool { return s.State() == StateRecording })
	if got := host.requestCount(); got != 1 {
		t.Errorf("Expected no re-grant, got %d grant attempts", got)
	}
}

func TestSession_PauseResumePreservesElapsedAndChunks(t *testing.T) {
	host := &fakeHost{
		defaultMime: "audio/webm",
		emitOnStart: [][]byte{[]byte("before-pause-")},
		finalChunk:  []byte("tail"),
	}
	s := newTestSession(host, 1000)

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	waitFor(t, "elapsed to advance", func() bool { return s.Elapsed() >= 2 })

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	frozen := s.Elapsed()
	if frozen < 2 {
		t.Fatalf("Expected elapsed >= 2 at pause, got %d", frozen)
	}

	// Paused time must not consume ticks.
	time.Sleep(5 * testTick)
	if got := s.Elapsed(); got != frozen {
		t.Errorf("Expected elapsed frozen at %d while paused, got %d", frozen, got)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	waitFor(t, "recording to resume", func() bool { return s.State() == StateRecording })
	waitFor(t, "elapsed to continue", func() bool { return s.Elapsed() > frozen })
	if got := s.Elapsed(); got < frozen {
		t.Errorf("Expected elapsed to continue from %d, got %d", frozen, got)
	}

	if err := s.Done(); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	artifact := s.Artifact()
	if artifact == nil {
		t.Fatal("Expected artifact after stop")
	}
	want := []byte("before-pause-tail")
	if !bytes.Equal(artifact.Data, want) {
		t.Errorf("Expected chunks captured before pause to be preserved, got %q", artifact.Data)
	}
}

func TestSession_AutoFinalizeAtCapExactlyOnce(t *testing.T) {
	host := &fakeHost{defaultMime: "audio/webm", finalChunk: []byte("x")}

	var finalizedMu sync.Mutex
	finalized := 0
	autoFlags := []bool{}
	s := newTestSession(host, 3, func(o *Options) {
		o.OnFinalized = func(auto bool) {
			finalizedMu.Lock()
			finalized++
			autoFlags = append(autoFlags, auto)
			finalizedMu.Unlock()
		}
	})

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	waitFor(t, "cap to force a stop", func() bool { return s.State() == StateStopped })

	if got := s.Elapsed(); got != 3 {
		t.Errorf("Expected elapsed to stop exactly at the cap, got %d", got)
	}
	if !s.AutoFinalized() {
		t.Error("Expected auto-finalize flag to be set")
	}

	artifact := s.Artifact()
	if artifact == nil || artifact.Size() == 0 {
		t.Fatal("Expected the in-flight capture to be kept, not discarded")
	}

	// A late manual Done must be a no-op, not a second finalize.
	if err := s.Done(); err != nil {
		t.Errorf("Expected Done on stopped session to be a no-op, got: %v", err)
	}
	time.Sleep(3 * testTick)

	finalizedMu.Lock()
	defer finalizedMu.Unlock()
	if finalized != 1 {
		t.Errorf("Expected exactly one finalize, got %d", finalized)
	}
	if len(autoFlags) != 1 || !autoFlags[0] {
		t.Errorf("Expected finalize to be reported as automatic, got %v", autoFlags)
	}
	if got := s.Artifact(); got != artifact {
		t.Error("Expected the artifact to be unchanged by the late Done")
	}
}

func TestSession_DoneFromPaused(t *testing.T) {
	host := &fakeHost{defaultMime: "audio/webm", emitOnStart: [][]byte{[]byte("data")}}
	s := newTestSession(host, 1000)

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	waitFor(t, "recording to start", func() bool { return s.State() == StateRecording })

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := s.Done(); err != nil {
		t.Fatalf("Done from paused failed: %v", err)
	}
	if got := s.State(); got != StateStopped {
		t.Errorf("Expected STOPPED, got %s", got)
	}
	if s.Artifact() == nil {
		t.Error("Expected artifact when finishing from paused state")
	}
}

func TestSession_ResetReturnsToFreshIdle(t *testing.T) {
	host := &fakeHost{defaultMime: "audio/webm", emitOnStart: [][]byte{[]byte("data")}}
	s := newTestSession(host, 1000)

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	waitFor(t, "recording to start", func() bool { return s.State() == StateRecording })

	s.Reset()

	if got := s.State(); got != StateIdle {
		t.Errorf("Expected IDLE after reset, got %s", got)
	}
	if s.Artifact() != nil {
		t.Error("Expected artifact to be discarded on reset")
	}
	if got := s.Elapsed(); got != 0 {
		t.Errorf("Expected elapsed 0 after reset, got %d", got)
	}
	if s.Mode() != "" {
		t.Error("Expected mode selection to be cleared on reset")
	}
	if rec := host.recorder(); rec != nil && !rec.isStopped() {
		t.Error("Expected live recorder to be force-stopped on reset")
	}
	for _, tr := range host.stream().tracks {
		if !tr.(*fakeTrack).isStopped() {
			t.Errorf("Expected %s track to be released on reset", tr.Kind())
		}
	}

	// A reset session behaves like a fresh one.
	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("Expected fresh request after reset, got: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Expected fresh Begin after reset, got: %v", err)
	}
	waitFor(t, "recording to restart", func() bool { return s.State() == StateRecording })
}

func TestSession_ResetDuringCountdownSuppressesStart(t *testing.T) {
	host := &fakeHost{defaultMime: "audio/webm"}
	s := newTestSession(host, 1000)

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	s.Reset()

	// Give a cancelled countdown every chance to fire anyway.
	time.Sleep(8 * testTick)
	if got := s.State(); got != StateIdle {
		t.Errorf("Expected session to stay IDLE after reset, got %s", got)
	}
}

func TestSession_BeginRequiresStreamReady(t *testing.T) {
	s := newTestSession(&fakeHost{}, 30)

	if err := s.Begin(); err == nil {
		t.Error("Expected Begin from IDLE to fail")
	}
	if err := s.Pause(); err == nil {
		t.Error("Expected Pause from IDLE to fail")
	}
	if err := s.Resume(); err == nil {
		t.Error("Expected Resume from IDLE to fail")
	}
	if err := s.Done(); err == nil {
		t.Error("Expected Done from IDLE to fail")
	}
}

func TestSession_ResetDuringFinalizeDiscardsTake(t *testing.T) {
	host := &fakeHost{defaultMime: "audio/webm", emitOnStart: [][]byte{[]byte("take")}}

	var finalizedMu sync.Mutex
	finalized := 0
	s := newTestSession(host, 1000, func(o *Options) {
		o.OnFinalized = func(bool) {
			finalizedMu.Lock()
			finalized++
			finalizedMu.Unlock()
		}
	})

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	waitFor(t, "recording to start", func() bool { return s.State() == StateRecording })

	// Make the recorder hang mid-drain so a reset can land while the
	// stop is still flushing.
	rec := host.recorder()
	stopEntered := make(chan struct{})
	stopGate := make(chan struct{})
	rec.mu.Lock()
	rec.stopEntered = stopEntered
	rec.stopGate = stopGate
	rec.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Done() }()

	<-stopEntered
	s.Reset()
	close(stopGate)

	if err := <-done; err != nil {
		t.Fatalf("Done failed: %v", err)
	}

	// The reset wins: the session stays a fresh IDLE one and the
	// drained take is discarded, not resurrected.
	if got := s.State(); got != StateIdle {
		t.Errorf("Expected IDLE after reset, got %s", got)
	}
	if artifact := s.Artifact(); artifact != nil {
		t.Errorf("Expected no artifact on a reset session, got %d bytes", artifact.Size())
	}

	finalizedMu.Lock()
	if finalized != 0 {
		t.Errorf("Expected no finalize report for a discarded take, got %d", finalized)
	}
	finalizedMu.Unlock()
}

func TestSession_DoneDuringResumeSuppressesRecorderError(t *testing.T) {
	host := &fakeHost{defaultMime: "audio/webm", emitOnStart: [][]byte{[]byte("take")}}

	var reportedMu sync.Mutex
	var reported []*Error
	s := newTestSession(host, 1000, func(o *Options) {
		o.OnError = func(e *Error) {
			reportedMu.Lock()
			reported = append(reported, e)
			reportedMu.Unlock()
		}
	})

	if err := s.RequestAudio(context.Background()); err != nil {
		t.Fatalf("RequestAudio failed: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	waitFor(t, "recording to start", func() bool { return s.State() == StateRecording })
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// Hold the recorder inside Resume so Done can finish the take first;
	// the resume then fails against a recorder that was already stopped.
	rec := host.recorder()
	resumeEntered := make(chan struct{})
	resumeGate := make(chan struct{})
	rec.mu.Lock()
	rec.resumeErr = errors.New("recorder is stopped")
	rec.resumeEntered = resumeEntered
	rec.resumeGate = resumeGate
	rec.mu.Unlock()

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	<-resumeEntered
	if err := s.Done(); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	close(resumeGate)

	// Give the failed resume attempt time to report if it wrongly would.
	time.Sleep(8 * testTick)

	if got := s.State(); got != StateStopped {
		t.Errorf("Expected session to stay STOPPED, got %s", got)
	}
	if artifact := s.Artifact(); artifact == nil {
		t.Error("Expected the finished take to be kept")
	}
	reportedMu.Lock()
	if len(reported) != 0 {
		t.Errorf("Expected no error report for a cleanly finished take, got %+v", reported)
	}
	reportedMu.Unlock()
}
