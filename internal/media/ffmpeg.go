package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FFmpegOptions configures the ffmpeg-backed host.
type FFmpegOptions struct {
	BinaryPath  string // ffmpeg binary, default "ffmpeg"
	AudioDevice string // ALSA device name or /dev path, default "default"
	VideoDevice string // v4l2 device path, default "/dev/video0"
}

// FFmpegHost implements Host using an ffmpeg child process per recorder.
// Device streams hold the device node open for the life of the stream;
// codec support is probed once from the ffmpeg encoder list and cached.
type FFmpegHost struct {
	opts FFmpegOptions

	encOnce  sync.Once
	encoders map[string]bool
}

// NewFFmpegHost creates a host backed by the ffmpeg binary.
func NewFFmpegHost(opts FFmpegOptions) *FFmpegHost {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "ffmpeg"
	}
	if opts.AudioDevice == "" {
		opts.AudioDevice = "default"
	}
	if opts.VideoDevice == "" {
		opts.VideoDevice = "/dev/video0"
	}
	return &FFmpegHost{opts: opts}
}

// RequestStream probes the configured device(s) for the mode and returns a
// stream holding them open. A failed probe on the second device releases
// the first before returning.
func (h *FFmpegHost) RequestStream(ctx context.Context, mode Mode) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tracks []Track

	if mode == ModeVideo {
		vt, err := openDeviceTrack("video", h.opts.VideoDevice)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, vt)
	}

	at, err := openDeviceTrack("audio", h.opts.AudioDevice)
	if err != nil {
		for _, t := range tracks {
			if serr := t.Stop(); serr != nil {
				slog.Warn("Failed to release device track after probe failure", "kind", t.Kind(), "error", serr)
			}
		}
		return nil, err
	}
	tracks = append(tracks, at)

	slog.Debug("Device stream acquired", "mode", mode, "tracks", len(tracks))
	return &ffmpegStream{mode: mode, tracks: tracks}, nil
}

// Supports reports whether every codec named in the MIME type maps to an
// encoder ffmpeg actually provides.
func (h *FFmpegHost) Supports(mimeType string) bool {
	h.encOnce.Do(h.loadEncoders)
	return supportsWithEncoders(mimeType, h.encoders)
}

// NewRecorder builds an ffmpeg capture process for the stream. The process
// is not started until Recorder.Start.
func (h *FFmpegHost) NewRecorder(s Stream, mimeType string, onData DataFunc) (Recorder, error) {
	if onData == nil {
		return nil, fmt.Errorf("%w: data callback is required", ErrInvalidConfiguration)
	}
	if mimeType == "" {
		mimeType = DefaultMimeType(s.Mode())
	}

	args, err := buildRecorderArgs(s.Mode(), mimeType, h.opts)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(h.opts.BinaryPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	slog.Debug("FFmpeg recorder prepared", "mime", mimeType, "args", strings.Join(args, " "))
	return &ffmpegRecorder{
		cmd:      cmd,
		stdout:   stdout,
		onData:   onData,
		mimeType: mimeType,
		readDone: make(chan struct{}),
	}, nil
}

// DefaultMimeType returns the host's fallback format for a mode, used when
// format negotiation finds no explicit match.
func DefaultMimeType(mode Mode) string {
	if mode == ModeVideo {
		return "video/webm;codecs=vp8,opus"
	}
	return "audio/webm;codecs=opus"
}

func (h *FFmpegHost) loadEncoders() {
	h.encoders = map[string]bool{}

	out, err := exec.Command(h.opts.BinaryPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		slog.Warn("Failed to list ffmpeg encoders, codec probing disabled", "error", err)
		return
	}
	h.encoders = parseEncoders(string(out))
	slog.Debug("FFmpeg encoders loaded", "count", len(h.encoders))
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output.
// Entries follow a "------" separator line, one per line, name in the
// second column.
func parseEncoders(out string) map[string]bool {
	encoders := map[string]bool{}
	seen := false

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !seen {
			if strings.HasPrefix(line, "------") {
				seen = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			encoders[fields[1]] = true
		}
	}
	return encoders
}

func supportsWithEncoders(mimeType string, encoders map[string]bool) bool {
	container, codecs, err := splitMimeType(mimeType)
	if err != nil {
		return false
	}
	if !knownContainer(container) {
		return false
	}
	for _, codec := range codecs {
		enc := encoderFor(codec)
		if enc == "" || !encoders[enc] {
			return false
		}
	}
	return true
}

func knownContainer(container string) bool {
	switch container {
	case "mp4", "webm", "ogg":
		return true
	}
	return false
}

// encoderFor maps a MIME codec token to the ffmpeg encoder that produces
// it. Profile suffixes (avc1.42E01E, mp4a.40.2) are ignored.
func encoderFor(codec string) string {
	if i := strings.Index(codec, "."); i >= 0 {
		codec = codec[:i]
	}
	switch strings.ToLower(codec) {
	case "h264", "avc1":
		return "libx264"
	case "vp8":
		return "libvpx"
	case "vp9":
		return "libvpx-vp9"
	case "aac", "mp4a":
		return "aac"
	case "opus":
		return "libopus"
	case "vorbis":
		return "libvorbis"
	}
	return ""
}

// splitMimeType breaks "video/mp4;codecs=h264,aac" into its container
// subtype and codec tokens. Recorder MIME strings commonly carry unquoted
// commas in the codecs parameter, so this is parsed by hand rather than
// with mime.ParseMediaType.
func splitMimeType(mimeType string) (container string, codecs []string, err error) {
	parts := strings.Split(mimeType, ";")

	mediaType := strings.TrimSpace(parts[0])
	slash := strings.SplitN(mediaType, "/", 2)
	if len(slash) != 2 || slash[0] == "" || slash[1] == "" {
		return "", nil, fmt.Errorf("malformed media type: %s", mimeType)
	}
	container = strings.ToLower(slash[1])

	for _, param := range parts[1:] {
		param = strings.TrimSpace(param)
		key, value, found := strings.Cut(param, "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "codecs") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		for _, c := range strings.Split(value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codecs = append(codecs, c)
			}
		}
	}
	return container, codecs, nil
}

// buildRecorderArgs constructs the ffmpeg argument list for capturing the
// mode's devices into the negotiated container on stdout. Fragmented
// output flags keep mp4 streamable so chunks are valid as they arrive.
func buildRecorderArgs(mode Mode, mimeType string, opts FFmpegOptions) ([]string, error) {
	container, codecs, err := splitMimeType(mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}

	if mode == ModeVideo {
		args = append(args, "-f", "v4l2", "-i", opts.VideoDevice)
	}
	args = append(args, "-f", "alsa", "-i", opts.AudioDevice)

	vcodec, acodec := "", ""
	for _, codec := range codecs {
		switch enc := encoderFor(codec); enc {
		case "libx264", "libvpx", "libvpx-vp9":
			vcodec = enc
		case "aac", "libopus", "libvorbis":
			acodec = enc
		case "":
			return nil, fmt.Errorf("%w: unknown codec %q", ErrUnsupported, codec)
		}
	}

	switch container {
	case "mp4":
		if mode == ModeVideo {
			if vcodec == "" {
				vcodec = "libx264"
			}
			args = append(args, "-c:v", vcodec, "-preset", "veryfast", "-pix_fmt", "yuv420p")
		}
		if acodec == "" {
			acodec = "aac"
		}
		args = append(args, "-c:a", acodec, "-movflags", "frag_keyframe+empty_moov", "-f", "mp4")
	case "webm":
		if mode == ModeVideo {
			if vcodec == "" {
				vcodec = "libvpx"
			}
			args = append(args, "-c:v", vcodec, "-deadline", "realtime")
		}
		if acodec == "" {
			acodec = "libopus"
		}
		args = append(args, "-c:a", acodec, "-f", "webm")
	case "ogg":
		if mode == ModeVideo {
			return nil, fmt.Errorf("%w: ogg container is audio only", ErrUnsupported)
		}
		if acodec == "" {
			acodec = "libopus"
		}
		args = append(args, "-c:a", acodec, "-f", "ogg")
	default:
		return nil, fmt.Errorf("%w: container %q", ErrUnsupported, container)
	}

	return append(args, "pipe:1"), nil
}

type ffmpegStream struct {
	mode   Mode
	tracks []Track
}

func (s *ffmpegStream) Mode() Mode      { return s.mode }
func (s *ffmpegStream) Tracks() []Track { return s.tracks }

type deviceTrack struct {
	kind string
	name string
	file *os.File
}

// openDeviceTrack probes a capture device. Device nodes under /dev are
// opened and held; named ALSA devices cannot be probed without claiming
// them, so they pass through.
func openDeviceTrack(kind, name string) (Track, error) {
	if !strings.HasPrefix(name, "/") {
		return &deviceTrack{kind: kind, name: name}, nil
	}

	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, name)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, name)
		}
		return nil, fmt.Errorf("failed to open device %s: %w", name, err)
	}
	return &deviceTrack{kind: kind, name: name, file: f}, nil
}

func (t *deviceTrack) Kind() string { return t.kind }

func (t *deviceTrack) Stop() error {
	if t.file == nil {
		return nil
	}
	f := t.file
	t.file = nil
	return f.Close()
}

type ffmpegRecorder struct {
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	onData   DataFunc
	mimeType string
	readDone chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

func (r *ffmpegRecorder) MimeType() string { return r.mimeType }

func (r *ffmpegRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("recorder already started")
	}
	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	r.started = true

	go r.readLoop()
	return nil
}

// readLoop delivers stdout chunks in read order until the pipe closes.
func (r *ffmpegRecorder) readLoop() {
	defer close(r.readDone)

	buf := make([]byte, 32*1024)
	for {
		n, err := r.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.onData(chunk)
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("Recorder output read ended", "error", err)
			}
			return
		}
	}
}

func (r *ffmpegRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.stopped {
		return fmt.Errorf("recorder is not running")
	}
	return r.cmd.Process.Signal(syscall.SIGSTOP)
}

func (r *ffmpegRecorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.stopped {
		return fmt.Errorf("recorder is not running")
	}
	return r.cmd.Process.Signal(syscall.SIGCONT)
}

// Stop interrupts the ffmpeg process and waits for the final chunk to
// drain through onData before returning. A process that ignores the
// interrupt is killed after a bounded wait.
func (r *ffmpegRecorder) Stop() error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	// The process may be suspended when stopping from a paused session.
	if err := r.cmd.Process.Signal(syscall.SIGCONT); err != nil {
		slog.Debug("Failed to resume process before stop", "error", err)
	}
	if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to interrupt ffmpeg, killing", "error", err)
		r.cmd.Process.Kill()
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- r.cmd.Wait()
	}()

	select {
	case err := <-waitDone:
		<-r.readDone
		if err != nil && !exitedBySignal(err) {
			return fmt.Errorf("ffmpeg process failed: %w", err)
		}
		return nil
	case <-time.After(5 * time.Second):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		r.cmd.Process.Kill()
		<-waitDone
		<-r.readDone
		return nil
	}
}

// exitedBySignal reports whether the error is the expected non-zero exit
// after an interrupt or kill.
func exitedBySignal(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	state := exitErr.ProcessState.String()
	return state == "signal: interrupt" || state == "signal: killed"
}
