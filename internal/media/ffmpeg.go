package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

const (
	defaultFFmpegBinary  = "ffmpeg"
	defaultFFprobeBinary = "ffprobe"
)

// FFmpeg is the production Toolchain backed by the ffmpeg and ffprobe
// binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewFFmpeg constructs a Toolchain using the provided binary paths. Empty
// paths fall back to looking up ffmpeg/ffprobe on PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpeg {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = defaultFFmpegBinary
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = defaultFFprobeBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

type ffmpegProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (p *ffmpegProcess) Done() <-chan struct{} { return p.done }

func (p *ffmpegProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *ffmpegProcess) Stop() { p.cancel() }

// Start launches a long-running ffmpeg invocation. The subprocess is bound to
// its own cancel context so it survives the caller's request context; use
// Stop to terminate it.
func (f *FFmpeg) Start(ctx context.Context, args []string) (Process, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, f.ffmpegPath, args...)
	cmd.Stdout = newLineWriter(f.logger, "stdout")
	cmd.Stderr = newLineWriter(f.logger, "stderr")
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", f.ffmpegPath, err)
	}
	proc := &ffmpegProcess{cmd: cmd, cancel: cancel, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		proc.mu.Lock()
		proc.err = err
		proc.mu.Unlock()
		cancel()
		close(proc.done)
	}()
	return proc, nil
}

// Run executes a one-shot ffmpeg invocation and waits for completion.
func (f *FFmpeg) Run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(lastLine(stderr.String()))
		if detail != "" {
			return fmt.Errorf("%s: %w: %s", f.ffmpegPath, err, detail)
		}
		return fmt.Errorf("%s: %w", f.ffmpegPath, err)
	}
	return nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe runs ffprobe against the input locator and reports the dimensions of
// its first video stream.
func (f *FFmpeg) Probe(ctx context.Context, input string) (Resolution, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-print_format", "json",
		input,
	}
	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = newLineWriter(f.logger, "probe")
	if err := cmd.Run(); err != nil {
		return Resolution{}, fmt.Errorf("%s: %w", f.ffprobePath, err)
	}
	var parsed ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return Resolution{}, fmt.Errorf("decode probe output: %w", err)
	}
	for _, stream := range parsed.Streams {
		if stream.CodecType != "" && stream.CodecType != "video" {
			continue
		}
		if stream.Width > 0 && stream.Height > 0 {
			return Resolution{Width: stream.Width, Height: stream.Height}, nil
		}
	}
	return Resolution{}, fmt.Errorf("no video stream in probe output")
}

// lineWriter splits subprocess output into lines and forwards them to the
// logger at debug level. ffmpeg writes progress updates to stderr
// continuously, so anything above debug would flood the log.
type lineWriter struct {
	logger *slog.Logger
	stream string
}

func newLineWriter(logger *slog.Logger, stream string) *lineWriter {
	return &lineWriter{logger: logger, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if w.logger != nil {
			w.logger.Debug("toolchain output", "stream", w.stream, "line", string(line))
		}
	}
	return total, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
