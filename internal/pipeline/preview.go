package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pulsecast/internal/media"
	"pulsecast/internal/observability/metrics"
)

const (
	// DefaultPreviewDelay is how long after admission the first preview
	// frame is attempted, giving encoders time to produce segments.
	DefaultPreviewDelay = 2 * time.Second

	// DefaultPreviewInterval is the recurring preview refresh period.
	DefaultPreviewInterval = 20 * time.Second

	previewCaptureTimeout = 15 * time.Second
	previewWidth          = 400
)

// previewLoop periodically overwrites the per-user preview image with a still
// frame pulled from the session's master playlist. The initial delayed capture
// may fail without consequence (encoders often have no segments yet); once the
// recurring timer is running, a failed capture stops the loop for good so a
// dead stream does not accumulate retries.
type previewLoop struct {
	tool     media.Toolchain
	source   string
	output   string
	delay    time.Duration
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func startPreviewLoop(tool media.Toolchain, source, output string, delay, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *previewLoop {
	if delay <= 0 {
		delay = DefaultPreviewDelay
	}
	if interval <= 0 {
		interval = DefaultPreviewInterval
	}
	loop := &previewLoop{
		tool:     tool,
		source:   source,
		output:   output,
		delay:    delay,
		interval: interval,
		logger:   logger,
		metrics:  m,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go loop.run()
	return loop
}

func (l *previewLoop) run() {
	defer close(l.done)

	timer := time.NewTimer(l.delay)
	defer timer.Stop()
	select {
	case <-l.stop:
		return
	case <-timer.C:
	}
	if err := l.capture(); err != nil && l.logger != nil {
		// The stream may simply not have segments yet.
		l.logger.Debug("initial preview capture failed", "source", l.source, "error", err)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.capture(); err != nil {
				if l.logger != nil {
					l.logger.Warn("preview capture failed, stopping preview timer",
						"source", l.source, "error", err)
				}
				l.metrics.PreviewFailed()
				return
			}
		}
	}
}

// capture grabs one frame.
func (l *previewLoop) capture() error {
	ctx, cancel := context.WithTimeout(context.Background(), previewCaptureTimeout)
	defer cancel()
	return l.tool.Run(ctx, previewArgs(l.source, l.output))
}

// Stop halts the loop and waits for any in-flight capture to finish. Safe to
// call more than once.
func (l *previewLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

func previewArgs(source, output string) []string {
	return []string{
		"-y",
		"-f", "hls",
		"-i", source,
		"-q:v", "2",
		"-an",
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", previewWidth),
		"-f", "image2",
		output,
	}
}
