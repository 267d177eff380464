package pipeline

import (
	"context"
	"log/slog"
	"time"

	"pulsecast/internal/media"
	"pulsecast/internal/observability/metrics"
)

// DefaultProbeTimeout bounds how long admission waits for source metadata.
const DefaultProbeTimeout = 5 * time.Second

// DefaultResolution is assumed when the source cannot be probed in time.
var DefaultResolution = media.Resolution{Width: 854, Height: 480}

// Prober resolves the native resolution of a live source, racing the
// toolchain's metadata probe against a fixed timeout.
type Prober struct {
	Tool     media.Toolchain
	Timeout  time.Duration
	Fallback media.Resolution
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Resolve returns the probed resolution, or the fallback when the probe
// errors, reports nonsense, or the timeout fires first. It never fails; a
// degraded probe must not block admission.
func (p *Prober) Resolve(ctx context.Context, input string) media.Resolution {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	fallback := p.Fallback
	if fallback.Width <= 0 || fallback.Height <= 0 {
		fallback = DefaultResolution
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res media.Resolution
		err error
	}
	results := make(chan outcome, 1)
	go func() {
		res, err := p.Tool.Probe(probeCtx, input)
		results <- outcome{res: res, err: err}
	}()

	select {
	case result := <-results:
		if result.err != nil || result.res.Width <= 0 || result.res.Height <= 0 {
			if p.Logger != nil {
				p.Logger.Debug("probe degraded to default resolution", "input", input, "error", result.err)
			}
			p.Metrics.ProbeFellBack()
			return fallback
		}
		return result.res
	case <-probeCtx.Done():
		// The loser's result is discarded; cancelling the probe context is
		// enough to reap the subprocess.
		if p.Logger != nil {
			p.Logger.Debug("probe timed out, using default resolution", "input", input)
		}
		p.Metrics.ProbeFellBack()
		return fallback
	}
}
