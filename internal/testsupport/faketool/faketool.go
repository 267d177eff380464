// Package faketool provides an in-memory media.Toolchain for pipeline tests:
// encoder processes are controllable handles, probes return scripted results,
// and one-shot runs are recorded.
package faketool

import (
	"context"
	"sync"
	"time"

	"pulsecast/internal/media"
)

// Process is a controllable fake encoder handle.
type Process struct {
	Args []string

	mu      sync.Mutex
	err     error
	stopped bool

	once sync.Once
	done chan struct{}
}

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop records the stop request and completes the process cleanly.
func (p *Process) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
}

// Stopped reports whether Stop was called.
func (p *Process) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Fail completes the process with the given error, as if the encoder crashed.
func (p *Process) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
}

// Finish completes the process cleanly, as if the source ended.
func (p *Process) Finish() {
	p.once.Do(func() { close(p.done) })
}

// Tool is a scripted media.Toolchain.
type Tool struct {
	mu sync.Mutex

	ProbeResult media.Resolution
	ProbeErr    error
	ProbeDelay  time.Duration

	StartErr error
	RunErr   error
	// RunErrs scripts per-call results for Run; each call consumes one entry
	// (nil meaning success) before RunErr applies.
	RunErrs []error

	processes []*Process
	runs      [][]string
	probes    int
}

// New returns a Tool that probes to 1080p and succeeds at everything.
func New() *Tool {
	return &Tool{ProbeResult: media.Resolution{Width: 1920, Height: 1080}}
}

func (t *Tool) Start(_ context.Context, args []string) (media.Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StartErr != nil {
		return nil, t.StartErr
	}
	proc := &Process{Args: append([]string(nil), args...), done: make(chan struct{})}
	t.processes = append(t.processes, proc)
	return proc, nil
}

func (t *Tool) Run(ctx context.Context, args []string) error {
	t.mu.Lock()
	t.runs = append(t.runs, append([]string(nil), args...))
	err := t.RunErr
	if len(t.RunErrs) > 0 {
		err = t.RunErrs[0]
		t.RunErrs = t.RunErrs[1:]
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (t *Tool) Probe(ctx context.Context, _ string) (media.Resolution, error) {
	t.mu.Lock()
	t.probes++
	delay := t.ProbeDelay
	result := t.ProbeResult
	err := t.ProbeErr
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return media.Resolution{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return media.Resolution{}, err
	}
	return result, nil
}

// Processes returns every encoder handle started so far.
func (t *Tool) Processes() []*Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Process(nil), t.processes...)
}

// Runs returns the argument lists of every one-shot invocation.
func (t *Tool) Runs() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]string(nil), t.runs...)
}

// ProbeCalls reports how many probes were attempted.
func (t *Tool) ProbeCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.probes
}
