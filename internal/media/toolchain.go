// Package media wraps the external encode/probe toolchain behind a narrow
// interface so the pipeline can be exercised without spawning real encoders.
package media

import "context"

// Resolution holds the native frame dimensions of a video source.
type Resolution struct {
	Width  int
	Height int
}

// Process is a handle to a long-running encoder subprocess.
type Process interface {
	// Done is closed once the subprocess has exited.
	Done() <-chan struct{}
	// Err reports the exit error, if any. Valid only after Done is closed.
	Err() error
	// Stop asks the subprocess to terminate. It does not wait for exit.
	Stop()
}

// Toolchain spawns and inspects media subprocesses.
//
// Implementations must be safe for concurrent use.
type Toolchain interface {
	// Start launches a long-running encode with the given argument list. The
	// returned Process outlives ctx; it stops only via Stop or its own exit.
	Start(ctx context.Context, args []string) (Process, error)

	// Run executes a short one-shot command (e.g. a still-frame grab) and
	// waits for it to finish, honouring ctx cancellation.
	Run(ctx context.Context, args []string) error

	// Probe inspects the input locator and reports its video resolution.
	Probe(ctx context.Context, input string) (Resolution, error)
}
