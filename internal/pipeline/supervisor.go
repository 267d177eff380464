package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pulsecast/internal/media"
	"pulsecast/internal/observability/metrics"
)

// TaskState is the lifecycle state of one supervised rendition encode.
type TaskState int

const (
	TaskStarting TaskState = iota
	TaskRunning
	TaskFailed
	TaskStopped
)

func (s TaskState) String() string {
	switch s {
	case TaskStarting:
		return "starting"
	case TaskRunning:
		return "running"
	case TaskFailed:
		return "failed"
	case TaskStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RenditionTask is one supervised encoder subprocess producing a single
// quality variant.
type RenditionTask struct {
	Preset    Preset
	OutputDir string

	mu    sync.Mutex
	state TaskState
	proc  media.Process
}

// State reports the task's current lifecycle state.
func (t *RenditionTask) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *RenditionTask) setState(state TaskState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// markExited records the subprocess outcome, unless the task was already
// stopped by teardown.
func (t *RenditionTask) markExited(err error) (failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TaskStopped {
		return false
	}
	if err != nil {
		t.state = TaskFailed
		return true
	}
	t.state = TaskStopped
	return false
}

func (t *RenditionTask) process() media.Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proc
}

// stopTimeout bounds how long teardown waits for one encoder to exit.
const stopTimeout = 15 * time.Second

// Supervisor launches and tracks the rendition encoders of a session.
type Supervisor struct {
	Tool    media.Toolchain
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Launch starts one encoder per ladder entry, all in parallel. A rendition
// that fails to start is marked failed and logged; its siblings are
// unaffected. The returned slice always has exactly one task per ladder
// entry.
func (s *Supervisor) Launch(ctx context.Context, input, outputDir string, ladder []Preset) []*RenditionTask {
	tasks := make([]*RenditionTask, len(ladder))
	for i, preset := range ladder {
		tasks[i] = &RenditionTask{
			Preset:    preset,
			OutputDir: filepath.Join(outputDir, preset.Name),
			state:     TaskStarting,
		}
	}

	var group errgroup.Group
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			if err := s.launchOne(ctx, input, task); err != nil {
				task.setState(TaskFailed)
				s.Metrics.RenditionFailed(task.Preset.Name)
				if s.Logger != nil {
					s.Logger.Error("rendition failed to start",
						"preset", task.Preset.Name, "error", err)
				}
				return err
			}
			return nil
		})
	}
	// Wait only synchronizes; individual start failures were already
	// recorded on their tasks.
	if err := group.Wait(); err != nil && s.Logger != nil {
		s.Logger.Warn("one or more renditions failed to start", "error", err)
	}
	return tasks
}

func (s *Supervisor) launchOne(ctx context.Context, input string, task *RenditionTask) error {
	if err := os.MkdirAll(task.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create rendition directory: %w", err)
	}
	proc, err := s.Tool.Start(ctx, encodeArgs(input, task.Preset, task.OutputDir))
	if err != nil {
		return err
	}

	task.mu.Lock()
	task.proc = proc
	task.state = TaskRunning
	task.mu.Unlock()

	s.Metrics.RenditionLaunched(task.Preset.Name)
	if s.Logger != nil {
		s.Logger.Info("rendition encoder started", "preset", task.Preset.Name)
	}

	go s.watch(task, proc)
	return nil
}

// watch marks the task failed or stopped when its subprocess exits. A
// rendition is never respawned within the session's lifetime.
func (s *Supervisor) watch(task *RenditionTask, proc media.Process) {
	<-proc.Done()
	err := proc.Err()
	if task.markExited(err) {
		s.Metrics.RenditionFailed(task.Preset.Name)
		if s.Logger != nil {
			s.Logger.Error("rendition encoder failed",
				"preset", task.Preset.Name, "error", err)
		}
		return
	}
	if s.Logger != nil {
		s.Logger.Info("rendition encoder ended", "preset", task.Preset.Name)
	}
}

// StopAll terminates every task's subprocess, in parallel, waiting up to
// stopTimeout for each. Stop failures are logged, never propagated.
func (s *Supervisor) StopAll(tasks []*RenditionTask) {
	var group errgroup.Group
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			s.stopOne(task)
			return nil
		})
	}
	group.Wait()
}

func (s *Supervisor) stopOne(task *RenditionTask) {
	proc := task.process()
	task.setState(TaskStopped)
	if proc == nil {
		return
	}
	proc.Stop()
	select {
	case <-proc.Done():
	case <-time.After(stopTimeout):
		if s.Logger != nil {
			s.Logger.Warn("timeout waiting for rendition encoder to stop",
				"preset", task.Preset.Name)
		}
	}
}

// encodeArgs builds the encoder invocation for one rendition: low-latency
// segmented HLS with a 3-entry sliding window, 1s segments, segment-aligned
// GOP, and bitrate cap/buffer derived from the preset.
func encodeArgs(input string, preset Preset, outputDir string) []string {
	return []string{
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:a", "128k",
		"-b:v", fmt.Sprintf("%d", preset.Bitrate),
		"-maxrate", fmt.Sprintf("%d", preset.Bitrate*12/10),
		"-bufsize", fmt.Sprintf("%d", preset.Bitrate),
		"-vf", fmt.Sprintf("scale=%d:%d", preset.Width, preset.Height),
		"-r", fmt.Sprintf("%d", preset.FPS),
		"-g", "30",
		"-sc_threshold", "0",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-f", "hls",
		"-hls_time", "1",
		"-hls_list_size", fmt.Sprintf("%d", hlsWindowSize),
		"-hls_segment_type", "fmp4",
		"-hls_flags", "delete_segments+append_list+program_date_time+independent_segments",
		"-hls_start_number_source", "epoch",
		"-strftime", "1",
		filepath.ToSlash(filepath.Join(outputDir, ManifestName)),
	}
}
