package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsecast/internal/media"
	"pulsecast/internal/observability/logging"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/state"
	"pulsecast/internal/storage"
)

// SessionState tracks one publish session through admission and teardown.
type SessionState int

const (
	StateAdmitted SessionState = iota
	StateActive
	StateClosing
	StateClosed
	StateRejected
)

func (s SessionState) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Admission rejection reasons surfaced to the protocol layer.
const (
	ReasonInvalidKey       = "invalid publish key"
	ReasonNotStreaming     = "not currently authorized to publish"
	ReasonAlreadyConnected = "already connected"
	ReasonSetupFailed      = "stream setup failed"
)

// RejectionError tells the protocol layer to refuse the publish attempt. It
// is never retried automatically by the server.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("publish rejected: %s", e.Reason)
}

func reject(reason string) error {
	return &RejectionError{Reason: reason}
}

// DefaultConnectionTTL bounds how long a connection flag outlives its last
// heartbeat, so an ungraceful process exit self-heals.
const DefaultConnectionTTL = 2 * time.Minute

// DefaultInvalidKeyTTL is the negative-cache lifetime for unknown publish
// keys.
const DefaultInvalidKeyTTL = 2 * time.Minute

// PreviewImageName returns the preview file name for a username.
func PreviewImageName(username string) string {
	return username + ".jpeg"
}

// Session is one live ingest attempt. It exists only in process memory for
// the duration of the connection.
type Session struct {
	ID        string
	Key       string
	Path      string
	UserID    string
	Username  string
	StartedAt time.Time

	mu     sync.Mutex
	state  SessionState
	ladder []Preset
	tasks  []*RenditionTask

	outputDir   string
	previewPath string
	preview     *previewLoop
	stopBeat    chan struct{}
	beatDone    chan struct{}

	// setupDone is closed once the admission path has finished (or abandoned)
	// pipeline startup; teardown waits on it so the two never interleave.
	setupDone chan struct{}
}

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ladder returns the active ladder computed for this session.
func (s *Session) Ladder() []Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Preset(nil), s.ladder...)
}

// Tasks returns the session's rendition tasks.
func (s *Session) Tasks() []*RenditionTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*RenditionTask(nil), s.tasks...)
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// beginClose transitions the session into Closing exactly once.
func (s *Session) beginClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosing || s.state == StateClosed {
		return false
	}
	s.state = StateClosing
	return true
}

// markActive promotes an admitted session to Active. It reports false when
// teardown already claimed the session, in which case the admission must not
// be reported as a success.
func (s *Session) markActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAdmitted {
		return false
	}
	s.state = StateActive
	return true
}

// closing reports whether teardown has claimed the session.
func (s *Session) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosing || s.state == StateClosed
}

// GateConfig wires the admission gate's collaborators. Repo, Flags,
// RejectedKeys, Channels, and Tool are required.
type GateConfig struct {
	Repo         storage.Repository
	Flags        state.ConnectionFlags
	RejectedKeys state.KeyRejectionCache
	Channels     state.ChannelCache
	Tool         media.Toolchain

	// Presets is the immutable quality ladder table, highest first.
	// Defaults to DefaultPresets.
	Presets []Preset

	// MediaRoot is the directory under which per-user output trees and
	// preview images are written.
	MediaRoot string

	// IngestBaseURL is the local address of the protocol server; the publish
	// path is appended to form the encoder input locator.
	IngestBaseURL string

	ProbeTimeout    time.Duration
	InvalidKeyTTL   time.Duration
	ConnectionTTL   time.Duration
	PreviewDelay    time.Duration
	PreviewInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Gate is the protocol-level gatekeeper: it admits or rejects publish
// attempts, runs the transcoding pipeline for admitted sessions, and tears
// everything down when the publisher disconnects.
type Gate struct {
	cfg    GateConfig
	sup    *Supervisor
	prober *Prober
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewGate validates the configuration and builds the admission gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("publisher repository is required")
	}
	if cfg.Flags == nil || cfg.RejectedKeys == nil || cfg.Channels == nil {
		return nil, fmt.Errorf("shared state stores are required")
	}
	if cfg.Tool == nil {
		return nil, fmt.Errorf("media toolchain is required")
	}
	if strings.TrimSpace(cfg.MediaRoot) == "" {
		return nil, fmt.Errorf("media root is required")
	}
	if len(cfg.Presets) == 0 {
		cfg.Presets = DefaultPresets()
	}
	if strings.TrimSpace(cfg.IngestBaseURL) == "" {
		cfg.IngestBaseURL = "rtmp://127.0.0.1:1935"
	}
	if cfg.InvalidKeyTTL <= 0 {
		cfg.InvalidKeyTTL = DefaultInvalidKeyTTL
	}
	if cfg.ConnectionTTL <= 0 {
		cfg.ConnectionTTL = DefaultConnectionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg: cfg,
		sup: &Supervisor{
			Tool:    cfg.Tool,
			Logger:  logger,
			Metrics: cfg.Metrics,
		},
		prober: &Prober{
			Tool:    cfg.Tool,
			Timeout: cfg.ProbeTimeout,
			Logger:  logger,
			Metrics: cfg.Metrics,
		},
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

// PublishKeyFromPath extracts the publish key from a protocol publish path;
// the key is the final path segment.
func PublishKeyFromPath(path string) string {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return ""
	}
	segments := strings.Split(trimmed, "/")
	return segments[len(segments)-1]
}

func (g *Gate) sourceURL(path string) string {
	return strings.TrimRight(g.cfg.IngestBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// OnPublishAttempt validates a publish attempt on the given path. It returns
// nil when the session is admitted and the pipeline is running, or a
// RejectionError the protocol layer must surface as a hard refusal.
func (g *Gate) OnPublishAttempt(ctx context.Context, path string) error {
	key := PublishKeyFromPath(path)
	if key == "" {
		g.cfg.Metrics.RecordAdmission(metrics.AdmissionRejectedKey)
		return reject(ReasonInvalidKey)
	}

	logger := g.logger.With("path", path)

	// Cheapest check first: a key that recently failed validation is
	// rejected without touching the durable store.
	rejected, err := g.cfg.RejectedKeys.Rejected(ctx, key)
	if err != nil {
		logger.Warn("negative cache unavailable", "error", err)
	} else if rejected {
		g.cfg.Metrics.RecordAdmission(metrics.AdmissionRejectedCached)
		return reject(ReasonInvalidKey)
	}

	pub, err := g.cfg.Repo.ResolvePublishKey(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			if cacheErr := g.cfg.RejectedKeys.Reject(ctx, key, g.cfg.InvalidKeyTTL); cacheErr != nil {
				logger.Warn("negative cache write failed", "error", cacheErr)
			}
			g.cfg.Metrics.RecordAdmission(metrics.AdmissionRejectedKey)
			return reject(ReasonInvalidKey)
		}
		logger.Error("publish key lookup failed", "error", err)
		g.cfg.Metrics.RecordAdmission(metrics.AdmissionRejectedInternal)
		return reject(ReasonSetupFailed)
	}

	logger = logger.With("user_id", pub.UserID, "username", pub.Username)

	if !pub.HasOpenStream {
		logger.Info("publish rejected, no open stream record")
		g.cfg.Metrics.RecordAdmission(metrics.AdmissionRejectedOffline)
		return reject(ReasonNotStreaming)
	}

	// The flag is acquired atomically before any encode work starts, so two
	// near-simultaneous attempts for the same user cannot both win.
	acquired, err := g.cfg.Flags.Acquire(ctx, pub.UserID, g.cfg.ConnectionTTL)
	if err != nil {
		logger.Error("connection flag acquire failed", "error", err)
		g.cfg.Metrics.RecordAdmission(metrics.AdmissionRejectedInternal)
		return reject(ReasonSetupFailed)
	}
	if !acquired {
		logger.Info("publish rejected, user already connected")
		g.cfg.Metrics.RecordAdmission(metrics.AdmissionRejectedBusy)
		return reject(ReasonAlreadyConnected)
	}

	if err := g.cfg.Channels.Invalidate(ctx, pub.Username); err != nil {
		logger.Warn("channel view invalidation failed", "error", err)
	}

	session := &Session{
		ID:          uuid.NewString(),
		Key:         key,
		Path:        path,
		UserID:      pub.UserID,
		Username:    pub.Username,
		StartedAt:   time.Now().UTC(),
		state:       StateAdmitted,
		outputDir:   filepath.Join(g.cfg.MediaRoot, pub.Username),
		previewPath: filepath.Join(g.cfg.MediaRoot, PreviewImageName(pub.Username)),
		stopBeat:    make(chan struct{}),
		beatDone:    make(chan struct{}),
		setupDone:   make(chan struct{}),
	}

	ctx = logging.ContextWithSessionID(ctx, session.ID)
	logger = logging.WithContext(ctx, logger)

	g.mu.Lock()
	g.sessions[key] = session
	g.mu.Unlock()
	g.cfg.Metrics.SessionStarted()

	err = g.startPipeline(ctx, session)
	close(session.setupDone)
	if err != nil {
		logger.Error("pipeline start failed", "error", err)
		g.mu.Lock()
		delete(g.sessions, key)
		g.mu.Unlock()
		if g.teardown(ctx, session) {
			session.setState(StateRejected)
		}
		g.cfg.Metrics.RecordAdmission(metrics.AdmissionRejectedInternal)
		return reject(ReasonSetupFailed)
	}

	if !session.markActive() {
		// A publish-ended event claimed the session mid-setup; its teardown
		// is stopping whatever was launched. The admission must not stand.
		logger.Info("publish ended during setup")
		g.cfg.Metrics.RecordAdmission(metrics.AdmissionRejectedInternal)
		return reject(ReasonSetupFailed)
	}
	g.cfg.Metrics.RecordAdmission(metrics.AdmissionAdmitted)
	logger.Info("publish admitted", "ladder", ladderNames(session.Ladder()))
	return nil
}

// startPipeline probes the source, computes the ladder, writes the master
// manifest, and launches the encoders, preview loop, and flag heartbeat.
func (g *Gate) startPipeline(ctx context.Context, session *Session) error {
	source := g.sourceURL(session.Path)

	resolution := g.prober.Resolve(ctx, source)
	ladder := SelectLadder(g.cfg.Presets, resolution.Height)
	if len(ladder) == 0 {
		return fmt.Errorf("no applicable presets for source height %d", resolution.Height)
	}

	// The probe can hold admission for seconds; if the publisher already
	// disconnected, don't bother creating anything.
	if session.closing() {
		return fmt.Errorf("session ended during setup")
	}

	if err := os.MkdirAll(session.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	// The master manifest must exist before any viewer request can succeed.
	if err := WriteMasterManifest(session.outputDir, ladder); err != nil {
		return err
	}

	tasks := g.sup.Launch(ctx, source, session.outputDir, ladder)

	preview := startPreviewLoop(
		g.cfg.Tool,
		filepath.Join(session.outputDir, ManifestName),
		session.previewPath,
		g.cfg.PreviewDelay,
		g.cfg.PreviewInterval,
		g.logger.With("username", session.Username),
		g.cfg.Metrics,
	)

	session.mu.Lock()
	session.ladder = ladder
	session.tasks = tasks
	session.preview = preview
	session.mu.Unlock()

	go g.heartbeat(session)
	return nil
}

// heartbeat refreshes the connection flag while the session is alive so the
// flag's TTL only fires after an ungraceful exit.
func (g *Gate) heartbeat(session *Session) {
	defer close(session.beatDone)
	interval := g.cfg.ConnectionTTL / 3
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-session.stopBeat:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := g.cfg.Flags.Refresh(ctx, session.UserID, g.cfg.ConnectionTTL)
			cancel()
			if err != nil {
				g.logger.Warn("connection flag refresh failed",
					"user_id", session.UserID, "error", err)
			}
		}
	}
}

// OnPublishEnded handles the protocol layer's publish-finished event for the
// given path, tearing down any session state. It is safe to invoke for paths
// that never admitted and safe to invoke twice.
func (g *Gate) OnPublishEnded(ctx context.Context, path string) {
	key := PublishKeyFromPath(path)
	if key == "" {
		return
	}

	g.mu.Lock()
	session := g.sessions[key]
	delete(g.sessions, key)
	g.mu.Unlock()

	if session != nil {
		g.teardown(ctx, session)
		return
	}

	// No in-memory session: the process may have restarted mid-stream, or
	// admission never completed. Best-effort cleanup of whatever the key's
	// owner left behind.
	pub, err := g.cfg.Repo.ResolvePublishKey(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			g.logger.Warn("cleanup lookup failed", "path", path, "error", err)
		}
		return
	}
	g.removeArtifacts(pub.Username)
	g.clearSharedState(ctx, pub.UserID, pub.Username)
	g.cfg.Metrics.CleanupCompleted()
}

// teardown is the idempotent cleanup coordinator: it stops encoders and the
// preview timer, removes generated artifacts, and clears shared state. Every
// step is best-effort; a failure is logged and the remaining steps still run.
// It reports whether this call performed the cleanup.
func (g *Gate) teardown(ctx context.Context, session *Session) bool {
	if !session.beginClose() {
		return false
	}

	// An admission may still be inside startPipeline for this session; wait
	// for it to finish so no encoder or preview loop is created after the
	// cleanup below has run.
	<-session.setupDone

	ctx = logging.ContextWithSessionID(ctx, session.ID)
	logger := logging.WithContext(ctx, g.logger)

	session.mu.Lock()
	tasks := session.tasks
	preview := session.preview
	session.mu.Unlock()

	close(session.stopBeat)
	if preview != nil {
		preview.Stop()
		<-session.beatDone
	}

	g.sup.StopAll(tasks)

	g.removeArtifacts(session.Username)

	// The flag is cleared only after all encoders have been asked to stop,
	// so a second admission cannot race a still-tearing-down session.
	g.clearSharedState(ctx, session.UserID, session.Username)

	session.setState(StateClosed)
	g.cfg.Metrics.SessionEnded()
	g.cfg.Metrics.CleanupCompleted()
	logger.Info("session closed", "username", session.Username)
	return true
}

func (g *Gate) removeArtifacts(username string) {
	outputDir := filepath.Join(g.cfg.MediaRoot, username)
	if err := os.RemoveAll(outputDir); err != nil {
		g.logger.Warn("output directory removal failed", "dir", outputDir, "error", err)
	}
	previewPath := filepath.Join(g.cfg.MediaRoot, PreviewImageName(username))
	if err := os.Remove(previewPath); err != nil && !os.IsNotExist(err) {
		g.logger.Warn("preview image removal failed", "path", previewPath, "error", err)
	}
}

func (g *Gate) clearSharedState(ctx context.Context, userID, username string) {
	if err := g.cfg.Flags.Release(ctx, userID); err != nil {
		g.logger.Warn("connection flag release failed", "user_id", userID, "error", err)
	}
	if err := g.cfg.Channels.Invalidate(ctx, username); err != nil {
		g.logger.Warn("channel view invalidation failed", "username", username, "error", err)
	}
}

// ActiveSessions reports how many sessions are currently tracked.
func (g *Gate) ActiveSessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown tears down every tracked session. Called when the daemon stops.
func (g *Gate) Shutdown(ctx context.Context) {
	g.mu.Lock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, session := range g.sessions {
		sessions = append(sessions, session)
	}
	g.sessions = make(map[string]*Session)
	g.mu.Unlock()

	for _, session := range sessions {
		g.teardown(ctx, session)
	}
}

func ladderNames(ladder []Preset) []string {
	names := make([]string, len(ladder))
	for i, preset := range ladder {
		names[i] = preset.Name
	}
	return names
}
