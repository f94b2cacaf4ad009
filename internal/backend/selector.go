package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is the lifecycle position of the active backend.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// Mode names which provider variant a configuration selects.
type Mode string

const (
	// ModeAuto defers the local/remote decision to the selection policy.
	ModeAuto   Mode = "auto"
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Config fully determines a provider. Two configs that compare equal denote
// the same backend; any difference forces re-initialization so that vectors
// from different model configurations can never mix.
type Config struct {
	Mode Mode

	LocalBaseURL    string
	LocalEmbedModel string
	LocalChatModel  string

	RemoteBaseURL    string
	RemoteAPIKey     string
	RemoteEmbedModel string
	RemoteChatModel  string
}

// initFlight tracks one in-progress initialization so re-entrant Initialize
// calls await it instead of starting a second one.
type initFlight struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Selector owns the active Provider and its lifecycle:
//
//	Uninitialized → Initializing → Ready | Failed
//
// A configuration switch from any state returns to Uninitialized and cancels
// an in-flight initialization. The provider reference is swapped under the
// lock; no caller ever observes a half-initialized backend.
type Selector struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	provider Provider
	initErr  error
	inflight *initFlight
	logger   *slog.Logger

	// newProvider builds a Provider from a Config; replaced in tests.
	newProvider func(Config, *slog.Logger) Provider
}

// NewSelector creates a Selector in the Uninitialized state.
func NewSelector(cfg Config, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		cfg:         cfg,
		state:       StateUninitialized,
		logger:      logger,
		newProvider: buildProvider,
	}
}

// buildProvider constructs the concrete provider for cfg. ModeAuto resolves
// through the selection policy with default signals; callers that track real
// network/battery signals resolve the mode themselves before configuring.
func buildProvider(cfg Config, logger *slog.Logger) Provider {
	mode := cfg.Mode
	if mode == ModeAuto || mode == "" {
		mode = ChooseMode(ModeAuto, DefaultSignals())
	}
	if mode == ModeRemote {
		return NewRemoteProvider(cfg.RemoteBaseURL, cfg.RemoteAPIKey, cfg.RemoteEmbedModel, cfg.RemoteChatModel)
	}
	return NewLocalProvider(cfg.LocalBaseURL, cfg.LocalEmbedModel, cfg.LocalChatModel, logger)
}

// Initialize drives the backend to Ready: it checks reachability, downloads
// missing on-device models, and probes one embedding to verify the model
// serves vectors (and to learn their dimensionality). A call while another
// initialization is in flight awaits that one; it never starts a second.
// From Ready it is a no-op.
func (s *Selector) Initialize(ctx context.Context) error {
	s.mu.Lock()

	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateInitializing:
		f := s.inflight
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return f.err
		}
	}

	initCtx, cancel := context.WithCancel(ctx)
	f := &initFlight{done: make(chan struct{}), cancel: cancel}
	s.inflight = f
	s.state = StateInitializing
	cfg := s.cfg
	provider := s.newProvider(cfg, s.logger)
	s.mu.Unlock()

	err := initProvider(initCtx, provider)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	switched := s.inflight != f
	if switched && err == nil {
		err = fmt.Errorf("%w: configuration changed during initialization", ErrNotReady)
	}
	f.err = err
	close(f.done)
	if switched {
		// SwitchConfig already reset the machine; leave its state alone.
		return f.err
	}

	s.inflight = nil
	if err != nil {
		s.state = StateFailed
		s.initErr = err
		s.logger.Warn("backend initialization failed", "mode", cfg.Mode, "error", err)
		return err
	}

	s.provider = provider
	s.state = StateReady
	s.initErr = nil
	s.logger.Info("backend ready",
		"kind", provider.Kind(), "model", provider.Model(), "dimensions", provider.Dimensions())
	return nil
}

func initProvider(ctx context.Context, p Provider) error {
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	if prep, ok := p.(modelPreparer); ok {
		if err := prep.PrepareModel(ctx); err != nil {
			return err
		}
	}
	if _, err := p.Embed(ctx, "readiness probe"); err != nil {
		return fmt.Errorf("probe embedding: %w", err)
	}
	return nil
}

// IsReady reports whether a provider is active and usable.
func (s *Selector) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

// State returns the current lifecycle state and, in Failed, the cause.
func (s *Selector) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.initErr
}

// Provider returns the active provider, or ErrNotReady in any other state.
func (s *Selector) Provider() (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		if s.initErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotReady, s.initErr)
		}
		return nil, ErrNotReady
	}
	return s.provider, nil
}

// Config returns the current configuration.
func (s *Selector) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SwitchConfig replaces the configuration. An identical config is a no-op.
// A different one force-transitions to Uninitialized, cancelling any
// in-flight initialization; subsequent embedding requests fail with
// ErrNotReady until Initialize succeeds under the new config.
func (s *Selector) SwitchConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg == s.cfg {
		return
	}

	if s.inflight != nil {
		s.inflight.cancel()
		s.inflight = nil
	}

	s.logger.Info("backend configuration changed", "mode", cfg.Mode)
	s.cfg = cfg
	s.state = StateUninitialized
	s.provider = nil
	s.initErr = nil
}
