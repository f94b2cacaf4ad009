package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider is a controllable Provider for selector tests.
type fakeProvider struct {
	kind       Kind
	model      string
	dims       int
	pingErr    error
	embedErr   error
	embedGate  chan struct{} // if non-nil, Embed blocks until closed or ctx done
	embedBegan chan struct{} // if non-nil, closed once when Embed is first entered
	embedCalls atomic.Int32
	beganOnce  sync.Once
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls.Add(1)
	if f.embedBegan != nil {
		f.beganOnce.Do(func() { close(f.embedBegan) })
	}
	if f.embedGate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.embedGate:
		}
	}
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	vec := make([]float32, f.dims)
	return vec, nil
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	return "ok", nil
}

func (f *fakeProvider) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeProvider) Model() string                  { return f.model }
func (f *fakeProvider) Dimensions() int                { return f.dims }
func (f *fakeProvider) Kind() Kind                     { return f.kind }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestSelector wires a Selector to the given fake, counting constructions.
func newTestSelector(fp *fakeProvider) (*Selector, *atomic.Int32) {
	sel := NewSelector(Config{Mode: ModeLocal, LocalEmbedModel: "m"}, testLogger())
	var builds atomic.Int32
	sel.newProvider = func(Config, *slog.Logger) Provider {
		builds.Add(1)
		return fp
	}
	return sel, &builds
}

func TestInitialize_Success(t *testing.T) {
	fp := &fakeProvider{kind: KindLocal, model: "m", dims: 4}
	sel, _ := newTestSelector(fp)

	if sel.IsReady() {
		t.Fatal("IsReady before Initialize, want false")
	}
	if _, err := sel.Provider(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Provider before init: err = %v, want ErrNotReady", err)
	}

	if err := sel.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !sel.IsReady() {
		t.Error("IsReady after Initialize, want true")
	}

	p, err := sel.Provider()
	if err != nil {
		t.Fatalf("Provider: %v", err)
	}
	if p.Model() != "m" {
		t.Errorf("Model = %q, want m", p.Model())
	}

	// Re-entrant call from Ready is a no-op.
	if err := sel.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if fp.embedCalls.Load() != 1 {
		t.Errorf("probe embeds = %d, want 1", fp.embedCalls.Load())
	}
}

func TestInitialize_PingFailure(t *testing.T) {
	fp := &fakeProvider{kind: KindLocal, pingErr: errors.New("connection refused")}
	sel, _ := newTestSelector(fp)

	if err := sel.Initialize(context.Background()); err == nil {
		t.Fatal("Initialize with unreachable backend succeeded, want error")
	}

	state, cause := sel.State()
	if state != StateFailed {
		t.Errorf("state = %q, want failed", state)
	}
	if cause == nil {
		t.Error("cause = nil, want captured error")
	}
	if _, err := sel.Provider(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Provider after failure: err = %v, want ErrNotReady", err)
	}
}

func TestInitialize_RetryAfterFailure(t *testing.T) {
	fp := &fakeProvider{kind: KindLocal, dims: 4, pingErr: errors.New("down")}
	sel, builds := newTestSelector(fp)

	if err := sel.Initialize(context.Background()); err == nil {
		t.Fatal("first Initialize succeeded, want error")
	}

	fp.pingErr = nil
	if err := sel.Initialize(context.Background()); err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
	if !sel.IsReady() {
		t.Error("IsReady after retry, want true")
	}
	if builds.Load() != 2 {
		t.Errorf("provider builds = %d, want 2", builds.Load())
	}
}

func TestInitialize_ReentrantAwaitsInFlight(t *testing.T) {
	gate := make(chan struct{})
	began := make(chan struct{})
	fp := &fakeProvider{kind: KindLocal, dims: 4, embedGate: gate, embedBegan: began}
	sel, builds := newTestSelector(fp)

	errs := make(chan error, 2)
	go func() { errs <- sel.Initialize(context.Background()) }()

	<-began // first init reached the probe
	go func() { errs <- sel.Initialize(context.Background()) }()

	// Give the second call a moment to either (wrongly) start its own
	// initialization or park on the in-flight one.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Initialize #%d: %v", i, err)
		}
	}
	if builds.Load() != 1 {
		t.Errorf("provider builds = %d, want 1 (no concurrent second init)", builds.Load())
	}
	if fp.embedCalls.Load() != 1 {
		t.Errorf("probe embeds = %d, want 1", fp.embedCalls.Load())
	}
}

func TestSwitchConfig_CancelsInFlightInitialization(t *testing.T) {
	gate := make(chan struct{}) // never closed; only cancellation releases Embed
	began := make(chan struct{})
	fp := &fakeProvider{kind: KindLocal, dims: 4, embedGate: gate, embedBegan: began}
	sel, _ := newTestSelector(fp)

	errCh := make(chan error, 1)
	go func() { errCh <- sel.Initialize(context.Background()) }()
	<-began

	next := sel.Config()
	next.LocalEmbedModel = "other-model"
	sel.SwitchConfig(next)

	if err := <-errCh; err == nil {
		t.Fatal("Initialize survived a config switch, want error")
	}

	state, _ := sel.State()
	if state != StateUninitialized {
		t.Errorf("state after switch = %q, want uninitialized", state)
	}
	if _, err := sel.Provider(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Provider after switch: err = %v, want ErrNotReady", err)
	}
}

func TestSwitchConfig_SameConfigIsNoOp(t *testing.T) {
	fp := &fakeProvider{kind: KindLocal, dims: 4}
	sel, _ := newTestSelector(fp)

	if err := sel.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	sel.SwitchConfig(sel.Config())
	if !sel.IsReady() {
		t.Error("identical SwitchConfig reset the backend, want Ready preserved")
	}
}

func TestSwitchConfig_DifferentConfigForcesReinitialization(t *testing.T) {
	fp := &fakeProvider{kind: KindLocal, dims: 4}
	sel, _ := newTestSelector(fp)

	if err := sel.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	next := sel.Config()
	next.LocalEmbedModel = "mxbai-embed-large"
	sel.SwitchConfig(next)

	if sel.IsReady() {
		t.Error("IsReady after model switch, want false")
	}
	if _, err := sel.Provider(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Provider after switch: err = %v, want ErrNotReady", err)
	}
}
