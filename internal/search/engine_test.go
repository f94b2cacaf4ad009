package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verdantiq/agrindex/internal/backend"
	"github.com/verdantiq/agrindex/internal/session"
	"github.com/verdantiq/agrindex/internal/store"
)

// fakeProvider serves canned query embeddings.
type fakeProvider struct {
	vectors map[string][]float32
	calls   atomic.Int32
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: no canned vector for %q", backend.ErrEmbeddingUnavailable, text)
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	return "", nil
}
func (f *fakeProvider) Ping(ctx context.Context) error { return nil }
func (f *fakeProvider) Model() string                  { return "fake-embed" }
func (f *fakeProvider) Dimensions() int                { return 3 }
func (f *fakeProvider) Kind() backend.Kind             { return backend.KindLocal }

type readySource struct{ p backend.Provider }

func (s readySource) Provider() (backend.Provider, error) { return s.p, nil }

type downSource struct{}

func (downSource) Provider() (backend.Provider, error) { return nil, backend.ErrNotReady }

// fakeRecords serves a fixed record set and counts reads.
type fakeRecords struct {
	records []store.VectorRecord
	calls   atomic.Int32
}

func (f *fakeRecords) GetAll(userID string) ([]store.VectorRecord, error) {
	f.calls.Add(1)
	var out []store.VectorRecord
	for _, r := range f.records {
		if r.Metadata.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func rec(id string, docType store.DocumentType, embedding []float32, createdAt time.Time) store.VectorRecord {
	return store.VectorRecord{
		Document: store.Document{
			ID:   id,
			Text: "text for " + id,
			Metadata: store.Metadata{
				Type:      docType,
				UserID:    "u1",
				CreatedAt: createdAt,
			},
		},
		Embedding: embedding,
		Model:     "fake-embed",
	}
}

var t0 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(provider backend.Provider, records *fakeRecords) (*Engine, *session.Tracker) {
	tracker := session.NewTracker()
	return New(readySource{provider}, records, tracker, slog.New(slog.DiscardHandler)), tracker
}

func TestSearchSimilar_RankedDescending(t *testing.T) {
	provider := &fakeProvider{vectors: map[string][]float32{
		"corn nitrogen": {1, 0, 0},
	}}
	records := &fakeRecords{records: []store.VectorRecord{
		rec("far", store.TypeSoilAnalysis, []float32{0, 1, 0.4}, t0),
		rec("close", store.TypeSoilAnalysis, []float32{1, 0.1, 0}, t0),
		rec("exact", store.TypeSoilAnalysis, []float32{1, 0, 0}, t0),
	}}
	e, _ := newTestEngine(provider, records)

	results, err := e.SearchSimilar(context.Background(), "u1", "corn nitrogen", NewOptions())
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (\"far\" is below threshold)", len(results))
	}
	if results[0].Document.ID != "exact" || results[1].Document.ID != "close" {
		t.Errorf("order = [%s %s], want [exact close]", results[0].Document.ID, results[1].Document.ID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results not in descending similarity order")
	}
}

func TestSearchSimilar_ThresholdAndLimit(t *testing.T) {
	provider := &fakeProvider{vectors: map[string][]float32{"q": {1, 0, 0}}}
	var rs []store.VectorRecord
	for i := 0; i < 20; i++ {
		rs = append(rs, rec(fmt.Sprintf("d%02d", i), store.TypeFieldData, []float32{1, float32(i) * 0.01, 0}, t0))
	}
	records := &fakeRecords{records: rs}
	e, _ := newTestEngine(provider, records)

	opts := NewOptions()
	opts.Limit = 5
	opts.Threshold = 0.9
	results, err := e.SearchSimilar(context.Background(), "u1", "q", opts)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}

	if len(results) > 5 {
		t.Errorf("got %d results, want <= limit 5", len(results))
	}
	for _, r := range results {
		if r.Similarity < 0.9 {
			t.Errorf("result %s similarity %v below threshold", r.Document.ID, r.Similarity)
		}
	}
}

func TestSearchSimilar_ConjunctiveFilters(t *testing.T) {
	provider := &fakeProvider{vectors: map[string][]float32{"corn nitrogen": {1, 0, 0}}}
	soil := rec("soil", store.TypeSoilAnalysis, []float32{1, 0, 0}, t0)
	soil.Metadata.CountyFIPS = "19153"
	soil.Metadata.CropType = "corn"
	water := rec("water", store.TypeWaterQuality, []float32{1, 0, 0}, t0)
	water.Metadata.CropType = "corn"
	planting := rec("planting", store.TypePlantingOptimization, []float32{1, 0, 0}, t0)
	planting.Metadata.CropType = "corn"
	records := &fakeRecords{records: []store.VectorRecord{soil, water, planting}}
	e, _ := newTestEngine(provider, records)

	opts := NewOptions()
	opts.DocumentTypes = []store.DocumentType{store.TypeSoilAnalysis}
	results, err := e.SearchSimilar(context.Background(), "u1", "corn nitrogen", opts)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) != 1 || results[0].Document.ID != "soil" {
		t.Fatalf("results = %+v, want only the soil_analysis document", results)
	}

	// County filter on top of the type filter excludes the soil doc too.
	opts.CountyFIPS = "17031"
	results, err = e.SearchSimilar(context.Background(), "u1", "corn nitrogen", opts)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results with non-matching county, want 0", len(results))
	}

	// Crop filter alone keeps all three corn documents.
	opts = NewOptions()
	opts.CropType = "corn"
	results, err = e.SearchSimilar(context.Background(), "u1", "corn nitrogen", opts)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results with crop filter, want 3", len(results))
	}
}

func TestSearchSimilar_EmptyQuery(t *testing.T) {
	provider := &fakeProvider{}
	e, _ := newTestEngine(provider, &fakeRecords{})

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := e.SearchSimilar(context.Background(), "u1", q, NewOptions())
		if !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("query %q: err = %v, want ErrEmptyQuery", q, err)
		}
	}
	if provider.calls.Load() != 0 {
		t.Errorf("provider invoked %d times for empty queries, want 0", provider.calls.Load())
	}
}

func TestSearchSimilar_BackendNotReady(t *testing.T) {
	records := &fakeRecords{records: []store.VectorRecord{
		rec("d1", store.TypeSoilAnalysis, []float32{1, 0, 0}, t0),
	}}
	tracker := session.NewTracker()
	e := New(downSource{}, records, tracker, slog.New(slog.DiscardHandler))

	_, err := e.SearchSimilar(context.Background(), "u1", "corn", NewOptions())
	if !errors.Is(err, backend.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if records.calls.Load() != 0 {
		t.Error("store was read although the backend was not ready")
	}
	if tracker.Snapshot().Error == "" {
		t.Error("state error not recorded")
	}
	if tracker.Snapshot().IsSearching {
		t.Error("IsSearching still true after failure")
	}
}

func TestSearchSimilar_DimensionMismatch(t *testing.T) {
	// Query embedded under a 3-dim model, index built under a 4-dim one.
	provider := &fakeProvider{vectors: map[string][]float32{"q": {1, 0, 0}}}
	records := &fakeRecords{records: []store.VectorRecord{
		rec("old", store.TypeSoilAnalysis, []float32{1, 0, 0, 0}, t0),
	}}
	e, tracker := newTestEngine(provider, records)

	_, err := e.SearchSimilar(context.Background(), "u1", "q", NewOptions())
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	if tracker.Snapshot().Error == "" {
		t.Error("state error not recorded")
	}
}

func TestSearchSimilar_TieBreakByCreatedAt(t *testing.T) {
	provider := &fakeProvider{vectors: map[string][]float32{"q": {1, 0, 0}}}
	older := rec("older", store.TypeFieldData, []float32{1, 0, 0}, t0)
	newer := rec("newer", store.TypeFieldData, []float32{1, 0, 0}, t0.Add(24*time.Hour))
	records := &fakeRecords{records: []store.VectorRecord{older, newer}}
	e, _ := newTestEngine(provider, records)

	results, err := e.SearchSimilar(context.Background(), "u1", "q", NewOptions())
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Document.ID != "newer" {
		t.Errorf("first result = %s, want newer (most recent createdAt wins ties)", results[0].Document.ID)
	}
}

func TestSearchSimilar_EmptyResultIsNotAnError(t *testing.T) {
	provider := &fakeProvider{vectors: map[string][]float32{"q": {1, 0, 0}}}
	e, tracker := newTestEngine(provider, &fakeRecords{})

	results, err := e.SearchSimilar(context.Background(), "u1", "q", NewOptions())
	if err != nil {
		t.Fatalf("SearchSimilar on empty index: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if tracker.Snapshot().IsSearching {
		t.Error("IsSearching still true after search")
	}
}

func TestOptions_Normalize(t *testing.T) {
	o := Options{Limit: -1, Threshold: 1.5}.normalize()
	if o.Limit != 10 {
		t.Errorf("Limit = %d, want default 10", o.Limit)
	}
	if o.Threshold != 1 {
		t.Errorf("Threshold = %v, want clamped to 1", o.Threshold)
	}

	o = Options{Threshold: -0.2}.normalize()
	if o.Threshold != 0 {
		t.Errorf("Threshold = %v, want clamped to 0", o.Threshold)
	}
}
