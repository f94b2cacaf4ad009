// Package indexer turns batches of raw documents into embedded, stored
// vector records, reporting incremental progress through the session state.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/verdantiq/agrindex/internal/backend"
	"github.com/verdantiq/agrindex/internal/session"
	"github.com/verdantiq/agrindex/internal/store"
)

// ProviderSource yields the active embedding provider, or
// backend.ErrNotReady when there is none.
type ProviderSource interface {
	Provider() (backend.Provider, error)
}

// RecordStore is the slice of the vector store the pipeline writes to.
type RecordStore interface {
	Upsert(rec store.VectorRecord) error
	Count() (int, error)
}

// Failure describes one document that could not be indexed.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Result is the partial-failure report of a batch: documents already
// indexed stay indexed even when later ones fail.
type Result struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Pipeline orchestrates embed-and-store for document batches. Batches are
// serialized: a second IndexDocuments call queues behind the running one so
// the progress counter stays meaningful.
type Pipeline struct {
	mu       sync.Mutex
	backends ProviderSource
	records  RecordStore
	state    *session.Tracker
	logger   *slog.Logger
}

// New creates a Pipeline with the given dependencies.
func New(backends ProviderSource, records RecordStore, state *session.Tracker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		backends: backends,
		records:  records,
		state:    state,
		logger:   logger,
	}
}

// IndexDocuments embeds and stores docs in input order. A failure on one
// document is collected and the batch continues; prior successful puts are
// never rolled back. Requires a Ready backend; otherwise it fails up front
// with backend.ErrNotReady and the store is untouched.
func (p *Pipeline) IndexDocuments(ctx context.Context, docs []store.Document) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	provider, err := p.backends.Provider()
	if err != nil {
		p.state.SetError(err)
		return Result{}, err
	}

	p.state.SetIndexing(true)
	defer p.state.SetIndexing(false)

	var result Result
	total := len(docs)
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			p.state.SetError(err)
			return result, err
		}

		if err := p.indexOne(ctx, provider, doc); err != nil {
			p.logger.Warn("document failed to index", "id", doc.ID, "error", err)
			result.Failed = append(result.Failed, Failure{ID: doc.ID, Reason: err.Error()})
			continue
		}

		result.Succeeded = append(result.Succeeded, doc.ID)
		pct := int(math.Round(100 * float64(i+1) / float64(total)))
		p.state.SetProgress(pct)
	}

	if n, err := p.records.Count(); err == nil {
		p.state.SetTotalDocuments(n)
	}

	if len(result.Failed) > 0 {
		p.state.SetError(fmt.Errorf("%d of %d documents failed to index", len(result.Failed), total))
	}

	p.logger.Info("indexing batch complete",
		"succeeded", len(result.Succeeded), "failed", len(result.Failed))
	return result, nil
}

// indexOne validates, embeds, and stores a single document.
func (p *Pipeline) indexOne(ctx context.Context, provider backend.Provider, doc store.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("missing document id")
	}
	if doc.Metadata.UserID == "" {
		return fmt.Errorf("missing userId")
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("empty text")
	}
	if !doc.Metadata.Type.Valid() {
		return fmt.Errorf("unknown document type %q", doc.Metadata.Type)
	}

	vec, err := provider.Embed(ctx, doc.Text)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	rec := store.VectorRecord{
		Document:  doc,
		Embedding: vec,
		Model:     provider.Model(),
		IndexedAt: time.Now().UTC(),
	}
	if rec.Metadata.CreatedAt.IsZero() {
		rec.Metadata.CreatedAt = rec.IndexedAt
	}

	if err := p.records.Upsert(rec); err != nil {
		return fmt.Errorf("storing: %w", err)
	}
	return nil
}
