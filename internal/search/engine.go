// Package search answers similarity queries over a user's vector records:
// embed the query, scan the store, filter by metadata, rank by cosine
// similarity.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/verdantiq/agrindex/internal/backend"
	"github.com/verdantiq/agrindex/internal/session"
	"github.com/verdantiq/agrindex/internal/store"
)

// ErrEmptyQuery is returned for a query that is empty after trimming,
// before the embedding provider is ever invoked.
var ErrEmptyQuery = errors.New("empty search query")

const (
	defaultLimit     = 10
	defaultThreshold = 0.5
)

// Options configures one search.
type Options struct {
	Limit         int                  `json:"limit"`
	Threshold     float64              `json:"threshold"`
	DocumentTypes []store.DocumentType `json:"documentTypes,omitempty"`
	CountyFIPS    string               `json:"countyFips,omitempty"`
	CropType      string               `json:"cropType,omitempty"`
}

// NewOptions returns the default options: up to 10 results at or above
// similarity 0.5, no metadata filters.
func NewOptions() Options {
	return Options{Limit: defaultLimit, Threshold: defaultThreshold}
}

// normalize repairs out-of-range values.
func (o Options) normalize() Options {
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.Threshold < 0 {
		o.Threshold = 0
	}
	if o.Threshold > 1 {
		o.Threshold = 1
	}
	return o
}

// matches reports whether a record passes the conjunctive metadata filters.
func (o Options) matches(md store.Metadata) bool {
	if len(o.DocumentTypes) > 0 {
		found := false
		for _, t := range o.DocumentTypes {
			if md.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if o.CountyFIPS != "" && md.CountyFIPS != o.CountyFIPS {
		return false
	}
	if o.CropType != "" && md.CropType != o.CropType {
		return false
	}
	return true
}

// Result pairs a stored record with its similarity to the query, in [0,1].
type Result struct {
	Document   store.VectorRecord `json:"document"`
	Similarity float64            `json:"similarity"`
}

// ProviderSource yields the active embedding provider.
type ProviderSource interface {
	Provider() (backend.Provider, error)
}

// RecordSource is the slice of the vector store the engine reads from.
type RecordSource interface {
	GetAll(userID string) ([]store.VectorRecord, error)
}

// Engine runs similarity searches. Searches are read-only and may run
// concurrently; the store guarantees each scan a consistent snapshot.
type Engine struct {
	backends ProviderSource
	records  RecordSource
	state    *session.Tracker
	logger   *slog.Logger
}

// New creates an Engine with the given dependencies.
func New(backends ProviderSource, records RecordSource, state *session.Tracker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backends: backends,
		records:  records,
		state:    state,
		logger:   logger,
	}
}

// SearchSimilar embeds query, scans userID's records, and returns the
// filtered ranking. An empty result is valid, not an error. Results are
// ordered by similarity descending, ties broken by most recent createdAt,
// then id, so identical inputs always rank identically.
func (e *Engine) SearchSimilar(ctx context.Context, userID, query string, opts Options) ([]Result, error) {
	e.state.SetSearching(true)
	defer e.state.SetSearching(false)

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	provider, err := e.backends.Provider()
	if err != nil {
		e.state.SetError(err)
		return nil, err
	}

	queryVec, err := provider.Embed(ctx, query)
	if err != nil {
		e.state.SetError(err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	records, err := e.records.GetAll(userID)
	if err != nil {
		e.state.SetError(err)
		return nil, err
	}

	opts = opts.normalize()

	var results []Result
	for _, rec := range records {
		if !opts.matches(rec.Metadata) {
			continue
		}

		sim, err := Cosine(queryVec, rec.Embedding)
		if err != nil {
			// Index built under a different model configuration; refuse
			// to rank rather than returning meaningless scores.
			err = fmt.Errorf("record %s: %w", rec.ID, err)
			e.state.SetError(err)
			return nil, err
		}
		if sim < opts.Threshold {
			continue
		}
		results = append(results, Result{Document: rec, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		ci, cj := results[i].Document.Metadata.CreatedAt, results[j].Document.Metadata.CreatedAt
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return results[i].Document.ID < results[j].Document.ID
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	e.logger.Debug("search complete",
		"user", userID, "candidates", len(records), "results", len(results))
	return results, nil
}
