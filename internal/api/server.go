// Package api exposes the index's public operations over HTTP for UI
// collaborators: indexing, search, storage info, index clearing, and
// backend lifecycle control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verdantiq/agrindex/internal/backend"
	"github.com/verdantiq/agrindex/internal/indexer"
	"github.com/verdantiq/agrindex/internal/ingest"
	"github.com/verdantiq/agrindex/internal/search"
	"github.com/verdantiq/agrindex/internal/session"
	"github.com/verdantiq/agrindex/internal/store"
)

const maxBodySize = 10 << 20 // 10MB

// BackendController is the slice of the backend selector the HTTP layer
// drives. *backend.Selector satisfies it.
type BackendController interface {
	Initialize(ctx context.Context) error
	SwitchConfig(cfg backend.Config)
	State() (backend.State, error)
	Provider() (backend.Provider, error)
	Config() backend.Config
}

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Selector BackendController
	Pipeline *indexer.Pipeline
	Search   *search.Engine
	Records  *store.Store
	State    *session.Tracker
	Token    string
	Logger   *slog.Logger
}

// NewHandler builds the chi router with all routes registered.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestLogger(deps.Logger))
	r.Use(BearerAuth(deps.Token))

	r.Post("/v1/documents", handleIndexDocuments(deps))
	r.Delete("/v1/documents", handleClearIndex(deps))
	r.Post("/v1/ingest", handleIngest(deps))
	r.Post("/v1/search", handleSearch(deps))
	r.Post("/v1/summarize", handleSummarize(deps))
	r.Get("/v1/storage", handleStorageInfo(deps))
	r.Get("/v1/state", handleSessionState(deps))
	r.Get("/v1/backend", handleBackendStatus(deps))
	r.Post("/v1/backend/initialize", handleBackendInitialize(deps))
	r.Put("/v1/backend", handleBackendSwitch(deps))

	return r
}

// IndexRequest is the body of POST /v1/documents.
type IndexRequest struct {
	Documents []store.Document `json:"documents"`
}

func handleIndexDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req IndexRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Documents) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "documents is required")
			return
		}

		result, err := deps.Pipeline.IndexDocuments(r.Context(), req.Documents)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// IngestRequest is the body of POST /v1/ingest: raw text or a URL to fetch
// and strip, turned into a single document and indexed.
type IngestRequest struct {
	UserID     string             `json:"userId"`
	Type       store.DocumentType `json:"type"`
	Text       string             `json:"text,omitempty"`
	URL        string             `json:"url,omitempty"`
	ID         string             `json:"id,omitempty"`
	Title      string             `json:"title,omitempty"`
	CountyFIPS string             `json:"countyFips,omitempty"`
	CropType   string             `json:"cropType,omitempty"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	client := &http.Client{Timeout: 15 * time.Second}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "userId is required")
			return
		}
		if !req.Type.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown document type %q", req.Type)
			return
		}
		if req.Text == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of text or url is required")
			return
		}

		text := req.Text
		title := req.Title
		if req.URL != "" {
			extracted, err := ingest.FromURL(r.Context(), client, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "ingest_error", "fetching %s: %v", req.URL, err)
				return
			}
			text = extracted
			if title == "" {
				title = req.URL
			}
		}

		doc := ingest.NewDocument(req.ID, req.UserID, text, req.Type, title, req.CountyFIPS, req.CropType)
		result, err := deps.Pipeline.IndexDocuments(r.Context(), []store.Document{doc})
		if err != nil {
			writeCoreError(w, err)
			return
		}
		if len(result.Failed) > 0 {
			httpError(w, http.StatusUnprocessableEntity, "ingest_error", "%s", result.Failed[0].Reason)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": doc.ID})
	}
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	UserID        string               `json:"userId"`
	Query         string               `json:"query"`
	Limit         *int                 `json:"limit"`
	Threshold     *float64             `json:"threshold"`
	DocumentTypes []store.DocumentType `json:"documentTypes"`
	CountyFIPS    string               `json:"countyFips"`
	CropType      string               `json:"cropType"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "userId is required")
			return
		}

		opts := search.NewOptions()
		if req.Limit != nil {
			opts.Limit = *req.Limit
		}
		if req.Threshold != nil {
			opts.Threshold = *req.Threshold
		}
		opts.DocumentTypes = req.DocumentTypes
		opts.CountyFIPS = req.CountyFIPS
		opts.CropType = req.CropType

		results, err := deps.Search.SearchSimilar(r.Context(), req.UserID, req.Query, opts)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		if results == nil {
			results = []search.Result{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// SummarizeRequest is the body of POST /v1/summarize.
type SummarizeRequest struct {
	UserID string `json:"userId"`
	Query  string `json:"query"`
}

func handleSummarize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var req SummarizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "userId is required")
			return
		}

		summary, err := summarizeRecords(r.Context(), deps.Selector, deps.Search, req.UserID, req.Query)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
	}
}

// summarizeRecords searches userID's records for query and asks the active
// provider for a concise summary of the matches. Shared by the HTTP and MCP
// surfaces.
func summarizeRecords(ctx context.Context, sel BackendController, eng *search.Engine, userID, query string) (string, error) {
	provider, err := sel.Provider()
	if err != nil {
		return "", err
	}

	results, err := eng.SearchSimilar(ctx, userID, query, search.NewOptions())
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No matching records to summarize.", nil
	}

	var sb strings.Builder
	sb.WriteString("Summarize the following farm records concisely, focusing on measurements, trends, and recommended actions. Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "[%s] %s\n%s\n\n", r.Document.Metadata.Type, r.Document.Metadata.Title, r.Document.Text)
	}

	summary, err := provider.Generate(ctx, sb.String())
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}
	return summary, nil
}

func handleStorageInfo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "userId is required")
			return
		}

		stats, err := deps.Records.Stats(userID)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleClearIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "userId is required")
			return
		}

		if err := deps.Records.DeleteUser(userID); err != nil {
			writeCoreError(w, err)
			return
		}
		if n, err := deps.Records.Count(); err == nil {
			deps.State.SetTotalDocuments(n)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSessionState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.State.Snapshot())
	}
}

// BackendStatus is the body of GET /v1/backend.
type BackendStatus struct {
	State      backend.State `json:"state"`
	Ready      bool          `json:"ready"`
	Kind       backend.Kind  `json:"kind,omitempty"`
	Model      string        `json:"model,omitempty"`
	Dimensions int           `json:"dimensions,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func handleBackendStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, cause := deps.Selector.State()
		status := BackendStatus{State: state, Ready: state == backend.StateReady}
		if cause != nil {
			status.Error = cause.Error()
		}
		if p, err := deps.Selector.Provider(); err == nil {
			status.Kind = p.Kind()
			status.Model = p.Model()
			status.Dimensions = p.Dimensions()
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func handleBackendInitialize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Selector.Initialize(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "backend_not_ready", "%v", err)
			return
		}
		handleBackendStatus(deps)(w, r)
	}
}

// SwitchRequest is the body of PUT /v1/backend. Empty fields keep their
// current values.
type SwitchRequest struct {
	Mode            string `json:"mode"`
	LocalEmbedModel string `json:"localEmbedModel"`
	RemoteEmbed     string `json:"remoteEmbedModel"`
}

func handleBackendSwitch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var req SwitchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		cfg := deps.Selector.Config()
		if req.Mode != "" {
			switch backend.Mode(req.Mode) {
			case backend.ModeLocal, backend.ModeRemote, backend.ModeAuto:
				cfg.Mode = backend.Mode(req.Mode)
			default:
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown mode %q", req.Mode)
				return
			}
		}
		if req.LocalEmbedModel != "" {
			cfg.LocalEmbedModel = req.LocalEmbedModel
		}
		if req.RemoteEmbed != "" {
			cfg.RemoteEmbedModel = req.RemoteEmbed
		}

		deps.Selector.SwitchConfig(cfg)
		handleBackendStatus(deps)(w, r)
	}
}

// writeCoreError maps core error taxonomy to HTTP status codes.
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, backend.ErrNotReady):
		httpError(w, http.StatusServiceUnavailable, "backend_not_ready", "%v", err)
	case errors.Is(err, search.ErrDimensionMismatch):
		httpError(w, http.StatusConflict, "dimension_mismatch", "%v", err)
	case errors.Is(err, backend.ErrEmbeddingUnavailable):
		httpError(w, http.StatusBadGateway, "embedding_unavailable", "%v", err)
	case errors.Is(err, store.ErrStorage):
		httpError(w, http.StatusInternalServerError, "storage_fault", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
