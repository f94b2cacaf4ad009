package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/verdantiq/agrindex/internal/backend"
	"github.com/verdantiq/agrindex/internal/indexer"
	"github.com/verdantiq/agrindex/internal/ingest"
	"github.com/verdantiq/agrindex/internal/search"
	"github.com/verdantiq/agrindex/internal/session"
	"github.com/verdantiq/agrindex/internal/store"
	"github.com/verdantiq/agrindex/internal/version"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Selector BackendController
	Pipeline *indexer.Pipeline
	Search   *search.Engine
	Records  *store.Store
	State    *session.Tracker
}

// NewMCPServer creates an MCP server with all agrindex tools and resources
// registered, so assistant clients can index and query farm records directly.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"agrindex",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("agrindex — on-device semantic index over a farm's soil, water, field, and planting records."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("index_document",
			mcp.WithDescription("Embed and store one farm record in the local semantic index."),
			mcp.WithString("userId", mcp.Description("Owner of the record"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The record text to index"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Record type: soil_analysis, water_quality, field_data, or planting_optimization"), mcp.Required()),
			mcp.WithString("id", mcp.Description("Stable record id; generated when omitted")),
			mcp.WithString("title", mcp.Description("Optional title")),
			mcp.WithString("countyFips", mcp.Description("Optional county FIPS code")),
			mcp.WithString("cropType", mcp.Description("Optional crop type")),
		),
		mcpIndexDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("search_records",
			mcp.WithDescription("Semantically search a user's indexed farm records."),
			mcp.WithString("userId", mcp.Description("Owner of the records"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithNumber("threshold", mcp.Description("Minimum similarity in [0,1] (default 0.5)")),
			mcp.WithString("type", mcp.Description("Optional record type filter")),
			mcp.WithString("countyFips", mcp.Description("Optional county FIPS filter")),
			mcp.WithString("cropType", mcp.Description("Optional crop type filter")),
		),
		mcpSearchRecords(deps),
	)

	s.AddTool(
		mcp.NewTool("storage_info",
			mcp.WithDescription("Report how many records a user has indexed and how much space they use."),
			mcp.WithString("userId", mcp.Description("Owner of the records"), mcp.Required()),
		),
		mcpStorageInfo(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_index",
			mcp.WithDescription("Delete all of a user's indexed records."),
			mcp.WithString("userId", mcp.Description("Owner of the records"), mcp.Required()),
		),
		mcpClearIndex(deps),
	)

	s.AddTool(
		mcp.NewTool("summarize_records",
			mcp.WithDescription("Search a user's records and summarize the matches with the active inference backend."),
			mcp.WithString("userId", mcp.Description("Owner of the records"), mcp.Required()),
			mcp.WithString("query", mcp.Description("What to look for and summarize"), mcp.Required()),
		),
		mcpSummarizeRecords(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"agrindex://backend",
			"Backend Status",
			mcp.WithResourceDescription("Current inference backend lifecycle state as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceBackend(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"agrindex://state",
			"Session State",
			mcp.WithResourceDescription("Current indexing and search activity as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceState(deps),
	)

	return s
}

func mcpIndexDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		docType, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}
		if !store.DocumentType(docType).Valid() {
			return mcpError(fmt.Sprintf("unknown record type %q", docType)), nil
		}

		doc := ingest.NewDocument(
			req.GetString("id", ""),
			userID,
			text,
			store.DocumentType(docType),
			req.GetString("title", ""),
			req.GetString("countyFips", ""),
			req.GetString("cropType", ""),
		)

		result, err := deps.Pipeline.IndexDocuments(ctx, []store.Document{doc})
		if err != nil {
			return mcpError(fmt.Sprintf("indexing failed: %v", err)), nil
		}
		if len(result.Failed) > 0 {
			return mcpError(fmt.Sprintf("indexing failed: %s", result.Failed[0].Reason)), nil
		}

		return mcpText(fmt.Sprintf("Indexed record %s", doc.ID)), nil
	}
}

func mcpSearchRecords(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		opts := search.NewOptions()
		if limit := req.GetInt("limit", 0); limit > 0 {
			opts.Limit = limit
		}
		if threshold := req.GetFloat("threshold", -1); threshold >= 0 {
			opts.Threshold = threshold
		}
		if t := req.GetString("type", ""); t != "" {
			opts.DocumentTypes = []store.DocumentType{store.DocumentType(t)}
		}
		opts.CountyFIPS = req.GetString("countyFips", "")
		opts.CropType = req.GetString("cropType", "")

		results, err := deps.Search.SearchSimilar(ctx, userID, query, opts)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type matchResult struct {
			ID         string  `json:"id"`
			Title      string  `json:"title,omitempty"`
			Type       string  `json:"type"`
			Text       string  `json:"text"`
			Similarity float64 `json:"similarity"`
		}

		matches := make([]matchResult, len(results))
		for i, r := range results {
			matches[i] = matchResult{
				ID:         r.Document.ID,
				Title:      r.Document.Metadata.Title,
				Type:       string(r.Document.Metadata.Type),
				Text:       r.Document.Text,
				Similarity: r.Similarity,
			}
		}

		b, err := json.Marshal(matches)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStorageInfo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}

		stats, err := deps.Records.Stats(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read storage stats: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClearIndex(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}

		if err := deps.Records.DeleteUser(userID); err != nil {
			return mcpError(fmt.Sprintf("failed to clear index: %v", err)), nil
		}
		if n, err := deps.Records.Count(); err == nil {
			deps.State.SetTotalDocuments(n)
		}
		return mcpText(fmt.Sprintf("Cleared all records for %s", userID)), nil
	}
}

func mcpSummarizeRecords(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		summary, err := summarizeRecords(ctx, deps.Selector, deps.Search, userID, query)
		if err != nil {
			return mcpError(fmt.Sprintf("summarization failed: %v", err)), nil
		}
		return mcpText(summary), nil
	}
}

func mcpResourceBackend(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
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

		b, err := json.Marshal(status)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal backend status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceState(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.State.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session state: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
