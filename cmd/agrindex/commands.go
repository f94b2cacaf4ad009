package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/verdantiq/agrindex/internal/api"
	"github.com/verdantiq/agrindex/internal/indexer"
	"github.com/verdantiq/agrindex/internal/ingest"
	"github.com/verdantiq/agrindex/internal/search"
	"github.com/verdantiq/agrindex/internal/session"
	"github.com/verdantiq/agrindex/internal/store"
)

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index a farm record into the semantic index",
	Long: `Index a farm record into the semantic index.

Examples:
  agrindex index --user u1 --type soil_analysis --text "pH 6.2, nitrogen low"
  agrindex index --user u1 --type water_quality --file ./well-report.pdf
  agrindex index --user u1 --type field_data --url https://extension.example.edu/bulletin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		docType, _ := cmd.Flags().GetString("type")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		rawURL, _ := cmd.Flags().GetString("url")
		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		county, _ := cmd.Flags().GetString("county")
		crop, _ := cmd.Flags().GetString("crop")

		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		if !store.DocumentType(docType).Valid() {
			return fmt.Errorf("--type must be one of soil_analysis, water_quality, field_data, planting_optimization")
		}
		if text == "" && file == "" && rawURL == "" {
			return fmt.Errorf("one of --text, --file, or --url is required")
		}

		ctx := cmd.Context()
		switch {
		case file != "":
			extracted, err := ingest.FromFile(file)
			if err != nil {
				return fmt.Errorf("extracting %s: %w", file, err)
			}
			text = extracted
			if title == "" {
				title = file
			}
		case rawURL != "":
			extracted, err := ingest.FromURL(ctx, &http.Client{Timeout: 30 * time.Second}, rawURL)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", rawURL, err)
			}
			text = extracted
			if title == "" {
				title = rawURL
			}
		}

		doc := ingest.NewDocument(id, userID, text, store.DocumentType(docType), title, county, crop)

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(ctx, "/v1/documents", api.IndexRequest{Documents: []store.Document{doc}})
		if err != nil {
			return err
		}

		var result indexer.Result
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("indexing %s failed: %s", result.Failed[0].ID, result.Failed[0].Reason)
		}

		printSuccess("Indexed record %s", doc.ID)
		return nil
	},
}

func init() {
	indexCmd.Flags().String("user", "", "owner of the record")
	indexCmd.Flags().String("type", "", "record type (soil_analysis, water_quality, field_data, planting_optimization)")
	indexCmd.Flags().String("text", "", "record text to index")
	indexCmd.Flags().String("file", "", "file to extract text from (.pdf, .html, or plain text)")
	indexCmd.Flags().String("url", "", "URL to fetch and extract text from")
	indexCmd.Flags().String("id", "", "stable record id (generated when omitted)")
	indexCmd.Flags().String("title", "", "record title")
	indexCmd.Flags().String("county", "", "county FIPS code")
	indexCmd.Flags().String("crop", "", "crop type")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		docType, _ := cmd.Flags().GetString("type")
		county, _ := cmd.Flags().GetString("county")
		crop, _ := cmd.Flags().GetString("crop")

		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		req := api.SearchRequest{
			UserID:     userID,
			Query:      query,
			Limit:      &limit,
			Threshold:  &threshold,
			CountyFIPS: county,
			CropType:   crop,
		}
		if docType != "" {
			req.DocumentTypes = []store.DocumentType{store.DocumentType(docType)}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/search", req)
		if err != nil {
			return err
		}

		var body struct {
			Results []search.Result `json:"results"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if len(body.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range body.Results {
			header := fmt.Sprintf("Result %d", i+1)
			fmt.Printf("\n%s [%.3f] %s\n", colorize(colorBold, header), r.Similarity, r.Document.Metadata.Type)
			if r.Document.Metadata.Title != "" {
				fmt.Printf("  %s\n", colorize(colorCyan, r.Document.Metadata.Title))
			}
			text := r.Document.Text
			if len(text) > 400 {
				text = text[:400] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("user", "", "owner of the records")
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().Float64("threshold", 0.5, "minimum similarity in [0,1]")
	searchCmd.Flags().String("type", "", "record type filter")
	searchCmd.Flags().String("county", "", "county FIPS filter")
	searchCmd.Flags().String("crop", "", "crop type filter")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Search records and summarize the matches with the inference backend",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		userID, _ := cmd.Flags().GetString("user")

		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/summarize", api.SummarizeRequest{
			UserID: userID,
			Query:  query,
		})
		if err != nil {
			return err
		}

		var body struct {
			Summary string `json:"summary"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		fmt.Println(body.Summary)
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "", "owner of the records")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, backend, and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		resp, err := client.get(ctx, "/v1/backend")
		if err != nil {
			printStatus("Server", "stopped")
			return nil
		}
		printStatus("Server", "running at %s", client.baseURL)

		var backendStatus api.BackendStatus
		if err := decodeJSON(resp, &backendStatus); err != nil {
			return err
		}
		if backendStatus.Ready {
			printStatus("Backend", "%s (%s, %s, %d dims)",
				backendStatus.State, backendStatus.Kind, backendStatus.Model, backendStatus.Dimensions)
		} else if backendStatus.Error != "" {
			printStatus("Backend", "%s (%s)", backendStatus.State, backendStatus.Error)
		} else {
			printStatus("Backend", "%s", backendStatus.State)
		}

		stateResp, err := client.get(ctx, "/v1/state")
		if err != nil {
			return err
		}
		var snap session.Snapshot
		if err := decodeJSON(stateResp, &snap); err != nil {
			return err
		}
		printStatus("Documents", "%d", snap.TotalDocuments)
		if snap.IsIndexing {
			printStatus("Indexing", "%d%%", snap.IndexingProgress)
		}
		if snap.Error != "" {
			printStatus("Last error", "%s", snap.Error)
		}

		if userID != "" {
			statsResp, err := client.get(ctx, "/v1/storage?userId="+userID)
			if err != nil {
				return err
			}
			var stats store.Stats
			if err := decodeJSON(statsResp, &stats); err != nil {
				return err
			}
			printStatus("User "+userID, "%d records, %d bytes", stats.TotalDocuments, stats.TotalSize)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("user", "", "also show per-user storage stats")
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all of a user's indexed records",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		confirm, _ := cmd.Flags().GetBool("confirm")

		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		if !confirm {
			printWarning("This will delete ALL records for %s. Use --confirm to proceed.", userID)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/documents?userId="+userID)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Cleared all records for %s", userID)
		return nil
	},
}

func init() {
	clearCmd.Flags().String("user", "", "owner of the records")
	clearCmd.Flags().Bool("confirm", false, "confirm deletion")
}

// --- backend ---

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Inspect or control the inference backend",
}

var backendInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the inference backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/backend/initialize", nil)
		if err != nil {
			return err
		}

		var status api.BackendStatus
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		printSuccess("Backend %s (%s, %s)", status.State, status.Kind, status.Model)
		return nil
	},
}

var backendSwitchCmd = &cobra.Command{
	Use:   "switch <mode>",
	Short: "Switch the backend mode (local, remote, or auto)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/v1/backend", api.SwitchRequest{Mode: args[0]})
		if err != nil {
			return err
		}

		var status api.BackendStatus
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		printSuccess("Switched to %s; backend is %s (run 'agrindex backend init' to initialize)",
			args[0], status.State)
		return nil
	},
}

func init() {
	backendCmd.AddCommand(backendInitCmd)
	backendCmd.AddCommand(backendSwitchCmd)
}
