package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/verdantiq/agrindex/internal/api"
	"github.com/verdantiq/agrindex/internal/backend"
	"github.com/verdantiq/agrindex/internal/config"
	"github.com/verdantiq/agrindex/internal/indexer"
	"github.com/verdantiq/agrindex/internal/search"
	"github.com/verdantiq/agrindex/internal/session"
	"github.com/verdantiq/agrindex/internal/store"
	"github.com/verdantiq/agrindex/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agrindex server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// backendConfig translates the loaded app config into a selector config.
func backendConfig(cfg config.Config) backend.Config {
	return backend.Config{
		Mode:             backend.Mode(cfg.Backend.Mode),
		LocalBaseURL:     cfg.Local.BaseURL,
		LocalEmbedModel:  cfg.Local.EmbedModel,
		LocalChatModel:   cfg.Local.ChatModel,
		RemoteBaseURL:    cfg.Remote.BaseURL,
		RemoteAPIKey:     cfg.Remote.APIKey,
		RemoteEmbedModel: cfg.Remote.EmbedModel,
		RemoteChatModel:  cfg.Remote.ChatModel,
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "agrindex version %s\n", version.Version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("AGRINDEX_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	token := cfg.Server.APIToken
	if token == "" {
		token = uuid.New().String()
		printWarning("no API token configured; generated one for this run: %s", token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	state := session.NewTracker()
	if n, err := records.Count(); err == nil {
		state.SetTotalDocuments(n)
	}

	selector := backend.NewSelector(backendConfig(cfg), logger)
	pipeline := indexer.New(selector, records, state, logger)
	engine := search.New(selector, records, state, logger)

	// Bring the backend up in the background; requests fail with 503
	// until it reaches Ready.
	go func() {
		if err := selector.Initialize(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("backend initialization failed; retry via POST /v1/backend/initialize", "error", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Selector: selector,
		Pipeline: pipeline,
		Search:   engine,
		Records:  records,
		State:    state,
		Token:    token,
		Logger:   logger,
	})

	httpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    httpAddr,
		Handler: handler,
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Selector: selector,
		Pipeline: pipeline,
		Search:   engine,
		Records:  records,
		State:    state,
	})
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	sseSrv := server.NewSSEServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("mcp server listening", "addr", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sseSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("mcp server shutdown", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
