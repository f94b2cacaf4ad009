package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/verdantiq/agrindex/internal/ollama"
)

// LocalProvider runs embeddings and generation on-device through an Ollama
// server. Nothing leaves the machine.
type LocalProvider struct {
	client     *ollama.Client
	embedModel string
	chatModel  string
	dims       atomic.Int32
	logger     *slog.Logger
}

// NewLocalProvider creates a provider for the Ollama server at baseURL.
func NewLocalProvider(baseURL, embedModel, chatModel string, logger *slog.Logger) *LocalProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{
		client:     ollama.New(baseURL),
		embedModel: embedModel,
		chatModel:  chatModel,
		logger:     logger,
	}
}

func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	vec, err := p.client.Embed(ctx, p.embedModel, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	p.dims.Store(int32(len(vec)))
	return vec, nil
}

func (p *LocalProvider) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := p.client.Generate(ctx, p.chatModel, prompt)
	if err != nil {
		return "", fmt.Errorf("local generation: %w", err)
	}
	return out, nil
}

func (p *LocalProvider) Ping(ctx context.Context) error {
	if !p.client.IsRunning(ctx) {
		return fmt.Errorf("ollama is not running; start it with: ollama serve")
	}
	return nil
}

// PrepareModel downloads the embedding and chat models if they are not
// present locally. This is the large-download step of initialization; it is
// aborted when ctx is cancelled.
func (p *LocalProvider) PrepareModel(ctx context.Context) error {
	models := []string{p.embedModel}
	if p.chatModel != "" && p.chatModel != p.embedModel {
		models = append(models, p.chatModel)
	}

	for _, model := range models {
		if p.client.HasModel(ctx, model) {
			continue
		}

		p.logger.Info("pulling model", "model", model)
		var lastStatus string
		err := p.client.PullModel(ctx, model, func(pr ollama.PullProgress) {
			if pr.Status != lastStatus {
				lastStatus = pr.Status
				p.logger.Info("pull progress", "model", model, "status", pr.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		p.logger.Info("model ready", "model", model)
	}
	return nil
}

func (p *LocalProvider) Model() string {
	return p.embedModel
}

func (p *LocalProvider) Dimensions() int {
	return int(p.dims.Load())
}

func (p *LocalProvider) Kind() Kind {
	return KindLocal
}
