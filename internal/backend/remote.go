package backend

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/verdantiq/agrindex/internal/cloud"
)

// RemoteProvider delegates embeddings and generation to an OpenAI-compatible
// API. Used when the caller accepts a network round-trip.
type RemoteProvider struct {
	client     *cloud.Client
	embedModel string
	chatModel  string
	dims       atomic.Int32
}

// NewRemoteProvider creates a provider against the given API. An empty
// baseURL uses the client's default.
func NewRemoteProvider(baseURL, apiKey, embedModel, chatModel string) *RemoteProvider {
	var client *cloud.Client
	if baseURL == "" {
		client = cloud.NewClient(apiKey)
	} else {
		client = cloud.NewClientWithBaseURL(apiKey, baseURL)
	}
	return &RemoteProvider{
		client:     client,
		embedModel: embedModel,
		chatModel:  chatModel,
	}
}

func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
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

func (p *RemoteProvider) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := p.client.Generate(ctx, p.chatModel, prompt)
	if err != nil {
		return "", fmt.Errorf("remote generation: %w", err)
	}
	return out, nil
}

func (p *RemoteProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *RemoteProvider) Model() string {
	return p.embedModel
}

func (p *RemoteProvider) Dimensions() int {
	return int(p.dims.Load())
}

func (p *RemoteProvider) Kind() Kind {
	return KindRemote
}
