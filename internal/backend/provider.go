// Package backend selects and manages the inference provider: the on-device
// engine for privacy-preserving, offline-capable work, or a remote API when
// work is delegated off-device. Callers never branch on which one is active;
// they go through the Selector and the Provider capability it exposes.
package backend

import (
	"context"
	"errors"
)

// Sentinel errors for the backend lifecycle and the embedding capability.
var (
	// ErrNotReady means no usable provider is active (not initialized,
	// initialization failed, or cancelled by a configuration switch).
	ErrNotReady = errors.New("inference backend not ready")

	// ErrEmbeddingUnavailable means a provider is present but the call failed.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrEmptyText is returned when the input is empty after trimming.
	ErrEmptyText = errors.New("cannot embed empty text")
)

// Kind identifies where a provider runs.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Provider is the capability contract shared by the on-device and remote
// backends. Both variants of a given configuration produce vectors of the
// same fixed dimensionality; vectors from different model configurations
// must never be compared.
type Provider interface {
	// Embed maps text to a fixed-length vector. Text must be non-empty
	// after trimming.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Generate runs a single-prompt completion.
	Generate(ctx context.Context, prompt string) (string, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Model returns the embedding model name of this provider.
	Model() string

	// Dimensions returns the embedding vector length, or 0 before the
	// first successful Embed.
	Dimensions() int

	// Kind reports whether the provider is local or remote.
	Kind() Kind
}

// modelPreparer is implemented by providers that need model downloads
// before first use. The Selector runs it during initialization.
type modelPreparer interface {
	PrepareModel(ctx context.Context) error
}
