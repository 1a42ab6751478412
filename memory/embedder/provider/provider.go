// Package provider adapts hosted embedding APIs to memory.Embedder using
// the embedding functions that ship with chromem-go.
package provider

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory"
	"github.com/becomeliminal/convmem/memory/embedder/lexical"
)

// Supported provider names.
const (
	Lexical = "lexical"
	OpenAI  = "openai"
	Ollama  = "ollama"
)

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is one of Lexical, OpenAI or Ollama. Default: Lexical.
	Provider string

	// Model is the provider's model name.
	// Default: text-embedding-3-small for OpenAI, nomic-embed-text for Ollama.
	Model string

	// BaseURL overrides the API endpoint. For OpenAI it selects the
	// OpenAI-compatible client.
	BaseURL string

	APIKey string
}

// New returns the embedder described by cfg.
func New(cfg Config) (memory.Embedder, error) {
	switch cfg.Provider {
	case "", Lexical:
		return lexical.New(), nil
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, core.InvalidArgumentf("openai embedder needs an API key")
		}
		model := cfg.Model
		if model == "" {
			model = string(chromem.EmbeddingModelOpenAI3Small)
		}
		if cfg.BaseURL != "" {
			return Wrap(chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, model, nil)), nil
		}
		return Wrap(chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, chromem.EmbeddingModelOpenAI(model))), nil
	case Ollama:
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return Wrap(chromem.NewEmbeddingFuncOllama(model, cfg.BaseURL)), nil
	default:
		return nil, core.InvalidArgumentf("unknown embedding provider %q", cfg.Provider)
	}
}

// FuncEmbedder turns a chromem.EmbeddingFunc into a memory.Embedder.
// The vector size is learned from the first successful call.
type FuncEmbedder struct {
	fn chromem.EmbeddingFunc

	mu   sync.Mutex
	dims int
}

// Wrap adapts fn.
func Wrap(fn chromem.EmbeddingFunc) *FuncEmbedder {
	return &FuncEmbedder{fn: fn}
}

// Embed calls the provider.
func (e *FuncEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.fn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		e.dims = len(v)
	} else if len(v) != e.dims {
		return nil, fmt.Errorf("embed: provider returned %d dimensions, expected %d", len(v), e.dims)
	}
	return v, nil
}

// Dimensions returns the vector size, or 0 before the first call.
func (e *FuncEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}
