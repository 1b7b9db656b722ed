// Package embeddings implements the embedding provider: text in, unit-length vector out.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/pkg/vecmath"
)

// Client generates an embedding vector for text.
// Implemented by provider-specific clients (local hashing, Ollama, OpenAI, Gemini).
type Client interface {
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)
}

// BatchClient is implemented by clients that embed several inputs in one call.
type BatchClient interface {
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
}

// Provider wraps a Client with normalization and maps backend failures to
// healerrors.EmbeddingUnavailableError. It is safe for concurrent use when the client is.
type Provider struct {
	name   string
	client Client
}

// NewProvider returns a Provider named name (used in errors and logs).
func NewProvider(name string, client Client) *Provider {
	return &Provider{name: name, client: client}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Embed returns the normalized embedding of text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.client.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, p.wrap(ctx, err)
	}

	return vecmath.Normalized(vec), nil
}

// EmbedMany returns the normalized embeddings of texts, in input order.
func (p *Provider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if batch, ok := p.client.(BatchClient); ok {
		vecs, err := batch.CreateEmbeddings(ctx, texts)
		if err != nil {
			return nil, p.wrap(ctx, err)
		}

		if len(vecs) != len(texts) {
			return nil, p.wrap(ctx, fmt.Errorf("got %d embeddings for %d inputs", len(vecs), len(texts)))
		}

		out := make([][]float32, len(vecs))
		for i := range vecs {
			out[i] = vecmath.Normalized(vecs[i])
		}

		return out, nil
	}

	out := make([][]float32, len(texts))

	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}

		out[i] = vec
	}

	return out, nil
}

// Similarity returns the cosine similarity of two embeddings.
func (p *Provider) Similarity(a, b []float32) float64 {
	return Similarity(a, b)
}

// wrap keeps caller cancellation distinguishable from an unavailable backend.
func (p *Provider) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("embed: %w", err)
	}

	return healerrors.NewEmbeddingUnavailableError(p.name, err)
}

// Similarity is the cosine similarity of a and b; for normalized vectors this is their dot product.
func Similarity(a, b []float32) float64 {
	return vecmath.Cosine(a, b)
}
