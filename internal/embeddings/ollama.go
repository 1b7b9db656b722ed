package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
	ollamaEmbedPath    = "/api/embed"
	maxErrorBody       = 512
)

// ErrNoEmbeddingInResponse is returned when a provider response carries fewer vectors than inputs.
var ErrNoEmbeddingInResponse = errors.New("embeddings: no embedding in response")

// OllamaClient calls an Ollama-compatible /api/embed endpoint.
// Transient HTTP failures are retried by go-retryablehttp.
type OllamaClient struct {
	baseURL string
	model   string
	http    *http.Client
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithOllamaURL sets the server base URL (e.g. http://localhost:11434).
func WithOllamaURL(url string) OllamaOption {
	return func(c *OllamaClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithOllamaModel sets the embedding model name. Empty keeps the default.
func WithOllamaModel(model string) OllamaOption {
	return func(c *OllamaClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithOllamaHTTPClient replaces the HTTP client (tests).
func WithOllamaHTTPClient(hc *http.Client) OllamaOption {
	return func(c *OllamaClient) { c.http = hc }
}

// NewOllamaClient creates an Ollama embeddings client with retrying, traced HTTP transport.
func NewOllamaClient(opts ...OllamaOption) *OllamaClient {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = 30 * time.Second
	retryClient.RetryMax = 3
	retryClient.Logger = nil // errors are logged by callers
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(retryClient.HTTPClient.Transport)

	c := &OllamaClient{
		baseURL: defaultOllamaURL,
		model:   defaultOllamaModel,
		http:    retryClient.StandardClient(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// CreateEmbedding returns the embedding for input.
func (c *OllamaClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	vecs, err := c.embed(ctx, input, 1)
	if err != nil {
		return nil, err
	}

	return vecs[0], nil
}

// CreateEmbeddings returns embeddings for inputs in one request.
func (c *OllamaClient) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	return c.embed(ctx, inputs, len(inputs))
}

func (c *OllamaClient) embed(ctx context.Context, input any, want int) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ollamaEmbedPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama embed: create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama embed: decode response: %w", err)
	}

	if len(out.Embeddings) < want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrNoEmbeddingInResponse, len(out.Embeddings), want)
	}

	return out.Embeddings, nil
}

var (
	_ Client      = (*OllamaClient)(nil)
	_ BatchClient = (*OllamaClient)(nil)
)
