// Package embed talks to an OpenAI-compatible embeddings endpoint and
// provides the cosine math used by semantic re-ranking.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hunterwarburton/kbot/internal/core"
	"github.com/hunterwarburton/kbot/internal/logger"
	"github.com/hunterwarburton/kbot/internal/tokens"
)

// Embedding services cap input length; anything longer is truncated before
// the call rather than rejected by the service.
const maxInputTokens = 8191

// Client implements core.EmbedService against an OpenAI-compatible API.
// Failures degrade to zero vectors of the configured dimensionality so that
// downstream ranking sees similarity ~0 instead of an aborted query; the
// transient error is still returned for callers that want to log it.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dim        int
	httpClient *http.Client
	counter    *tokens.Counter
}

// NewClient creates an embedding client. timeout bounds each HTTP call.
func NewClient(baseURL, apiKey, model string, dim int, timeout time.Duration, counter *tokens.Counter) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dim:     dim,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		counter: counter,
	}
}

// Dimension returns the configured embedding size.
func (c *Client) Dimension() int {
	return c.dim
}

// Embed returns the embedding for a single text. On service failure the
// returned vector is all zeros and the error carries core.ErrTransient.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return vectors[0], err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one call. The result always has one vector per
// input; on failure every vector is zeros and the error is non-nil.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = c.counter.Truncate(t, maxInputTokens)
	}

	vectors, err := c.call(ctx, prepared)
	if err == nil {
		return vectors, nil
	}

	// One retry with a short backoff, then degrade.
	logger.Warn("Embedding call failed, retrying once: %v", err)
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return c.zeroVectors(len(texts)), core.Transientf("embedding cancelled: %v", ctx.Err())
	}

	vectors, err = c.call(ctx, prepared)
	if err == nil {
		return vectors, nil
	}
	logger.Error("Embedding call failed after retry, degrading to zero vectors: %v", err)
	return c.zeroVectors(len(texts)), core.Transientf("embedding service: %v", err)
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, texts []string) ([][]float32, error) {
	url := c.baseURL + "/embeddings"

	jsonData, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API HTTP error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) != c.dim {
			return nil, fmt.Errorf("embedding dimensionality mismatch: got %d, want %d", len(d.Embedding), c.dim)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (c *Client) zeroVectors(n int) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = make([]float32, c.dim)
	}
	return vectors
}
