// Package llm implements the outbound chat-completion client used for
// query expansion and answer generation.
package llm

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
)

// Client talks to an OpenAI-compatible chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// apiError represents an error payload from the completion API.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// message is a chat message on the wire.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request body for the chat completion API.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

// NewClient creates a completion client. timeout bounds each HTTP call; LLM
// responses are slow, so callers typically pass something generous.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Complete sends one chat completion request and returns the model text.
// Transport failures are retried once with backoff and then surfaced as
// core.ErrTransient; callers own the degraded path.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	text, err := c.call(ctx, req)
	if err == nil {
		return text, nil
	}

	logger.Warn("Completion call failed, retrying once: %v", err)
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return "", core.Transientf("completion cancelled: %v", ctx.Err())
	}

	text, err = c.call(ctx, req)
	if err != nil {
		return "", core.Transientf("completion service: %v", err)
	}
	return text, nil
}

func (c *Client) call(ctx context.Context, req core.CompletionRequest) (string, error) {
	url := c.baseURL + "/chat/completions"

	messages := make([]message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, message{Role: "system", Content: req.SystemPrompt})
	}
	for _, turn := range req.History {
		messages = append(messages, message{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, message{Role: "user", Content: req.UserPrompt})

	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	logger.Debug("Sending completion request to '%s' with %d messages", c.model, len(messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	// Some gateways put errors in a 200 body; check it either way.
	var apiErr apiError
	if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
		return "", fmt.Errorf("completion API error: %s (code: %d)", apiErr.Error.Message, apiErr.Error.Code)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion API HTTP error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Choices []struct {
			FinishReason string  `json:"finish_reason"`
			Message      message `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage,omitempty"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}

	if parsed.Usage.TotalTokens > 0 {
		logger.Debug("Completion usage - prompt: %d, completion: %d, total: %d tokens, finish: %s",
			parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens,
			parsed.Usage.TotalTokens, parsed.Choices[0].FinishReason)
	}

	return parsed.Choices[0].Message.Content, nil
}
