// Package tokens wraps the tiktoken encoding shared by the chunker and the
// answer generator, so every token budget in the pipeline is measured with
// the same tokenizer the chat model uses.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding used by the embedding and chat models.
const encodingName = "cl100k_base"

// Counter counts and truncates text in model tokens.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter loads the cl100k_base encoding.
func NewCounter() (*Counter, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", encodingName, err)
	}
	return &Counter{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Truncate cuts text down to at most maxTokens tokens. Text already within
// the budget is returned unchanged.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	ids := c.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return c.enc.Decode(ids[:maxTokens])
}
