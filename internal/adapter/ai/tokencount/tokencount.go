// Package tokencount counts prompt tokens so chat history can be trimmed to a
// budget before it is sent to the provider.
//
// Gemini does not publish an offline tokenizer; cl100k_base via tiktoken-go is
// used as an approximation, with a length/4 estimate when no encoding loads.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

// Counter provides thread-safe token counting. Encodings are loaded lazily and cached.
type Counter struct {
	mu            sync.RWMutex
	encodingCache map[string]*tiktoken.Tiktoken
	failed        map[string]bool
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{encodingCache: map[string]*tiktoken.Tiktoken{}, failed: map[string]bool{}}
}

// DefaultCounter is a process-wide counter.
var DefaultCounter = NewCounter()

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[name]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodingCache[name]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding", slog.String("model", model), slog.Any("error", err))
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	c.encodingCache[name] = enc
	return enc, nil
}

// normalizeModelName maps provider model ids onto a tiktoken model name.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	switch {
	case strings.HasPrefix(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// gemini, gemma and unknown models
		return "gpt-4"
	}
}

// CountTokens counts the tokens of text for model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Count is CountTokens with the estimate as fallback. It logs the first
// failure per model only.
func (c *Counter) Count(text, model string) int {
	n, err := c.CountTokens(text, model)
	if err == nil {
		return n
	}
	c.mu.Lock()
	first := !c.failed[model]
	c.failed[model] = true
	c.mu.Unlock()
	if first {
		slog.Warn("failed to count tokens, using estimate", slog.String("model", model), slog.Any("error", err))
	}
	return Estimate(text)
}

// Estimate approximates tokens as one per four bytes, rounded up.
func Estimate(text string) int {
	return (len(text) + 3) / 4
}
