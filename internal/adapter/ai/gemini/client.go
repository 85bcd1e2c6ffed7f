// Package gemini implements domain.Invoker against the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

const (
	providerName = "gemini"
	maxBodyBytes = 4 << 20
)

// Client performs one generateContent call per Invoke. It holds no credential
// and never retries.
type Client struct {
	baseURL string
	model   string
	hc      *http.Client
}

// New constructs a client with an otelhttp transport and the configured timeout.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "gemini " + r.Method
		}),
	)
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewWithHTTPClient(cfg.GeminiBaseURL, cfg.GeminiModel, &http.Client{Timeout: timeout, Transport: transport})
}

// NewWithHTTPClient is used by tests and by callers that share a client.
func NewWithHTTPClient(baseURL, model string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), model: model, hc: hc}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}

// Invoke sends prompt using secret and returns the concatenated candidate text.
func (c *Client) Invoke(ctx context.Context, secret []byte, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", domain.NewProviderError(domain.KindMalformed, 0, fmt.Errorf("op=gemini.Invoke: encode: %w", err))
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.NewProviderError(domain.KindNetwork, 0, fmt.Errorf("op=gemini.Invoke: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", string(secret))

	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.ObserveAIRequest(providerName, "generate", start)
	if err != nil {
		// url.Error embeds the request URL only; the key travels in a header.
		return "", domain.NewProviderError(domain.KindNetwork, 0, fmt.Errorf("op=gemini.Invoke: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", domain.NewProviderError(domain.KindNetwork, resp.StatusCode, fmt.Errorf("op=gemini.Invoke: read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := classifyStatus(resp.StatusCode, raw)
		slog.Warn("ai provider non-2xx",
			slog.String("provider", providerName),
			slog.String("model", c.model),
			slog.Int("status", resp.StatusCode),
			slog.String("kind", kind.String()))
		return "", domain.NewProviderError(kind, resp.StatusCode, fmt.Errorf("op=gemini.Invoke: status %d: %s", resp.StatusCode, errorMessage(raw)))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", domain.NewProviderError(domain.KindMalformed, resp.StatusCode, fmt.Errorf("op=gemini.Invoke: decode: %w", err))
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", domain.NewProviderError(domain.KindMalformed, resp.StatusCode, fmt.Errorf("op=gemini.Invoke: prompt blocked: %s", out.PromptFeedback.BlockReason))
	}
	if len(out.Candidates) == 0 {
		return "", domain.NewProviderError(domain.KindMalformed, resp.StatusCode, errors.New("op=gemini.Invoke: no candidates"))
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", domain.NewProviderError(domain.KindMalformed, resp.StatusCode, fmt.Errorf("op=gemini.Invoke: empty reply (finish reason %q)", out.Candidates[0].FinishReason))
	}
	return b.String(), nil
}

func classifyStatus(status int, body []byte) domain.ProviderErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindAuth
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimited
	case status == http.StatusBadRequest && isInvalidKey(body):
		return domain.KindAuth
	case status >= 500:
		return domain.KindNetwork
	default:
		return domain.KindMalformed
	}
}

func isInvalidKey(body []byte) bool {
	var e apiError
	if json.Unmarshal(body, &e) != nil {
		return false
	}
	for _, d := range e.Error.Details {
		if d.Reason == "API_KEY_INVALID" {
			return true
		}
	}
	return strings.Contains(e.Error.Message, "API key not valid")
}

func errorMessage(body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	s := string(body)
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
