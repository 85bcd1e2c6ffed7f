// Package secondary is the HTTP client for the independent AI service used
// when every primary-provider path has failed.
package secondary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

// ErrMalformed is returned when the service answered 2xx with a body that
// carries no usable reply.
var ErrMalformed = errors.New("secondary: malformed response")

const maxBodyBytes = 4 << 20

// Timeouts per endpoint.
type Timeouts struct {
	Chat       time.Duration
	Assessment time.Duration
	Score      time.Duration
}

// Client talks to the secondary service. It is safe for concurrent use.
type Client struct {
	baseURL  string
	hc       *http.Client
	timeouts Timeouts
	breaker  *observability.CircuitBreaker
	replies  *replyNormalizer
}

var _ domain.SecondaryService = (*Client)(nil)

// New builds a client from configuration with tracing and a circuit breaker.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "secondary " + r.URL.Path
		}),
	)
	return NewWithHTTPClient(cfg.AIServerURL, &http.Client{Transport: transport}, Timeouts{
		Chat:       cfg.SecondaryChatTimeout,
		Assessment: cfg.SecondaryAssessmentTimeout,
		Score:      cfg.SecondaryScoreTimeout,
	}, observability.NewCircuitBreaker("secondary", cfg.SecondaryBreakerFailures, cfg.SecondaryBreakerCooldown))
}

// NewWithHTTPClient wires explicit dependencies. A nil breaker disables tripping.
func NewWithHTTPClient(baseURL string, hc *http.Client, t Timeouts, breaker *observability.CircuitBreaker) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if t.Chat <= 0 {
		t.Chat = 20 * time.Second
	}
	if t.Assessment <= 0 {
		t.Assessment = 30 * time.Second
	}
	if t.Score <= 0 {
		t.Score = 20 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		hc:       hc,
		timeouts: t,
		breaker:  breaker,
		replies:  mustReplyNormalizer(),
	}
}

// Chat posts {"query": prompt} to /chat and returns the normalized reply.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	raw, err := c.post(ctx, "/chat", "chat", c.timeouts.Chat, map[string]any{"query": prompt})
	if err != nil {
		return "", err
	}
	reply, err := c.replies.normalize(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("op=secondary.Chat: %w", err)
	}
	return reply, nil
}

// Score posts {"text": text} to /score.
func (c *Client) Score(ctx context.Context, text string) (domain.SecondaryScore, error) {
	raw, err := c.post(ctx, "/score", "score", c.timeouts.Score, map[string]any{"text": text})
	if err != nil {
		return domain.SecondaryScore{}, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.SecondaryScore{}, fmt.Errorf("op=secondary.Score: %w: %v", ErrMalformed, err)
	}
	out := domain.SecondaryScore{Score: toFloat(body["score"])}
	switch r := body["raw"].(type) {
	case nil:
	case string:
		out.Raw = r
	default:
		b, _ := json.Marshal(r)
		out.Raw = string(b)
	}
	if out.Score == nil && out.Raw == "" {
		return domain.SecondaryScore{}, fmt.Errorf("op=secondary.Score: %w: no score", ErrMalformed)
	}
	return out, nil
}

// GenerateAssessment posts {numQuestions, theme?} to /assessment/generate.
func (c *Client) GenerateAssessment(ctx context.Context, theme string, numQuestions int) (domain.GeneratedAssessment, error) {
	payload := map[string]any{"numQuestions": numQuestions}
	if theme != "" {
		payload["theme"] = theme
	}
	raw, err := c.post(ctx, "/assessment/generate", "assessment", c.timeouts.Assessment, payload)
	if err != nil {
		return domain.GeneratedAssessment{}, err
	}
	var body struct {
		Assessment struct {
			Title string `json:"title"`
		} `json:"assessment"`
		Questions []domain.Question `json:"questions"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.GeneratedAssessment{}, fmt.Errorf("op=secondary.GenerateAssessment: %w: %v", ErrMalformed, err)
	}
	if len(body.Questions) == 0 {
		return domain.GeneratedAssessment{}, fmt.Errorf("op=secondary.GenerateAssessment: %w: no questions", ErrMalformed)
	}
	return domain.GeneratedAssessment{Title: body.Assessment.Title, Questions: body.Questions, Raw: raw}, nil
}

func (c *Client) post(ctx context.Context, path, op string, timeout time.Duration, payload any) ([]byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("op=secondary.%s: %w", op, err)
	}
	raw, err := c.do(ctx, path, op, timeout, payload)
	// A caller that gave up says nothing about the service's health.
	if ctx.Err() != nil {
		c.breaker.Release()
	} else {
		c.breaker.Record(err)
	}
	return raw, err
}

func (c *Client) do(ctx context.Context, path, op string, timeout time.Duration, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("op=secondary.%s: encode: %w", op, err)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("op=secondary.%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.ObserveAIRequest("secondary", op, start)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("op=secondary.%s: %w after %s", op, domain.ErrUpstreamTimeout, timeout)
		}
		return nil, fmt.Errorf("op=secondary.%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("op=secondary.%s: %w reading body", op, domain.ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("op=secondary.%s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		slog.WarnContext(ctx, "secondary service non-2xx",
			slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("body", snippet))
		return nil, fmt.Errorf("op=secondary.%s: status %d", op, resp.StatusCode)
	}
	return raw, nil
}

func toFloat(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return &f
		}
	}
	return nil
}
