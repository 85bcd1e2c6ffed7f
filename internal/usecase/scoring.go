// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/pkg/jsonx"
	"github.com/fairyhunter13/neurowell-ai-gateway/pkg/textx"
)

// PromptSet renders the provider prompts. config.Prompts implements it.
type PromptSet interface {
	ScoringPrompt(text string) string
	AssessmentPrompt(theme string, count int) string
}

// ScoreFallback is the secondary scoring endpoint.
type ScoreFallback interface {
	Score(ctx context.Context, text string) (domain.SecondaryScore, error)
}

// ScoringService turns free text into a mood score.
type ScoringService struct {
	Resolver domain.Resolver
	Fallback ScoreFallback
	Prompts  PromptSet
	MaxChars int
}

// NewScoringService constructs a ScoringService. fallback may be nil.
func NewScoringService(r domain.Resolver, fallback ScoreFallback, p PromptSet) ScoringService {
	return ScoringService{Resolver: r, Fallback: fallback, Prompts: p, MaxChars: 4000}
}

// Score asks the provider for {"mood","confidence","advice"}. A reply without
// parseable JSON is returned as Raw with no confidence.
func (s ScoringService) Score(ctx context.Context, text string) (domain.MoodScore, error) {
	text = textx.SanitizeMessage(text, s.MaxChars)
	if text == "" {
		return domain.MoodScore{}, fmt.Errorf("op=score.Score: %w: text is required", domain.ErrInvalidArgument)
	}
	lg := observability.LoggerFromContext(ctx)

	out, err := s.Resolver.Resolve(ctx, s.Prompts.ScoringPrompt(text), nil)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamExhausted) && s.Fallback != nil {
			fb, ferr := s.Fallback.Score(ctx, text)
			if ferr == nil {
				lg.Info("score served by secondary service")
				res := domain.MoodScore{Raw: fb.Raw, UsedKeyLabel: domain.LabelSecondaryFallback}
				if fb.Score != nil {
					v := NormalizeScore(*fb.Score)
					res.Confidence = &v
				}
				return res, nil
			}
			lg.Warn("secondary score fallback failed", slog.Any("error", ferr))
		}
		return domain.MoodScore{}, fmt.Errorf("op=score.Score: %w", err)
	}

	var parsed struct {
		Mood       string `json:"mood"`
		Confidence any    `json:"confidence"`
		Advice     string `json:"advice"`
	}
	if !jsonx.ExtractInto(out.Reply, &parsed) {
		lg.Warn("score reply carried no JSON object", slog.String("used_key", out.Label))
		return domain.MoodScore{Raw: out.Reply, UsedKeyLabel: out.Label}, nil
	}
	res := domain.MoodScore{Mood: parsed.Mood, Advice: parsed.Advice, UsedKeyLabel: out.Label}
	if v, ok := numeric(parsed.Confidence); ok {
		n := NormalizeScore(v)
		res.Confidence = &n
	} else {
		res.Raw = out.Reply
	}
	return res, nil
}

// NormalizeScore maps fractions onto 0-100 and rounds to two decimals. Values
// above 1 are already on a wider scale and are only rounded.
func NormalizeScore(v float64) float64 {
	if v <= 1 {
		return round2(v * 100)
	}
	return round2(v)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%")), 64)
		return f, err == nil
	}
	return 0, false
}
