package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/pkg/jsonx"
)

// Question count bounds for generated assessments.
const (
	DefaultQuestions = 5
	MaxQuestions     = 20
)

const defaultAssessmentTitle = "Daily Wellbeing Check-in"

// AssessmentFallback is the secondary assessment endpoint.
type AssessmentFallback interface {
	GenerateAssessment(ctx context.Context, theme string, numQuestions int) (domain.GeneratedAssessment, error)
}

// AssessmentService generates multiple-choice assessments.
type AssessmentService struct {
	Resolver  domain.Resolver
	Fallback  AssessmentFallback
	Prompts   PromptSet
	Validator *AssessmentValidator
}

// NewAssessmentService constructs an AssessmentService. fallback may be nil.
func NewAssessmentService(r domain.Resolver, fallback AssessmentFallback, p PromptSet, v *AssessmentValidator) AssessmentService {
	return AssessmentService{Resolver: r, Fallback: fallback, Prompts: p, Validator: v}
}

type generatedDoc struct {
	Assessment struct {
		Title string `json:"title"`
	} `json:"assessment"`
	Questions []domain.Question `json:"questions"`
}

// ClampQuestions applies the default and upper bound to a requested count.
func ClampQuestions(n int) int {
	switch {
	case n <= 0:
		return DefaultQuestions
	case n > MaxQuestions:
		return MaxQuestions
	default:
		return n
	}
}

// Generate asks the provider for an assessment. Replies that do not carry a
// valid document, and exhaustion, fall through to the secondary service.
func (s AssessmentService) Generate(ctx context.Context, theme string, n int) (domain.Assessment, error) {
	n = ClampQuestions(n)
	theme = strings.TrimSpace(theme)
	lg := observability.LoggerFromContext(ctx)

	out, err := s.Resolver.Resolve(ctx, s.Prompts.AssessmentPrompt(theme, n), nil)
	switch {
	case err == nil:
		a, perr := s.parse(out.Reply)
		if perr == nil {
			return a, nil
		}
		lg.Warn("assessment reply rejected, trying secondary service", slog.String("used_key", out.Label), slog.Any("error", perr))
		err = perr
	case !errors.Is(err, domain.ErrUpstreamExhausted):
		return domain.Assessment{}, fmt.Errorf("op=assessment.Generate: %w", err)
	}

	if s.Fallback == nil {
		return domain.Assessment{}, fmt.Errorf("op=assessment.Generate: %w", err)
	}
	fb, ferr := s.Fallback.GenerateAssessment(ctx, theme, n)
	if ferr != nil {
		lg.Error("secondary assessment generation failed", slog.Any("error", ferr))
		return domain.Assessment{}, fmt.Errorf("op=assessment.Generate: %w", errors.Join(err, ferr))
	}
	if s.Validator != nil {
		if verr := s.Validator.Validate(fb.Raw); verr != nil {
			return domain.Assessment{}, fmt.Errorf("op=assessment.Generate: secondary: %w", verr)
		}
	}
	if verr := checkAnswers(fb.Questions); verr != nil {
		return domain.Assessment{}, fmt.Errorf("op=assessment.Generate: secondary: %w", verr)
	}
	return domain.Assessment{Title: titleOr(fb.Title), AIResponse: fb.Raw, Questions: fb.Questions}, nil
}

func (s AssessmentService) parse(reply string) (domain.Assessment, error) {
	raw, ok := jsonx.Find(reply)
	if !ok {
		return domain.Assessment{}, fmt.Errorf("%w: no JSON object in reply", domain.ErrSchemaInvalid)
	}
	if s.Validator != nil {
		if err := s.Validator.Validate([]byte(raw)); err != nil {
			return domain.Assessment{}, err
		}
	}
	var doc generatedDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.Assessment{}, fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
	}
	if len(doc.Questions) == 0 {
		return domain.Assessment{}, fmt.Errorf("%w: no questions", domain.ErrSchemaInvalid)
	}
	if err := checkAnswers(doc.Questions); err != nil {
		return domain.Assessment{}, err
	}
	return domain.Assessment{Title: titleOr(doc.Assessment.Title), AIResponse: []byte(raw), Questions: doc.Questions}, nil
}

func titleOr(t string) string {
	if strings.TrimSpace(t) == "" {
		return defaultAssessmentTitle
	}
	return strings.TrimSpace(t)
}
