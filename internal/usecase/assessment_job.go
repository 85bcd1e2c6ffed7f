package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

// AssessmentGenerator produces an assessment document.
type AssessmentGenerator interface {
	Generate(ctx context.Context, theme string, n int) (domain.Assessment, error)
}

// AssessmentJob creates the daily assessment and serves on-demand requests.
type AssessmentJob struct {
	Generator AssessmentGenerator
	Repo      domain.AssessmentRepository
	Questions int
	Location  *time.Location
	Now       func() time.Time
}

// NewAssessmentJob constructs an AssessmentJob using the local time zone.
func NewAssessmentJob(g AssessmentGenerator, repo domain.AssessmentRepository, questions int) *AssessmentJob {
	return &AssessmentJob{Generator: g, Repo: repo, Questions: questions, Location: time.Local, Now: time.Now}
}

// Run is the scheduler entry point. Failures are logged and counted, never returned.
func (j *AssessmentJob) Run(ctx context.Context) {
	lg := observability.LoggerFromContext(ctx)
	lg.Info("running daily assessment job")
	a, created, err := j.Daily(ctx)
	switch {
	case err != nil:
		observability.RecordAssessmentJob("cron", "failed")
		lg.Error("daily assessment job failed", slog.Any("error", err))
	case !created:
		observability.RecordAssessmentJob("cron", "skipped")
		lg.Info("assessment for today already exists, skipping creation")
	default:
		observability.RecordAssessmentJob("cron", "created")
		lg.Info("assessment created", slog.String("assessment_id", a.ID), slog.Int("questions", len(a.Questions)))
	}
}

// Daily creates today's assessment unless one already exists for the current
// local day. created is false when it skipped.
func (j *AssessmentJob) Daily(ctx context.Context) (domain.Assessment, bool, error) {
	from, to := j.today()
	exists, err := j.Repo.ExistsBetween(ctx, from, to)
	if err != nil {
		return domain.Assessment{}, false, fmt.Errorf("op=assessment_job.Daily: %w", err)
	}
	if exists {
		return domain.Assessment{}, false, nil
	}
	a, err := j.create(ctx, "", j.Questions)
	if err != nil {
		return domain.Assessment{}, false, fmt.Errorf("op=assessment_job.Daily: %w", err)
	}
	return a, true, nil
}

// HandleRequest serves an on-demand request from the queue. The daily guard
// does not apply.
func (j *AssessmentJob) HandleRequest(ctx context.Context, req domain.AssessmentRequest) (domain.Assessment, error) {
	a, err := j.create(ctx, req.Theme, req.NumQuestions)
	if err != nil {
		observability.RecordAssessmentJob("request", "failed")
		return domain.Assessment{}, fmt.Errorf("op=assessment_job.HandleRequest: %w", err)
	}
	observability.RecordAssessmentJob("request", "created")
	observability.LoggerFromContext(ctx).Info("assessment created on request",
		slog.String("assessment_id", a.ID), slog.String("requested_by", req.RequestedBy))
	return a, nil
}

func (j *AssessmentJob) create(ctx context.Context, theme string, n int) (domain.Assessment, error) {
	if n <= 0 {
		n = j.Questions
	}
	a, err := j.Generator.Generate(ctx, theme, n)
	if err != nil {
		return domain.Assessment{}, err
	}
	if len(a.Questions) == 0 {
		return domain.Assessment{}, fmt.Errorf("%w: no questions", domain.ErrSchemaInvalid)
	}
	return j.Repo.Create(ctx, a)
}

func (j *AssessmentJob) today() (time.Time, time.Time) {
	loc := j.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	t := now().In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
