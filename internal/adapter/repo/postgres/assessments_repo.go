package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

// AssessmentRepo stores generated assessments and their questions.
type AssessmentRepo struct{ Pool PgxPool }

// NewAssessmentRepo constructs an AssessmentRepo with the given pool.
func NewAssessmentRepo(p PgxPool) *AssessmentRepo { return &AssessmentRepo{Pool: p} }

// ExistsBetween reports whether an assessment was created in [from, to).
func (r *AssessmentRepo) ExistsBetween(ctx domain.Context, from, to time.Time) (bool, error) {
	ctx, span := otel.Tracer("repo.assessments").Start(ctx, "assessments.ExistsBetween")
	defer span.End()
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM assessments WHERE created_at >= $1 AND created_at < $2)`
	if err := r.Pool.QueryRow(ctx, q, from.UTC(), to.UTC()).Scan(&exists); err != nil {
		return false, fmt.Errorf("op=assessment.exists: %w", err)
	}
	return exists, nil
}

// Create inserts the assessment and its questions atomically.
func (r *AssessmentRepo) Create(ctx domain.Context, a domain.Assessment) (domain.Assessment, error) {
	ctx, span := otel.Tracer("repo.assessments").Start(ctx, "assessments.Create")
	defer span.End()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	raw := a.AIResponse
	if len(raw) == 0 || !json.Valid(raw) {
		raw = []byte("{}")
	}
	span.SetAttributes(attribute.String("assessment.id", a.ID), attribute.Int("questions", len(a.Questions)))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("op=assessment.create: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO assessments (id, title, ai_response, created_at) VALUES ($1,$2,$3,$4)`, a.ID, a.Title, raw, a.CreatedAt); err != nil {
		return domain.Assessment{}, fmt.Errorf("op=assessment.create: %w", err)
	}
	qq := `INSERT INTO questions (id, assessment_id, position, title, options, correct_answer) VALUES ($1,$2,$3,$4,$5,$6)`
	for i := range a.Questions {
		q := &a.Questions[i]
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		q.AssessmentID = a.ID
		if _, err := tx.Exec(ctx, qq, q.ID, a.ID, i, q.Title, q.Options, q.CorrectAnswer); err != nil {
			return domain.Assessment{}, fmt.Errorf("op=assessment.create: question %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Assessment{}, fmt.Errorf("op=assessment.create: commit: %w", err)
	}
	a.AIResponse = raw
	return a, nil
}

// Latest loads the newest assessment with its questions in order.
func (r *AssessmentRepo) Latest(ctx domain.Context) (domain.Assessment, error) {
	ctx, span := otel.Tracer("repo.assessments").Start(ctx, "assessments.Latest")
	defer span.End()
	var a domain.Assessment
	row := r.Pool.QueryRow(ctx, `SELECT id, title, ai_response, created_at FROM assessments ORDER BY created_at DESC LIMIT 1`)
	if err := row.Scan(&a.ID, &a.Title, &a.AIResponse, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Assessment{}, fmt.Errorf("op=assessment.latest: %w", domain.ErrNotFound)
		}
		return domain.Assessment{}, fmt.Errorf("op=assessment.latest: %w", err)
	}
	rows, err := r.Pool.Query(ctx, `SELECT id, title, options, correct_answer FROM questions WHERE assessment_id=$1 ORDER BY position`, a.ID)
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("op=assessment.latest: questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		q := domain.Question{AssessmentID: a.ID}
		if err := rows.Scan(&q.ID, &q.Title, &q.Options, &q.CorrectAnswer); err != nil {
			return domain.Assessment{}, fmt.Errorf("op=assessment.latest: questions: %w", err)
		}
		a.Questions = append(a.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Assessment{}, fmt.Errorf("op=assessment.latest: questions: %w", err)
	}
	return a, nil
}
