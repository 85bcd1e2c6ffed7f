package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/secure"
)

type resolverFunc func(ctx context.Context, prompt string, explicit *secure.Secret) (domain.RotationOutcome, error)

func (f resolverFunc) Resolve(ctx context.Context, prompt string, explicit *secure.Secret) (domain.RotationOutcome, error) {
	return f(ctx, prompt, explicit)
}

func replyWith(reply, label string) resolverFunc {
	return func(context.Context, string, *secure.Secret) (domain.RotationOutcome, error) {
		return domain.RotationOutcome{Reply: reply, Label: label}, nil
	}
}

func failWith(err error) resolverFunc {
	return func(context.Context, string, *secure.Secret) (domain.RotationOutcome, error) {
		return domain.RotationOutcome{}, err
	}
}

type memMessages struct {
	mu       sync.Mutex
	msgs     []domain.ChatMessage // oldest first
	appended [][]domain.ChatMessage
	lastArgs [3]any
	failWith error
}

func (m *memMessages) Recent(_ context.Context, userID, chatID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastArgs = [3]any{userID, chatID, limit}
	var out []domain.ChatMessage
	for i := len(m.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		msg := m.msgs[i]
		if (chatID != "" && msg.ChatID == chatID) || (chatID == "" && msg.UserID == userID) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memMessages) Append(_ context.Context, msgs ...domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.appended = append(m.appended, msgs)
	m.msgs = append(m.msgs, msgs...)
	return nil
}

type memAssessments struct {
	mu      sync.Mutex
	exists  bool
	from    time.Time
	to      time.Time
	created []domain.Assessment
	err     error
}

func (m *memAssessments) ExistsBetween(_ context.Context, from, to time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.from, m.to = from, to
	return m.exists, m.err
}

func (m *memAssessments) Create(_ context.Context, a domain.Assessment) (domain.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = "a-1"
	m.created = append(m.created, a)
	return a, nil
}

func (m *memAssessments) Latest(context.Context) (domain.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.created) == 0 {
		return domain.Assessment{}, domain.ErrNotFound
	}
	return m.created[len(m.created)-1], nil
}

type staticPrompts struct{}

func (staticPrompts) ScoringPrompt(text string) string { return "score: " + text }
func (staticPrompts) AssessmentPrompt(theme string, count int) string {
	return "assessment:" + theme
}

type wordCounter struct{}

// Count treats each byte as a token so tests control the budget exactly.
func (wordCounter) Count(text, _ string) int { return len(text) }
