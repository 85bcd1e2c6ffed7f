package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/secure"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamExhausted means every credential, the env fallback and the
	// secondary service failed for one request.
	ErrUpstreamExhausted = errors.New("upstream exhausted")
	// ErrCodecNotConfigured means no master key is available to encrypt or decrypt secrets.
	ErrCodecNotConfigured = errors.New("secret codec not configured")
	ErrSchemaInvalid      = errors.New("schema invalid")
	ErrInternal           = errors.New("internal error")
)

// Provider enumerates the LLM vendors a credential can belong to.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderGrok   Provider = "grok"
	ProviderOther  Provider = "other"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGemini, ProviderGrok, ProviderOther:
		return true
	}
	return false
}

// ParseProvider normalizes s into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidArgument, s)
	}
	return p, nil
}

// Rotation labels for outcomes that did not come from a stored credential.
const (
	LabelProvided          = "provided"
	LabelEnv               = "env"
	LabelSecondaryFallback = "secondary_fallback"
)

// Credential is a stored provider API key. EncryptedSecret is always the codec blob.
type Credential struct {
	ID              string
	Name            string
	Provider        Provider
	EncryptedSecret string
	IsActive        bool
	CreatedBy       string
	CreatedAt       time.Time
	LastUsedAt      *time.Time
	Notes           string
}

// Metadata strips the secret.
func (c Credential) Metadata() CredentialMetadata {
	return CredentialMetadata{
		ID:         c.ID,
		Name:       c.Name,
		Provider:   c.Provider,
		IsActive:   c.IsActive,
		CreatedBy:  c.CreatedBy,
		CreatedAt:  c.CreatedAt,
		LastUsedAt: c.LastUsedAt,
		Notes:      c.Notes,
	}
}

// CredentialMetadata is a Credential without secret material.
type CredentialMetadata struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Provider   Provider   `json:"provider"`
	IsActive   bool       `json:"isActive"`
	CreatedBy  string     `json:"createdBy,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Candidate is an active credential with its secret decrypted into guarded memory.
// Holders call Secret.Destroy when the invocation is over.
type Candidate struct {
	ID       string
	Provider Provider
	Secret   *secure.Secret
}

// RotationOutcome is the reply produced by exactly one successful source.
type RotationOutcome struct {
	Reply string
	Label string
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type ChatMessage struct {
	ID        string
	Role      MessageRole
	Content   string
	UserID    string
	ChatID    string
	CreatedAt time.Time
}

type Assessment struct {
	ID         string
	Title      string
	AIResponse []byte // raw generation payload, JSON
	CreatedAt  time.Time
	Questions  []Question
}

type Question struct {
	ID            string   `json:"id,omitempty"`
	AssessmentID  string   `json:"assessmentId,omitempty"`
	Title         string   `json:"title"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// MoodScore is the parsed result of free-text scoring. Confidence is nil when
// the reply carried no parseable JSON.
type MoodScore struct {
	Mood         string   `json:"mood,omitempty"`
	Confidence   *float64 `json:"confidence"`
	Advice       string   `json:"advice,omitempty"`
	Raw          string   `json:"raw,omitempty"`
	UsedKeyLabel string   `json:"usedKeyLabel,omitempty"`
}

// Repositories (ports)

type CredentialRepository interface {
	Create(ctx Context, c Credential) (Credential, error)
	List(ctx Context) ([]Credential, error)
	Get(ctx Context, id string) (Credential, error)
	Update(ctx Context, c Credential) (Credential, error)
	Delete(ctx Context, id string) error
	// ListActive returns up to limit active credentials of provider, newest first.
	ListActive(ctx Context, provider Provider, limit int) ([]Credential, error)
	TouchLastUsed(ctx Context, id string, at time.Time) error
}

type MessageRepository interface {
	// Recent returns the newest limit messages for chatID, or for userID when chatID is empty, newest first.
	Recent(ctx Context, userID, chatID string, limit int) ([]ChatMessage, error)
	// Append stores all messages atomically.
	Append(ctx Context, msgs ...ChatMessage) error
}

type AssessmentRepository interface {
	// ExistsBetween reports whether an assessment was created in [from, to).
	ExistsBetween(ctx Context, from, to time.Time) (bool, error)
	// Create stores the assessment and its questions in one transaction.
	Create(ctx Context, a Assessment) (Assessment, error)
	Latest(ctx Context) (Assessment, error)
}

// Invoker performs one call against the primary provider with one credential.
// It never retries; failures are *ProviderError.
type Invoker interface {
	Invoke(ctx Context, secret []byte, prompt string) (string, error)
}

// Resolver turns a prompt into a reply using rotation and fallbacks.
type Resolver interface {
	Resolve(ctx Context, prompt string, explicit *secure.Secret) (RotationOutcome, error)
}

// MetricsSink counts operational events keyed by name and tag set.
type MetricsSink interface {
	Increment(name string, amount float64, tags map[string]string)
	Snapshot() map[string]float64
}

// SecondaryScore is the secondary service's answer to a scoring request.
type SecondaryScore struct {
	Score *float64
	Raw   string
}

// GeneratedAssessment is an assessment produced by the secondary service.
// Raw is the full response body.
type GeneratedAssessment struct {
	Title     string
	Questions []Question
	Raw       []byte
}

// SecondaryService is the independent AI backend used after primary exhaustion.
type SecondaryService interface {
	Chat(ctx Context, prompt string) (string, error)
	Score(ctx Context, text string) (SecondaryScore, error)
	GenerateAssessment(ctx Context, theme string, numQuestions int) (GeneratedAssessment, error)
}

// AssessmentRequest asks the worker to generate an assessment out of schedule.
type AssessmentRequest struct {
	Theme        string    `json:"theme,omitempty"`
	NumQuestions int       `json:"numQuestions"`
	RequestedBy  string    `json:"requestedBy,omitempty"`
	RequestedAt  time.Time `json:"requestedAt"`
}

// Queue publishes work for the worker process.
type Queue interface {
	EnqueueAssessment(ctx Context, req AssessmentRequest) error
}

// Context is an alias to context.Context for brevity in ports.
type Context = context.Context
