package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/ai/gemini"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/ai/rotation"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/ai/secondary"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/secretcodec"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/secure"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/service/credentials"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/usecase"
)

// Core holds the services both binaries build on top of one database pool.
type Core struct {
	Sink         *observability.Counters
	Store        *credentials.Store
	Orchestrator *rotation.Orchestrator
	Secondary    *secondary.Client
	Messages     domain.MessageRepository
	Assessments  domain.AssessmentRepository
	Chat         usecase.ChatService
	Scoring      usecase.ScoringService
	Generator    usecase.AssessmentService

	envKey *secure.Secret
}

// NewCore wires the credential store, the rotation orchestrator and the
// usecases. pool may be any postgres.PgxPool.
func NewCore(cfg config.Config, pool postgres.PgxPool, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("op=app.NewCore: %w", err)
	}
	codec, err := secretcodec.New(cfg.MasterKeyMaterial())
	if err != nil {
		return nil, fmt.Errorf("op=app.NewCore: %w", err)
	}
	if !codec.Configured() {
		logger.Warn("MASTER_KEY not set; stored credentials are unavailable")
	}
	validator, err := usecase.NewAssessmentValidator()
	if err != nil {
		return nil, fmt.Errorf("op=app.NewCore: %w", err)
	}

	c := &Core{
		Sink:        observability.NewCounters(logger),
		Messages:    postgres.NewMessageRepo(pool),
		Assessments: postgres.NewAssessmentRepo(pool),
		Secondary:   secondary.New(cfg),
	}
	if cfg.GeminiAPIKey != "" {
		if c.envKey, err = secure.NewSecretString(cfg.GeminiAPIKey); err != nil {
			return nil, fmt.Errorf("op=app.NewCore: env key: %w", err)
		}
	}

	invoker := gemini.New(cfg)
	c.Store = credentials.NewStore(postgres.NewCredentialRepo(pool), codec, invoker)
	c.Orchestrator = rotation.New(c.Store, invoker, c.Secondary, observability.NewPromSink(c.Sink, nil), rotation.Options{
		Provider:       domain.ProviderGemini,
		CandidateLimit: cfg.RotationCandidateLimit,
		EnvKey:         c.envKey,
		Backoff:        cfg.GetRotationBackoffConfig(),
		TouchTimeout:   cfg.TouchTimeout,
	})

	c.Chat = usecase.ChatService{
		Resolver:    c.Orchestrator,
		Messages:    c.Messages,
		Counter:     tokencount.NewCounter(),
		Preamble:    prompts.SystemPreamble,
		Model:       cfg.GeminiModel,
		Window:      cfg.ChatHistoryWindow,
		TokenBudget: cfg.ChatHistoryTokenBudget,
		MaxChars:    cfg.ChatMaxMessageChars,
		Now:         time.Now,
	}
	c.Scoring = usecase.NewScoringService(c.Orchestrator, c.Secondary, prompts)
	c.Generator = usecase.NewAssessmentService(c.Orchestrator, c.Secondary, prompts, validator)
	return c, nil
}

// Close waits for pending last-used writes and wipes the env key.
func (c *Core) Close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.Orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if c.envKey != nil {
		c.envKey.Destroy()
	}
}
