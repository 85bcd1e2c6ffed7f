// Package rotation resolves a prompt into a reply by trying credentials in
// order, then the environment key, then the secondary service.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/secure"
)

// Metric names recorded on the sink.
const (
	MetricAttempts  = "gemini.attempts"
	MetricSuccess   = "gemini.success"
	MetricFailures  = "gemini.failures"
	MetricFallbacks = "gemini.fallbacks"
)

// Values of the mode tag.
const (
	ModeSingle      = "single"
	ModeRotation    = "rotation"
	ModeEnvFallback = "env-fallback"
)

// CandidateSource is the part of the credential store the orchestrator needs.
type CandidateSource interface {
	ActiveCandidates(ctx context.Context, provider domain.Provider, limit int) ([]domain.Candidate, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// Secondary is the last-resort chat backend.
type Secondary interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// ExhaustedError is returned when every path failed. It matches
// domain.ErrUpstreamExhausted and the terminal cause under errors.Is.
type ExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v after %d provider attempts", domain.ErrUpstreamExhausted, e.Attempts)
	}
	return fmt.Sprintf("%v after %d provider attempts: %v", domain.ErrUpstreamExhausted, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{domain.ErrUpstreamExhausted}
	}
	return []error{domain.ErrUpstreamExhausted, e.Cause}
}

// Options tune an Orchestrator. Zero values take the defaults.
type Options struct {
	Provider       domain.Provider
	CandidateLimit int
	// EnvKey is the statically configured fallback credential; nil skips it.
	EnvKey       *secure.Secret
	Backoff      config.BackoffConfig
	TouchTimeout time.Duration
	Sleep        Sleeper
	Rand         func() float64
}

// Orchestrator implements domain.Resolver. Calls are sequential within one
// Resolve; concurrent Resolve calls share nothing but the sink and store.
type Orchestrator struct {
	store     CandidateSource
	invoker   domain.Invoker
	secondary Secondary
	sink      domain.MetricsSink
	opts      Options

	touches sync.WaitGroup
}

var _ domain.Resolver = (*Orchestrator)(nil)

// New wires an Orchestrator. secondary may be nil.
func New(store CandidateSource, invoker domain.Invoker, secondary Secondary, sink domain.MetricsSink, opts Options) *Orchestrator {
	if opts.Provider == "" {
		opts.Provider = domain.ProviderGemini
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 5
	}
	if opts.Backoff == (config.BackoffConfig{}) {
		opts.Backoff = config.BackoffConfig{Base: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: 100 * time.Millisecond}
	}
	if opts.TouchTimeout <= 0 {
		opts.TouchTimeout = 5 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Orchestrator{store: store, invoker: invoker, secondary: secondary, sink: sink, opts: opts}
}

// Resolve returns a reply from exactly one source. An explicit credential is
// tried once and replaces store rotation; the env key and the secondary
// service follow in both cases.
func (o *Orchestrator) Resolve(ctx context.Context, prompt string, explicit *secure.Secret) (domain.RotationOutcome, error) {
	ctx, span := otel.Tracer("rotation").Start(ctx, "rotation.Resolve")
	defer span.End()
	lg := observability.LoggerFromContext(ctx)

	attempts := 0
	var lastErr error

	if explicit != nil {
		attempts++
		tags := o.tags(ModeSingle)
		reply, err := o.attempt(ctx, explicit, prompt, tags)
		if err == nil {
			return o.done(span, domain.RotationOutcome{Reply: reply, Label: domain.LabelProvided}, attempts), nil
		}
		if ctx.Err() != nil {
			return o.cancelled(ctx, span)
		}
		lg.Warn("provided credential failed", slog.String("provider", string(o.opts.Provider)), slog.Any("error", err))
		lastErr = err
	} else {
		out, n, err := o.rotate(ctx, prompt)
		attempts += n
		if err == nil {
			return o.done(span, out, attempts), nil
		}
		if ctx.Err() != nil {
			return o.cancelled(ctx, span)
		}
		lastErr = err
	}

	if o.opts.EnvKey != nil {
		attempts++
		reply, err := o.attempt(ctx, o.opts.EnvKey, prompt, o.tags(ModeEnvFallback))
		if err == nil {
			return o.done(span, domain.RotationOutcome{Reply: reply, Label: domain.LabelEnv}, attempts), nil
		}
		if ctx.Err() != nil {
			return o.cancelled(ctx, span)
		}
		lg.Error("env credential fallback failed", slog.Any("error", err))
		lastErr = err
	}

	if o.secondary == nil {
		return o.exhausted(span, attempts, lastErr)
	}
	o.sink.Increment(MetricFallbacks, 1, map[string]string{"provider": string(o.opts.Provider), "to": "secondary"})
	reply, err := o.secondary.Chat(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelled(ctx, span)
		}
		lg.Error("secondary fallback failed", slog.Any("error", err))
		return o.exhausted(span, attempts, err)
	}
	lg.Info("falling back to secondary service for prompt")
	return o.done(span, domain.RotationOutcome{Reply: reply, Label: domain.LabelSecondaryFallback}, attempts), nil
}

// rotate tries up to CandidateLimit stored credentials, newest first.
func (o *Orchestrator) rotate(ctx context.Context, prompt string) (domain.RotationOutcome, int, error) {
	lg := observability.LoggerFromContext(ctx)
	all, err := o.store.ActiveCandidates(ctx, o.opts.Provider, o.opts.CandidateLimit)
	defer func() {
		for _, c := range all {
			c.Secret.Destroy()
		}
	}()
	if err != nil {
		lg.Warn("failed to fetch candidate keys", slog.Any("error", err))
		return domain.RotationOutcome{}, 0, err
	}
	if len(all) == 0 {
		return domain.RotationOutcome{}, 0, errors.New("no active credentials")
	}
	cands := all
	if len(cands) > o.opts.CandidateLimit {
		cands = cands[:o.opts.CandidateLimit]
	}

	bo := NewBackoff(o.opts.Backoff)
	bo.Rand = o.opts.Rand
	schedule := backoff.WithContext(bo, ctx)
	var lastErr error
	for i, c := range cands {
		tags := o.tags(ModeRotation)
		tags["keyId"] = c.ID
		tags["attempt"] = strconv.Itoa(i + 1)
		reply, err := o.attempt(ctx, c.Secret, prompt, tags)
		if err == nil {
			o.touch(ctx, c.ID)
			return domain.RotationOutcome{Reply: reply, Label: c.ID}, i + 1, nil
		}
		if ctx.Err() != nil {
			return domain.RotationOutcome{}, i + 1, ctx.Err()
		}
		lastErr = err
		lg.Warn("key attempt failed", slog.String("credential_id", c.ID), slog.Int("attempt", i+1), slog.Any("error", err))
		d := schedule.NextBackOff()
		if d == backoff.Stop {
			return domain.RotationOutcome{}, i + 1, ctx.Err()
		}
		if err := o.opts.Sleep(ctx, d); err != nil {
			return domain.RotationOutcome{}, i + 1, err
		}
	}
	return domain.RotationOutcome{}, len(cands), lastErr
}

// attempt records attempt/success/failure around one invocation. Success and
// failure carry the same tags as the attempt minus the attempt index.
func (o *Orchestrator) attempt(ctx context.Context, secret *secure.Secret, prompt string, tags map[string]string) (string, error) {
	o.sink.Increment(MetricAttempts, 1, tags)
	outcomeTags := make(map[string]string, len(tags))
	for k, v := range tags {
		if k != "attempt" {
			outcomeTags[k] = v
		}
	}
	var reply string
	err := secret.Use(func(key []byte) error {
		var err error
		reply, err = o.invoker.Invoke(ctx, key, prompt)
		return err
	})
	if err != nil {
		o.sink.Increment(MetricFailures, 1, outcomeTags)
		return "", err
	}
	o.sink.Increment(MetricSuccess, 1, outcomeTags)
	return reply, nil
}

// touch stamps last-used in the background. Errors are logged and dropped.
func (o *Orchestrator) touch(ctx context.Context, id string) {
	lg := observability.LoggerFromContext(ctx)
	base := context.WithoutCancel(ctx)
	o.touches.Add(1)
	go func() {
		defer o.touches.Done()
		tctx, cancel := context.WithTimeout(base, o.opts.TouchTimeout)
		defer cancel()
		if err := o.store.TouchLastUsed(tctx, id); err != nil {
			lg.Debug("touch last used failed", slog.String("credential_id", id), slog.Any("error", err))
		}
	}()
}

// Wait blocks until background last-used updates have finished.
func (o *Orchestrator) Wait() { o.touches.Wait() }

func (o *Orchestrator) tags(mode string) map[string]string {
	return map[string]string{"provider": string(o.opts.Provider), "mode": mode}
}

func (o *Orchestrator) done(span trace.Span, out domain.RotationOutcome, attempts int) domain.RotationOutcome {
	span.SetAttributes(attribute.String("rotation.label", out.Label), attribute.Int("rotation.attempts", attempts))
	observability.RecordRotationOutcome(source(out.Label))
	return out
}

func (o *Orchestrator) cancelled(ctx context.Context, span trace.Span) (domain.RotationOutcome, error) {
	err := fmt.Errorf("op=rotation.Resolve: %w", ctx.Err())
	span.RecordError(err)
	span.SetStatus(codes.Error, "cancelled")
	return domain.RotationOutcome{}, err
}

func (o *Orchestrator) exhausted(span trace.Span, attempts int, cause error) (domain.RotationOutcome, error) {
	err := &ExhaustedError{Attempts: attempts, Cause: cause}
	span.RecordError(err)
	span.SetStatus(codes.Error, "exhausted")
	observability.RecordRotationOutcome("exhausted")
	return domain.RotationOutcome{}, err
}

func source(label string) string {
	switch label {
	case domain.LabelProvided, domain.LabelEnv:
		return label
	case domain.LabelSecondaryFallback:
		return "secondary"
	default:
		return "store"
	}
}
