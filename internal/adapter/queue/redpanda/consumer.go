package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

// RequestHandler serves one decoded assessment request.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req domain.AssessmentRequest) (domain.Assessment, error)
}

// recordProducer is the subset of *kgo.Client used to publish dead letters.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// MaxAttempts bounds inline handler attempts per record (default 3).
	MaxAttempts int
	// RetryInitial is the first retry delay (default 2s).
	RetryInitial time.Duration
}

// Consumer reads assessment requests and hands them to a RequestHandler.
// Records that keep failing are copied to the dead-letter topic; offsets are
// committed either way so one bad request never blocks the partition.
type Consumer struct {
	client  *kgo.Client
	dlq     recordProducer
	handler RequestHandler
	tracer  interface {
		WithProcessSpan(r *kgo.Record) (context.Context, trace.Span)
	}
	logger *slog.Logger

	topic        string
	maxAttempts  int
	retryInitial time.Duration
}

// NewConsumer joins cfg.GroupID and subscribes to cfg.Topic.
func NewConsumer(cfg ConsumerConfig, handler RequestHandler, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: no seed brokers provided")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: missing required group ID")
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicAssessmentRequests
	}
	if logger == nil {
		logger = slog.Default()
	}

	tracer := newTracer()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.RequireStableFetchOffsets(),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(5*time.Second),
		kgo.DialTimeout(10*time.Second),
		kgo.AllowAutoTopicCreation(),
		kgo.WithHooks(tracingHooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: %w", err)
	}
	for _, t := range []string{cfg.Topic, cfg.Topic + DLQSuffix} {
		if err := createTopicIfNotExists(context.Background(), client, t, 1, 1); err != nil {
			logger.Warn("failed to create topic, it may already exist", slog.String("topic", t), slog.Any("error", err))
		}
	}

	c := newConsumer(client, handler, logger, cfg)
	c.client = client
	c.tracer = tracer
	return c, nil
}

func newConsumer(dlq recordProducer, handler RequestHandler, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 2 * time.Second
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicAssessmentRequests
	}
	return &Consumer{
		dlq:          dlq,
		handler:      handler,
		logger:       logger,
		topic:        cfg.Topic,
		maxAttempts:  cfg.MaxAttempts,
		retryInitial: cfg.RetryInitial,
	}
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("starting redpanda consumer", slog.String("topic", c.topic))
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("error", err))
		})

		var done []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			if ctx.Err() != nil {
				return
			}
			if err := c.process(ctx, rec); err != nil {
				// Unhandled only when the dead-letter write failed; leave the
				// offset uncommitted so the record is redelivered.
				c.logger.Error("record left uncommitted", slog.Int64("offset", rec.Offset), slog.Any("error", err))
				return
			}
			done = append(done, rec)
		})
		if len(done) > 0 {
			if err := c.client.CommitRecords(ctx, done...); err != nil && ctx.Err() == nil {
				c.logger.Error("commit offsets failed", slog.Any("error", err))
			}
		}
	}
}

// process handles one record. It returns an error only when the record
// could be neither handled nor dead-lettered.
func (c *Consumer) process(ctx context.Context, rec *kgo.Record) error {
	if c.tracer != nil {
		_, span := c.tracer.WithProcessSpan(rec)
		defer span.End()
		ctx = trace.ContextWithSpan(ctx, span)
	}
	lg := c.logger.With(
		slog.String("topic", rec.Topic),
		slog.Int("partition", int(rec.Partition)),
		slog.Int64("offset", rec.Offset),
	)
	ctx = observability.ContextWithLogger(ctx, lg)

	req, err := decodeRequest(rec)
	if err != nil {
		lg.Warn("undecodable assessment request", slog.Any("error", err))
		return c.deadLetter(ctx, rec, err, 0)
	}

	attempts := 0
	op := func() error {
		attempts++
		_, err := c.handler.HandleRequest(ctx, req)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInitial
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxAttempts-1)), ctx)
	notify := func(err error, next time.Duration) {
		lg.Warn("assessment request failed, retrying", slog.Int("attempt", attempts), slog.Duration("next", next), slog.Any("error", err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lg.Error("assessment request failed", slog.Int("attempts", attempts), slog.String("error_code", classifyFailure(err)), slog.Any("error", err))
		return c.deadLetter(ctx, rec, err, attempts)
	}
	observability.RecordQueueMessage(c.topic, "handled")
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, rec *kgo.Record, cause error, attempts int) error {
	dl := deadLetter(rec, cause, attempts)
	if err := c.dlq.ProduceSync(ctx, dl).FirstErr(); err != nil {
		observability.RecordQueueMessage(c.topic, "dlq_failed")
		return fmt.Errorf("op=redpanda.deadLetter: %w", err)
	}
	observability.RecordQueueMessage(c.topic, "dead_lettered")
	observability.LoggerFromContext(ctx).Info("record moved to dead-letter topic", slog.String("dlq_topic", dl.Topic))
	return nil
}

// Ping checks broker connectivity.
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
