// Package redpanda carries on-demand assessment requests between the API and
// the worker over Redpanda/Kafka.
//
// The producer writes each request inside a transaction and the consumer
// reads with read-committed isolation, so a request is either visible once
// or not at all.
package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

const (
	// TopicAssessmentRequests carries domain.AssessmentRequest values as JSON.
	TopicAssessmentRequests = "assessment-requests"
	// DLQSuffix is appended to a topic name to form its dead-letter topic.
	DLQSuffix = "-dlq"
)

// Producer publishes assessment requests and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
	// txn serializes transactions on the single transactional client.
	txn chan struct{}
}

var _ domain.Queue = (*Producer)(nil)

// NewProducer constructs a transactional Producer for topic.
func NewProducer(brokers []string, topic, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: no seed brokers provided")
	}
	if topic == "" {
		topic = TopicAssessmentRequests
	}
	if transactionalID == "" {
		transactionalID = "neurowell-ai-gateway-producer"
	}
	slog.Info("creating redpanda producer", slog.Any("brokers", brokers), slog.String("topic", topic))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.WithHooks(tracingHooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, topic, 1, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}
	return &Producer{client: client, topic: topic, txn: make(chan struct{}, 1)}, nil
}

// EnqueueAssessment publishes req in its own transaction.
func (p *Producer) EnqueueAssessment(ctx domain.Context, req domain.AssessmentRequest) error {
	rec, err := encodeRequest(p.topic, req)
	if err != nil {
		return fmt.Errorf("op=redpanda.EnqueueAssessment: %w", err)
	}

	select {
	case p.txn <- struct{}{}:
		defer func() { <-p.txn }()
	case <-ctx.Done():
		return fmt.Errorf("op=redpanda.EnqueueAssessment: %w", ctx.Err())
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=redpanda.EnqueueAssessment: begin transaction: %w", err)
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, rec, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		observability.RecordQueueMessage(p.topic, "produce_failed")
		return fmt.Errorf("op=redpanda.EnqueueAssessment: produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		observability.RecordQueueMessage(p.topic, "produce_failed")
		return fmt.Errorf("op=redpanda.EnqueueAssessment: commit transaction: %w", err)
	}

	observability.RecordQueueMessage(p.topic, "produced")
	observability.LoggerFromContext(ctx).Info("assessment request enqueued",
		slog.String("topic", p.topic),
		slog.String("requested_by", req.RequestedBy),
		slog.Int("num_questions", req.NumQuestions))
	return nil
}

// Ping checks broker connectivity for readiness probes.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close releases the client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
