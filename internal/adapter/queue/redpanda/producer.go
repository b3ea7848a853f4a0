// Package redpanda moves feedback tasks from the API process to workers
// over a Redpanda (Kafka) topic.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

// TopicFeedback carries session-ended and manual-retry feedback tasks.
const TopicFeedback = "interview-feedback"

type syncProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// Producer implements domain.FeedbackQueue.
type Producer struct {
	client syncProducer
	topic  string
}

var _ domain.FeedbackQueue = (*Producer)(nil)

func tracingHooks() kgo.Opt {
	k := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))))
	return kgo.WithHooks(k.Hooks()...)
}

// NewProducer connects an idempotent producer and makes sure the topic exists.
func NewProducer(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w: no seed brokers provided", domain.ErrInvalidArgument)
	}
	if topic == "" {
		topic = TopicFeedback
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordRetries(10),
		tracingHooks(),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}
	if err := EnsureTopic(ctx, client, topic, 3, 1); err != nil {
		slog.Warn("could not ensure feedback topic", slog.String("topic", topic), slog.Any("error", err))
	}
	return &Producer{client: client, topic: topic}, nil
}

// EnqueueFeedback publishes the task keyed by (interview, candidate) so tasks
// for one candidate stay ordered on one partition.
func (p *Producer) EnqueueFeedback(ctx domain.Context, task domain.FeedbackTask) error {
	b, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("op=redpanda.EnqueueFeedback: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(task.Key()),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "interview_id", Value: []byte(task.InterviewID)},
		},
	}
	if task.Retry {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: "retry", Value: []byte("true")})
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=redpanda.EnqueueFeedback: %w", err)
	}
	observability.FeedbackTaskEnqueued()
	slog.Info("feedback task enqueued",
		slog.String("topic", p.topic),
		slog.String("interview_id", task.InterviewID),
		slog.Bool("retry", task.Retry))
	return nil
}

// Ping checks that at least one broker answers.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("op=redpanda.Ping: %w", err)
	}
	return nil
}

// Close flushes and closes the client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
