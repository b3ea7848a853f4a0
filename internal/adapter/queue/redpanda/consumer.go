package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/observability"
)

// Handler processes one decoded task. Returned errors are logged; the record
// is committed either way because model calls are never retried automatically.
type Handler func(ctx context.Context, task domain.FeedbackTask) error

type groupClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	Close()
}

// Consumer reads feedback tasks as part of a consumer group.
type Consumer struct {
	client  groupClient
	handle  Handler
	workers int
	topic   string
}

// NewConsumer joins groupID on topic. workers bounds concurrent tasks per poll.
func NewConsumer(ctx context.Context, brokers []string, groupID, topic string, workers int, handle Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: %w: no seed brokers provided", domain.ErrInvalidArgument)
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: %w: missing group id", domain.ErrInvalidArgument)
	}
	if topic == "" {
		topic = TopicFeedback
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(5*time.Second),
		tracingHooks(),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: %w", err)
	}
	if err := EnsureTopic(ctx, client, topic, 3, 1); err != nil {
		slog.Warn("could not ensure feedback topic", slog.String("topic", topic), slog.Any("error", err))
	}
	return newConsumer(client, topic, workers, handle), nil
}

func newConsumer(client groupClient, topic string, workers int, handle Handler) *Consumer {
	if workers <= 0 {
		workers = 4
	}
	return &Consumer{client: client, handle: handle, workers: workers, topic: topic}
}

// Run polls until ctx is cancelled, then closes the client.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	slog.Info("feedback consumer started", slog.String("topic", c.topic), slog.Int("workers", c.workers))
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			slog.Info("feedback consumer stopping")
			return nil
		}
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("fetch error", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("error", err))
		})

		var g errgroup.Group
		g.SetLimit(c.workers)
		var records []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
			g.Go(func() error {
				c.process(ctx, r)
				return nil
			})
		})
		_ = g.Wait()
		if len(records) == 0 {
			continue
		}
		c.client.MarkCommitRecords(records...)
		if err := c.client.CommitMarkedOffsets(ctx); err != nil && ctx.Err() == nil {
			slog.Error("commit offsets failed", slog.Any("error", err))
		}
	}
}

func (c *Consumer) process(ctx context.Context, r *kgo.Record) {
	ctx, span := otel.Tracer("queue.consumer").Start(ctx, "ProcessFeedbackTask")
	defer span.End()

	var task domain.FeedbackTask
	if err := json.Unmarshal(r.Value, &task); err != nil {
		slog.Error("dropping undecodable feedback task",
			slog.Int64("offset", r.Offset),
			slog.Int("partition", int(r.Partition)),
			slog.Any("error", err))
		return
	}
	lg := observability.LoggerFromContext(ctx).With(slog.String("interview_id", task.InterviewID))
	if task.RequestID != "" {
		ctx = observability.ContextWithRequestID(ctx, task.RequestID)
		lg = lg.With(slog.String("request_id", task.RequestID))
	}
	ctx = observability.ContextWithLogger(ctx, lg)

	if err := c.handle(ctx, task); err != nil {
		span.RecordError(err)
		level := slog.LevelError
		if errors.Is(err, domain.ErrInFlight) || errors.Is(err, domain.ErrInvalidArgument) {
			level = slog.LevelWarn
		}
		lg.Log(ctx, level, "feedback task failed", slog.Any("error", err))
		return
	}
	lg.Info("feedback task processed")
}
