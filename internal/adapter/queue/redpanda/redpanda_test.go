package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeProducer) Ping(context.Context) error { return f.err }

func (f *fakeProducer) Close() {}

func sampleTask() domain.FeedbackTask {
	return domain.FeedbackTask{
		InterviewID: "iv-1",
		Candidate:   domain.Candidate{Name: "Ada", Email: "Ada@Example.com"},
		Transcript:  domain.Transcript{{Role: domain.RoleUser, Content: "hello"}},
		RequestID:   "01J0000000000000000000000",
	}
}

func TestProducer_EnqueueFeedback(t *testing.T) {
	fp := &fakeProducer{}
	p := &Producer{client: fp, topic: TopicFeedback}

	task := sampleTask()
	task.Retry = true
	require.NoError(t, p.EnqueueFeedback(context.Background(), task))
	require.Len(t, fp.records, 1)
	rec := fp.records[0]
	assert.Equal(t, TopicFeedback, rec.Topic)
	assert.Equal(t, "iv-1:ada@example.com", string(rec.Key))

	var got domain.FeedbackTask
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, task.Transcript, got.Transcript)
	assert.True(t, got.Retry)
	assert.Len(t, rec.Headers, 2)
}

func TestProducer_EnqueueFeedbackError(t *testing.T) {
	p := &Producer{client: &fakeProducer{err: errors.New("broker down")}, topic: TopicFeedback}
	err := p.EnqueueFeedback(context.Background(), sampleTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=redpanda.EnqueueFeedback")
	assert.Error(t, p.Ping(context.Background()))
}

type fakeGroup struct {
	polls     chan kgo.Fetches
	mu        sync.Mutex
	marked    []*kgo.Record
	committed chan struct{}
	closed    bool
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{polls: make(chan kgo.Fetches, 4), committed: make(chan struct{}, 4)}
}

func (f *fakeGroup) PollFetches(ctx context.Context) kgo.Fetches {
	select {
	case fs := <-f.polls:
		return fs
	case <-ctx.Done():
		return nil
	}
}

func (f *fakeGroup) MarkCommitRecords(rs ...*kgo.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, rs...)
}

func (f *fakeGroup) CommitMarkedOffsets(context.Context) error {
	f.committed <- struct{}{}
	return nil
}

func (f *fakeGroup) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func fetchesOf(records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      TopicFeedback,
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
	}}}}
}

func TestConsumer_ProcessesAndCommits(t *testing.T) {
	group := newFakeGroup()
	var mu sync.Mutex
	var handled []domain.FeedbackTask
	handler := func(_ context.Context, task domain.FeedbackTask) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, task)
		if task.InterviewID == "iv-2" {
			return domain.ErrUpstreamTimeout
		}
		return nil
	}
	c := newConsumer(group, TopicFeedback, 2, handler)

	good, _ := json.Marshal(sampleTask())
	failing := sampleTask()
	failing.InterviewID = "iv-2"
	bad, _ := json.Marshal(failing)
	group.polls <- fetchesOf(
		&kgo.Record{Value: good, Offset: 1},
		&kgo.Record{Value: []byte("not json"), Offset: 2},
		&kgo.Record{Value: bad, Offset: 3},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-group.committed:
	case <-time.After(2 * time.Second):
		t.Fatal("offsets were not committed")
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	assert.Len(t, handled, 2)
	mu.Unlock()
	group.mu.Lock()
	assert.Len(t, group.marked, 3, "failed and undecodable records are committed too")
	assert.True(t, group.closed)
	group.mu.Unlock()
}

type fakeRequester struct {
	resp kmsg.Response
	err  error
}

func (f fakeRequester) Request(context.Context, kmsg.Request) (kmsg.Response, error) {
	return f.resp, f.err
}

func createResp(code int16) *kmsg.CreateTopicsResponse {
	resp := kmsg.NewPtrCreateTopicsResponse()
	t := kmsg.NewCreateTopicsResponseTopic()
	t.Topic = TopicFeedback
	t.ErrorCode = code
	resp.Topics = append(resp.Topics, t)
	return resp
}

func TestEnsureTopic(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, EnsureTopic(ctx, fakeRequester{resp: createResp(0)}, TopicFeedback, 3, 1))
	assert.NoError(t, EnsureTopic(ctx, fakeRequester{resp: createResp(36)}, TopicFeedback, 3, 1))
	assert.Error(t, EnsureTopic(ctx, fakeRequester{resp: createResp(29)}, TopicFeedback, 3, 1))
	assert.Error(t, EnsureTopic(ctx, fakeRequester{err: errors.New("dial")}, TopicFeedback, 3, 1))
	assert.Error(t, EnsureTopic(ctx, fakeRequester{}, "", 3, 1))
	assert.Error(t, EnsureTopic(ctx, fakeRequester{}, TopicFeedback, 0, 1))
}
