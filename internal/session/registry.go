package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/prompt"
)

// Dispatcher receives the transcript of every ended session that has content.
type Dispatcher interface {
	Dispatch(ctx context.Context, task domain.FeedbackTask) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, task domain.FeedbackTask) error

func (f DispatchFunc) Dispatch(ctx context.Context, task domain.FeedbackTask) error {
	return f(ctx, task)
}

// endedRetention is how long an ended controller stays queryable.
const endedRetention = 15 * time.Minute

type entry struct {
	ctrl    *Controller
	key     string
	endedAt time.Time
	// result is set once the session ends.
	result *Result
}

// Registry owns the live controllers of a process. At most one live session
// exists per (interview, candidate); opening another releases the previous
// one first.
type Registry struct {
	prompts    *prompt.Assembler
	transports TransportFactory
	dispatcher Dispatcher
	opts       Options
	log        *slog.Logger
	newID      func() string

	mu       sync.Mutex
	sessions map[string]*entry
	byKey    map[string]string
	closed   bool

	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
	wg             sync.WaitGroup
}

// NewRegistry creates a registry. dispatcher may be nil, in which case ended
// transcripts are only logged.
func NewRegistry(prompts *prompt.Assembler, transports TransportFactory, dispatcher Dispatcher, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		prompts:        prompts,
		transports:     transports,
		dispatcher:     dispatcher,
		opts:           opts,
		log:            opts.Logger,
		newID:          func() string { return ulid.MustNew(ulid.Now(), rand.Reader).String() },
		sessions:       map[string]*entry{},
		byKey:          map[string]string{},
		dispatchCtx:    ctx,
		cancelDispatch: cancel,
	}
}

// Open creates an idle controller for the candidate. A live session for the
// same interview and candidate is closed, without dispatching its
// transcript, before the new one is registered.
func (r *Registry) Open(spec domain.InterviewSpec, candidate domain.Candidate) (*Controller, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return nil, fmt.Errorf("op=session.Open: %w: interview id is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(candidate.Email) == "" {
		return nil, fmt.Errorf("op=session.Open: %w: candidate email is required", domain.ErrInvalidArgument)
	}
	key := domain.FeedbackKey(spec.ID, candidate.Email)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("op=session.Open: %w: registry closed", domain.ErrConflict)
	}
	var prior *Controller
	if id, ok := r.byKey[key]; ok {
		if e := r.sessions[id]; e != nil {
			prior = e.ctrl
		}
		delete(r.byKey, key)
	}
	r.mu.Unlock()

	if prior != nil {
		r.log.Info("releasing prior session", slog.String("session_id", prior.ID()), slog.String("interview_id", spec.ID))
		prior.shutdown(EndReplaced)
	}

	id := r.newID()
	opts := r.opts
	opts.OnEnded = func(res Result) { r.onEnded(key, res) }
	ctrl := New(id, spec, candidate, r.prompts, r.transports(), opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		go ctrl.Close()
		return nil, fmt.Errorf("op=session.Open: %w: registry closed", domain.ErrConflict)
	}
	r.prune()
	r.sessions[id] = &entry{ctrl: ctrl, key: key}
	r.byKey[key] = id
	return ctrl, nil
}

// Get returns a live or recently ended controller.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// EndedTask returns the transcript of the latest retained session that ended
// for the interview and candidate, as a feedback task. Replaced sessions and
// empty transcripts are never returned.
func (r *Registry) EndedTask(interviewID, email string) (domain.FeedbackTask, bool) {
	key := domain.FeedbackKey(interviewID, email)
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Result
	for _, e := range r.sessions {
		res := e.result
		if e.key != key || res == nil || res.Reason == EndReplaced || res.Transcript.Empty() {
			continue
		}
		if latest == nil || res.EndedAt.After(latest.EndedAt) {
			latest = res
		}
	}
	if latest == nil {
		return domain.FeedbackTask{}, false
	}
	return domain.FeedbackTask{
		InterviewID: latest.InterviewID,
		Candidate:   latest.Candidate,
		Transcript:  append(domain.Transcript(nil), latest.Transcript...),
		CreatedAt:   latest.EndedAt,
	}, true
}

// Live reports the number of sessions that have not ended.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.sessions {
		if e.endedAt.IsZero() {
			n++
		}
	}
	return n
}

// Shutdown closes every session, which dispatches their transcripts, then
// waits for dispatches to finish or ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	ctrls := make([]*Controller, 0, len(r.sessions))
	for _, e := range r.sessions {
		ctrls = append(ctrls, e.ctrl)
	}
	r.mu.Unlock()

	for _, c := range ctrls {
		c.Close()
	}
	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		r.cancelDispatch()
		return nil
	case <-ctx.Done():
		r.cancelDispatch()
		return fmt.Errorf("op=session.Shutdown: %w", ctx.Err())
	}
}

// onEnded runs on the controller's event loop.
func (r *Registry) onEnded(key string, res Result) {
	r.mu.Lock()
	if e, ok := r.sessions[res.SessionID]; ok {
		e.endedAt = res.EndedAt
		if e.endedAt.IsZero() {
			e.endedAt = time.Now()
		}
		kept := res
		kept.Transcript = append(domain.Transcript(nil), res.Transcript...)
		e.result = &kept
	}
	if r.byKey[key] == res.SessionID {
		delete(r.byKey, key)
	}
	r.mu.Unlock()

	lg := r.log.With(slog.String("session_id", res.SessionID), slog.String("interview_id", res.InterviewID))
	switch {
	case res.Reason == EndReplaced:
		return
	case res.Transcript.Empty():
		lg.Info("session ended without transcript; feedback skipped", slog.String("reason", string(res.Reason)))
		return
	case r.dispatcher == nil:
		lg.Warn("no feedback dispatcher configured; transcript dropped")
		return
	}

	task := domain.FeedbackTask{
		InterviewID: res.InterviewID,
		Candidate:   res.Candidate,
		Transcript:  res.Transcript,
		CreatedAt:   res.EndedAt,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.dispatcher.Dispatch(r.dispatchCtx, task); err != nil {
			lg.Error("feedback dispatch failed", slog.Any("error", err))
			return
		}
		lg.Info("feedback dispatched", slog.Int("turns", len(task.Transcript)))
	}()
}

// prune drops ended sessions past retention. Caller holds r.mu.
func (r *Registry) prune() {
	cutoff := r.opts.Clock.Now().Add(-endedRetention)
	for id, e := range r.sessions {
		if !e.endedAt.IsZero() && e.endedAt.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}
