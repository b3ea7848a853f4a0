// Package session runs live interview sessions. Each Controller owns one
// transport and a single event loop that consumes transport events, timer
// firings and caller commands in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/prompt"
)

// State is the lifecycle position of a session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnding     State = "ending"
	StateEnded      State = "ended"
)

// EndReason records which path ended a session.
type EndReason string

const (
	EndStopped        EndReason = "stopped"
	EndDuration       EndReason = "duration"
	EndTransportError EndReason = "transport_error"
	EndRemoteHangup   EndReason = "remote_hangup"
	EndClosed         EndReason = "closed"
	EndReplaced       EndReason = "replaced"
)

// ErrSessionEnded is returned by commands issued after the session ended.
var ErrSessionEnded = errors.New("session ended")

const (
	DefaultInactivityTimeout = 10 * time.Second
	DefaultWrapUpGrace       = 10 * time.Second

	transportStopTimeout = 5 * time.Second
	sendTimeout          = 5 * time.Second
	inboxSize            = 64
	notificationBuffer   = 32
)

// Options tune a Controller. Zero values pick the defaults.
type Options struct {
	Clock             Clock
	InactivityTimeout time.Duration
	WrapUpGrace       time.Duration
	// OnEnded runs on the event loop once the session ends. It must not block
	// and must not call back into the controller.
	OnEnded func(Result)
	Logger  *slog.Logger
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	SessionID   string            `json:"session_id"`
	InterviewID string            `json:"interview_id"`
	Candidate   domain.Candidate  `json:"candidate"`
	State       State             `json:"state"`
	Speaking    domain.Role       `json:"speaking,omitempty"`
	Muted       bool              `json:"muted"`
	Transcript  domain.Transcript `json:"transcript"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	Elapsed     time.Duration     `json:"elapsed"`
	Nudges      int               `json:"nudges"`
	EndReason   EndReason         `json:"end_reason,omitempty"`
}

// Result is delivered exactly once when a session ends.
type Result struct {
	SessionID   string
	InterviewID string
	Candidate   domain.Candidate
	Transcript  domain.Transcript
	Reason      EndReason
	EndedAt     time.Time
}

// NotificationKind classifies a non-fatal notice for the caller.
type NotificationKind string

const (
	NoticeTransportError NotificationKind = "transport_error"
	NoticeNudge          NotificationKind = "nudge"
	NoticeWrapUp         NotificationKind = "wrap_up"
	NoticeMuteReminder   NotificationKind = "mute_reminder"
)

// Notification is a user-visible notice raised by the controller.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Message string           `json:"message"`
	At      time.Time        `json:"at"`
}

type timerKind int

const (
	timerInactivity timerKind = iota
	timerDuration
	timerGrace
	numTimers
)

func (k timerKind) String() string {
	switch k {
	case timerInactivity:
		return "inactivity"
	case timerDuration:
		return "duration"
	case timerGrace:
		return "grace"
	default:
		return "unknown"
	}
}

type timerSlot struct {
	t   Timer
	gen uint64
}

// inbox messages
type (
	startCmd struct {
		reply chan error
	}
	stopCmd struct {
		reply chan struct{}
	}
	muteCmd struct {
		muted bool
		reply chan struct{}
	}
	snapshotCmd struct {
		reply chan Snapshot
	}
	shutdownCmd struct {
		reason EndReason
	}
	dialResult struct {
		err error
	}
	transportEvent struct {
		ev Event
	}
	timerFired struct {
		kind timerKind
		gen  uint64
	}
)

// Controller drives one interview session.
type Controller struct {
	id        string
	spec      domain.InterviewSpec
	candidate domain.Candidate
	prompts   *prompt.Assembler
	transport Transport
	clock     Clock
	inactive  time.Duration
	grace     time.Duration
	onEnded   func(Result)
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan any
	done   chan struct{}
	ended  chan Result
	notes  chan Notification

	shutdownOnce sync.Once

	// owned by the event loop
	state      State
	speaking   domain.Role
	muted      bool
	transcript domain.Transcript
	nudges     int
	startedAt  time.Time
	endedAt    time.Time
	reason     EndReason
	dialed     bool
	counted    bool
	timers     [numTimers]timerSlot
	wrapUp     string
	duration   time.Duration
	exit       bool

	mu    sync.Mutex
	final *Snapshot
}

// New creates a controller in the idle state and starts its event loop.
func New(id string, spec domain.InterviewSpec, candidate domain.Candidate, prompts *prompt.Assembler, t Transport, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DefaultInactivityTimeout
	}
	if opts.WrapUpGrace <= 0 {
		opts.WrapUpGrace = DefaultWrapUpGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if prompts == nil {
		prompts = prompt.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:        id,
		spec:      spec,
		candidate: candidate,
		prompts:   prompts,
		transport: t,
		clock:     opts.Clock,
		inactive:  opts.InactivityTimeout,
		grace:     opts.WrapUpGrace,
		onEnded:   opts.OnEnded,
		log: opts.Logger.With(
			slog.String("session_id", id),
			slog.String("interview_id", spec.ID),
		),
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan any, inboxSize),
		done:   make(chan struct{}),
		ended:  make(chan Result, 1),
		notes:  make(chan Notification, notificationBuffer),
		state:  StateIdle,
	}
	go c.run()
	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Ended delivers the final transcript once the session reaches ended.
func (c *Controller) Ended() <-chan Result { return c.ended }

// Done is closed when the event loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Notifications carries non-fatal notices such as transport errors. Notices
// are dropped when the buffer is full.
func (c *Controller) Notifications() <-chan Notification { return c.notes }

// Start validates the interview and candidate, builds the prompts and opens
// the transport. It is a no-op while connecting or active.
func (c *Controller) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if !c.post(startCmd{reply: reply}) {
		return fmt.Errorf("op=session.Start: %w", ErrSessionEnded)
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return fmt.Errorf("op=session.Start: %w", ErrSessionEnded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the session on behalf of the candidate. Timers are cancelled
// before the transport is asked to close. Calling Stop on an ending or ended
// session does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if !c.post(stopCmd{reply: reply}) {
		return nil
	}
	select {
	case <-reply:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetMuted records the candidate's microphone state. Muting an active session
// sends one reminder through the transport.
func (c *Controller) SetMuted(ctx context.Context, muted bool) error {
	reply := make(chan struct{}, 1)
	if !c.post(muteCmd{muted: muted, reply: reply}) {
		return fmt.Errorf("op=session.SetMuted: %w", ErrSessionEnded)
	}
	select {
	case <-reply:
		return nil
	case <-c.done:
		return fmt.Errorf("op=session.SetMuted: %w", ErrSessionEnded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state. After the loop exits it returns the
// final state.
func (c *Controller) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if c.post(snapshotCmd{reply: reply}) {
		select {
		case s := <-reply:
			return s
		case <-c.done:
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final != nil {
		return *c.final
	}
	return Snapshot{SessionID: c.id, InterviewID: c.spec.ID, Candidate: c.candidate, State: StateEnded}
}

// IsEnded reports whether the session has reached ended. It never blocks.
func (c *Controller) IsEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.final != nil
}

// Close tears the session down: timers are cancelled, the transport is
// stopped and the transcript captured so far is delivered. It is safe to call
// at any time and more than once.
func (c *Controller) Close() {
	c.shutdown(EndClosed)
}

func (c *Controller) shutdown(reason EndReason) {
	c.shutdownOnce.Do(func() {
		c.post(shutdownCmd{reason: reason})
	})
	<-c.done
}

func (c *Controller) post(msg any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) emit(ev Event) {
	c.post(transportEvent{ev: ev})
}

func (c *Controller) run() {
	defer close(c.done)
	defer c.cancel()
	for msg := range c.inbox {
		c.handle(msg)
		if c.exit {
			return
		}
	}
}

func (c *Controller) handle(msg any) {
	switch m := msg.(type) {
	case startCmd:
		m.reply <- c.start()
	case stopCmd:
		c.stop()
		m.reply <- struct{}{}
	case muteCmd:
		c.setMuted(m.muted)
		m.reply <- struct{}{}
	case snapshotCmd:
		m.reply <- c.snapshot()
	case shutdownCmd:
		c.finish(m.reason)
	case dialResult:
		c.onDial(m.err)
	case transportEvent:
		c.onEvent(m.ev)
	case timerFired:
		c.onTimer(m.kind, m.gen)
	}
}

func (c *Controller) start() error {
	switch c.state {
	case StateConnecting, StateActive:
		return nil
	case StateEnding, StateEnded:
		return fmt.Errorf("op=session.Start: %w", ErrSessionEnded)
	}
	if err := c.spec.Validate(); err != nil {
		return fmt.Errorf("op=session.Start: %w", err)
	}
	if strings.TrimSpace(c.candidate.Name) == "" || strings.TrimSpace(c.candidate.Email) == "" {
		return fmt.Errorf("op=session.Start: %w: candidate name and email are required", domain.ErrInvalidArgument)
	}
	d, err := ParseDuration(c.spec.Duration)
	if err != nil {
		return fmt.Errorf("op=session.Start: %w", err)
	}
	system, err := c.prompts.BuildInterviewPrompt(c.spec, c.candidate.Name)
	if err != nil {
		return fmt.Errorf("op=session.Start: %w", err)
	}
	first, err := c.prompts.BuildFirstMessage(c.spec, c.candidate.Name)
	if err != nil {
		return fmt.Errorf("op=session.Start: %w", err)
	}
	wrapUp, err := c.prompts.BuildWrapUp(c.spec, c.candidate.Name)
	if err != nil {
		return fmt.Errorf("op=session.Start: %w", err)
	}
	if c.transport == nil {
		return fmt.Errorf("op=session.Start: %w: no transport", domain.ErrTransport)
	}

	c.duration = d
	c.wrapUp = wrapUp
	c.state = StateConnecting
	c.dialed = true
	cfg := TransportConfig{
		SessionID:    c.id,
		InterviewID:  c.spec.ID,
		SystemPrompt: system,
		FirstMessage: first,
		Metadata: map[string]string{
			"interview_id":    c.spec.ID,
			"candidate_email": c.candidate.Email,
			"job_position":    c.spec.JobPosition,
		},
	}
	go func() {
		err := c.transport.Start(c.ctx, cfg, c.emit)
		c.post(dialResult{err: err})
	}()
	c.log.Info("session connecting", slog.Duration("duration", d), slog.Int("questions", len(c.spec.Questions)))
	return nil
}

func (c *Controller) stop() {
	switch c.state {
	case StateIdle:
		c.finish(EndStopped)
	case StateConnecting, StateActive:
		c.beginEnding(EndStopped, false)
	}
}

func (c *Controller) setMuted(muted bool) {
	if muted == c.muted {
		return
	}
	c.muted = muted
	if muted && c.state == StateActive {
		msg := c.prompts.MuteReminder()
		c.send(msg)
		c.notify(NoticeMuteReminder, msg)
	}
}

func (c *Controller) onDial(err error) {
	if err == nil {
		if c.state == StateEnded {
			c.stopTransport()
		}
		return
	}
	observability.TransportError()
	c.log.Warn("transport failed to open", slog.Any("error", err))
	c.notify(NoticeTransportError, err.Error())
	switch c.state {
	case StateConnecting, StateEnding:
		c.finish(EndTransportError)
	}
}

func (c *Controller) onEvent(ev Event) {
	switch ev.Kind {
	case EventSessionStarted:
		if c.state != StateConnecting {
			return
		}
		c.state = StateActive
		c.startedAt = c.clock.Now()
		c.counted = true
		observability.SessionStarted()
		c.arm(timerDuration, c.duration)
		c.log.Info("session active")
	case EventSpeechStart:
		if c.state == StateActive && ev.Role.Valid() {
			c.setSpeaking(ev.Role)
		}
	case EventSpeechEnd:
		if c.state == StateActive && ev.Role.Valid() {
			c.setSpeaking(other(ev.Role))
		}
	case EventTranscript:
		c.onTranscript(ev)
	case EventSessionEnded:
		switch c.state {
		case StateConnecting, StateActive:
			c.finish(EndRemoteHangup)
		case StateEnding:
			c.finish(c.reason)
		}
	case EventError:
		observability.TransportError()
		c.log.Warn("transport error", slog.String("reason", ev.Text))
		c.notify(NoticeTransportError, ev.Text)
		if c.state == StateConnecting || c.state == StateActive {
			c.beginEnding(EndTransportError, false)
		}
	}
}

func (c *Controller) onTranscript(ev Event) {
	if c.state != StateConnecting && c.state != StateActive && c.state != StateEnding {
		return
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" || !ev.Role.Valid() {
		return
	}
	c.transcript = append(c.transcript, domain.Turn{Role: ev.Role, Content: text})
	if ev.Role == domain.RoleUser && c.state == StateActive {
		c.nudges = 0
		c.speaking = domain.RoleUser
		c.arm(timerInactivity, c.inactive)
	}
}

func (c *Controller) setSpeaking(r domain.Role) {
	if c.speaking == r {
		return
	}
	c.speaking = r
	if r == domain.RoleUser {
		c.arm(timerInactivity, c.inactive)
		return
	}
	c.disarm(timerInactivity)
}

func (c *Controller) onTimer(k timerKind, gen uint64) {
	slot := &c.timers[k]
	if slot.gen != gen || slot.t == nil {
		return
	}
	slot.t = nil
	switch k {
	case timerInactivity:
		if c.state != StateActive || c.speaking != domain.RoleUser {
			return
		}
		c.nudges++
		msg := c.prompts.Nudge(c.nudges)
		c.send(msg)
		observability.InactivityNudged()
		c.notify(NoticeNudge, msg)
		c.log.Info("inactivity nudge sent", slog.Int("nudge", c.nudges))
		c.arm(timerInactivity, c.inactive)
	case timerDuration:
		if c.state == StateActive {
			c.beginEnding(EndDuration, true)
		}
	case timerGrace:
		if c.state == StateEnding {
			c.log.Warn("grace period elapsed, forcing session end", slog.String("reason", string(c.reason)))
			c.finish(c.reason)
		}
	}
}

// beginEnding cancels the live timers before touching the transport. With
// wrapUp the agent is asked to close and the transport stays open until the
// remote hang-up or the grace timer.
func (c *Controller) beginEnding(reason EndReason, wrapUp bool) {
	c.disarm(timerInactivity)
	c.disarm(timerDuration)
	c.state = StateEnding
	c.reason = reason
	c.log.Info("session ending", slog.String("reason", string(reason)))
	if wrapUp {
		c.send(c.wrapUp)
		c.notify(NoticeWrapUp, c.wrapUp)
	} else {
		c.stopTransport()
	}
	c.arm(timerGrace, c.grace)
}

func (c *Controller) finish(reason EndReason) {
	if c.state == StateEnded {
		c.exit = true
		return
	}
	for k := timerKind(0); k < numTimers; k++ {
		c.disarm(k)
	}
	if c.dialed {
		c.stopTransport()
	}
	c.state = StateEnded
	c.reason = reason
	c.endedAt = c.clock.Now()
	if c.counted {
		observability.SessionEnded(string(reason))
	}
	snap := c.snapshot()
	c.mu.Lock()
	c.final = &snap
	c.mu.Unlock()

	res := Result{
		SessionID:   c.id,
		InterviewID: c.spec.ID,
		Candidate:   c.candidate,
		Transcript:  c.transcript.Clone(),
		Reason:      reason,
		EndedAt:     c.endedAt,
	}
	c.ended <- res
	close(c.ended)
	c.log.Info("session ended",
		slog.String("reason", string(reason)),
		slog.Int("turns", len(res.Transcript)),
		slog.Duration("elapsed", snap.Elapsed))
	if c.onEnded != nil {
		c.onEnded(res)
	}
	c.exit = true
}

func (c *Controller) arm(k timerKind, d time.Duration) {
	c.disarm(k)
	gen := c.timers[k].gen
	c.timers[k].t = c.clock.AfterFunc(d, func() {
		c.post(timerFired{kind: k, gen: gen})
	})
}

func (c *Controller) disarm(k timerKind) {
	if t := c.timers[k].t; t != nil {
		t.Stop()
		c.timers[k].t = nil
	}
	c.timers[k].gen++
}

func (c *Controller) send(text string) {
	if strings.TrimSpace(text) == "" || c.transport == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, sendTimeout)
	defer cancel()
	if err := c.transport.Send(ctx, text); err != nil {
		c.log.Warn("transport send failed", slog.Any("error", err))
	}
}

func (c *Controller) stopTransport() {
	if c.transport == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), transportStopTimeout)
	defer cancel()
	if err := c.transport.Stop(ctx); err != nil {
		c.log.Warn("transport stop failed", slog.Any("error", err))
	}
}

func (c *Controller) notify(kind NotificationKind, msg string) {
	n := Notification{Kind: kind, Message: msg, At: c.clock.Now()}
	select {
	case c.notes <- n:
	default:
		c.log.Debug("notification dropped", slog.String("kind", string(kind)))
	}
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		SessionID:   c.id,
		InterviewID: c.spec.ID,
		Candidate:   c.candidate,
		State:       c.state,
		Speaking:    c.speaking,
		Muted:       c.muted,
		Transcript:  c.transcript.Clone(),
		StartedAt:   c.startedAt,
		Nudges:      c.nudges,
		EndReason:   c.reason,
	}
	if !c.startedAt.IsZero() {
		end := c.clock.Now()
		if c.state == StateEnded {
			end = c.endedAt
		}
		s.Elapsed = end.Sub(c.startedAt)
	}
	return s
}

func other(r domain.Role) domain.Role {
	if r == domain.RoleAssistant {
		return domain.RoleUser
	}
	return domain.RoleAssistant
}
