package session

import (
	"context"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

// EventKind enumerates what a real-time transport can report.
type EventKind string

const (
	EventSessionStarted EventKind = "session_started"
	EventSessionEnded   EventKind = "session_ended"
	EventSpeechStart    EventKind = "speech_start"
	EventSpeechEnd      EventKind = "speech_end"
	EventTranscript     EventKind = "transcript"
	EventError          EventKind = "error"
)

// Event is one typed message from the transport. Role is set for speech and
// transcript events; Text carries the transcript content or the error reason.
type Event struct {
	Kind EventKind
	Role domain.Role
	Text string
}

// TransportConfig is handed to the transport when a session opens.
type TransportConfig struct {
	SessionID    string
	InterviewID  string
	SystemPrompt string
	FirstMessage string
	Metadata     map[string]string
}

// Transport is the voice collaborator. Start opens the call and reports
// every subsequent event through emit, in arrival order. Stop must be safe to
// call more than once.
type Transport interface {
	Start(ctx context.Context, cfg TransportConfig, emit func(Event)) error
	Send(ctx context.Context, text string) error
	Stop(ctx context.Context) error
}

// TransportFactory creates one transport per session.
type TransportFactory func() Transport
