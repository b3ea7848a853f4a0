package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/session"
)

type agentServer struct {
	*httptest.Server
	frames chan map[string]any
	auth   chan string
}

// newAgentServer runs script against each accepted connection after the
// start frame has been read.
func newAgentServer(t *testing.T, script func(conn *websocket.Conn)) *agentServer {
	t.Helper()
	a := &agentServer{frames: make(chan map[string]any, 16), auth: make(chan string, 1)}
	up := websocket.Upgrader{}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.auth <- r.Header.Get("Authorization")
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var f map[string]any
				if json.Unmarshal(msg, &f) == nil {
					a.frames <- f
				}
			}
		}()
		script(conn)
	}))
	t.Cleanup(a.Close)
	return a
}

func (a *agentServer) url() string { return "ws" + strings.TrimPrefix(a.URL, "http") }

func (a *agentServer) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case f := <-a.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func send(conn *websocket.Conn, v any) {
	b, _ := json.Marshal(v)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func collect() (chan session.Event, func(session.Event)) {
	ch := make(chan session.Event, 32)
	return ch, func(e session.Event) { ch <- e }
}

func nextEvent(t *testing.T, ch chan session.Event) session.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return session.Event{}
	}
}

func testTransportConfig() session.TransportConfig {
	return session.TransportConfig{
		SessionID:    "s-1",
		InterviewID:  "iv-1",
		SystemPrompt: "You are a recruiter.",
		FirstMessage: "Hi Ada, welcome.",
		Metadata:     map[string]string{"candidate": "Ada"},
	}
}

func TestClient_CallFlow(t *testing.T) {
	release := make(chan struct{})
	srv := newAgentServer(t, func(conn *websocket.Conn) {
		send(conn, map[string]any{"type": "call-start"})
		send(conn, map[string]any{"type": "speech-update", "status": "started", "role": "assistant"})
		send(conn, map[string]any{"type": "speech-update", "status": "stopped", "role": "assistant"})
		send(conn, map[string]any{"type": "transcript", "transcriptType": "partial", "role": "user", "transcript": "I bu"})
		send(conn, map[string]any{"type": "transcript", "transcriptType": "final", "role": "user", "transcript": "I build backends."})
		send(conn, map[string]any{"type": "model-output"})
		<-release
	})
	defer close(release)

	c := New(Config{URL: srv.url(), APIKey: "secret", DialTimeout: time.Second}, nil)
	events, emit := collect()
	require.NoError(t, c.Start(context.Background(), testTransportConfig(), emit))
	assert.Equal(t, "Bearer secret", <-srv.auth)

	start := srv.nextFrame(t)
	assert.Equal(t, FrameStart, start["type"])
	assistant := start["assistant"].(map[string]any)
	assert.Equal(t, "Hi Ada, welcome.", assistant["firstMessage"])
	msgs := assistant["model"].(map[string]any)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "You are a recruiter.", msgs[0].(map[string]any)["content"])

	assert.Equal(t, session.Event{Kind: session.EventSessionStarted}, nextEvent(t, events))
	assert.Equal(t, session.Event{Kind: session.EventSpeechStart, Role: domain.RoleAssistant}, nextEvent(t, events))
	assert.Equal(t, session.Event{Kind: session.EventSpeechEnd, Role: domain.RoleAssistant}, nextEvent(t, events))
	assert.Equal(t, session.Event{Kind: session.EventTranscript, Role: domain.RoleUser, Text: "I build backends."}, nextEvent(t, events))

	require.NoError(t, c.Send(context.Background(), "Are you still there?"))
	msg := srv.nextFrame(t)
	assert.Equal(t, FrameAddMessage, msg["type"])
	assert.Equal(t, "Are you still there?", msg["message"].(map[string]any)["content"])

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, session.EventSessionEnded, nextEvent(t, events).Kind)
	select {
	case e := <-events:
		t.Fatalf("unexpected event after stop: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_RemoteHangupEndsOnce(t *testing.T) {
	srv := newAgentServer(t, func(conn *websocket.Conn) {
		send(conn, map[string]any{"type": "call-start"})
		send(conn, map[string]any{"type": "call-end"})
	})
	c := New(Config{URL: srv.url(), DialTimeout: time.Second}, nil)
	events, emit := collect()
	require.NoError(t, c.Start(context.Background(), testTransportConfig(), emit))

	assert.Equal(t, session.EventSessionStarted, nextEvent(t, events).Kind)
	assert.Equal(t, session.EventSessionEnded, nextEvent(t, events).Kind)
	select {
	case e := <-events:
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, c.Stop(context.Background()))
}

func TestClient_HandshakeRejectedIsNotRetried(t *testing.T) {
	hits := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits <- struct{}{}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), DialTimeout: 2 * time.Second}, nil)
	_, emit := collect()
	err := c.Start(context.Background(), testTransportConfig(), emit)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Len(t, hits, 1)
}

func TestClient_RequiresURLAndConnection(t *testing.T) {
	c := New(Config{}, nil)
	_, emit := collect()
	err := c.Start(context.Background(), testTransportConfig(), emit)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.ErrorIs(t, c.Send(context.Background(), "hello"), domain.ErrTransport)
	assert.NoError(t, c.Stop(context.Background()))
}

func TestToEvent(t *testing.T) {
	cases := []struct {
		name  string
		in    InboundFrame
		want  session.Event
		drops bool
	}{
		{"call start", InboundFrame{Type: FrameCallStart}, session.Event{Kind: session.EventSessionStarted}, false},
		{"call end", InboundFrame{Type: FrameCallEnd}, session.Event{Kind: session.EventSessionEnded}, false},
		{"user speech", InboundFrame{Type: FrameSpeechUpdate, Status: "started", Role: "User"}, session.Event{Kind: session.EventSpeechStart, Role: domain.RoleUser}, false},
		{"speech without role", InboundFrame{Type: FrameSpeechUpdate, Status: "started"}, session.Event{}, true},
		{"partial transcript", InboundFrame{Type: FrameTranscript, TranscriptType: "partial", Role: "user", Transcript: "h"}, session.Event{}, true},
		{"error default message", InboundFrame{Type: FrameError}, session.Event{Kind: session.EventError, Text: "voice agent error"}, false},
		{"unknown", InboundFrame{Type: "hang"}, session.Event{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ToEvent(tc.in)
			assert.Equal(t, !tc.drops, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClient_SendHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := newAgentServer(t, func(*websocket.Conn) { <-release })
	defer close(release)

	c := New(Config{URL: srv.url(), DialTimeout: time.Second, WriteTimeout: time.Minute}, nil)
	_, emit := collect()
	require.NoError(t, c.Start(context.Background(), testTransportConfig(), emit))
	assert.Equal(t, FrameStart, srv.nextFrame(t)["type"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Send(ctx, "Are you still there?"), domain.ErrTransport)
	select {
	case f := <-srv.frames:
		t.Fatalf("frame written after cancel: %v", f)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, c.Stop(context.Background()))
}

func TestClient_WriteDeadlinePrefersEarlierContextDeadline(t *testing.T) {
	c := New(Config{WriteTimeout: time.Minute}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dl, _ := ctx.Deadline()
	assert.Equal(t, dl, c.writeDeadline(ctx))

	far, cancelFar := context.WithTimeout(context.Background(), time.Hour)
	defer cancelFar()
	got := c.writeDeadline(far)
	assert.WithinDuration(t, time.Now().Add(time.Minute), got, 5*time.Second)

	assert.WithinDuration(t, time.Now().Add(time.Minute), c.writeDeadline(context.Background()), 5*time.Second)
}
