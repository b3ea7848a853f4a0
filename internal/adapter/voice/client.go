// Package voice connects interview sessions to the real-time voice agent
// over a WebSocket. Frames are JSON objects discriminated by "type".
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/session"
)

// Frame types exchanged with the voice agent.
const (
	FrameStart        = "start"
	FrameStop         = "stop"
	FrameAddMessage   = "add-message"
	FrameCallStart    = "call-start"
	FrameCallEnd      = "call-end"
	FrameSpeechUpdate = "speech-update"
	FrameTranscript   = "transcript"
	FrameError        = "error"
)

// Config configures the WebSocket transport.
type Config struct {
	URL          string
	APIKey       string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingPeriod   time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.ReadTimeout {
		c.PingPeriod = c.ReadTimeout * 9 / 10
	}
	return c
}

// StartFrame opens the call with the assistant configuration.
type StartFrame struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	Assistant Assistant         `json:"assistant"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Assistant mirrors the agent options: opening line and system prompt.
type Assistant struct {
	Name         string         `json:"name"`
	FirstMessage string         `json:"firstMessage"`
	Model        AssistantModel `json:"model"`
}

type AssistantModel struct {
	Messages []Message `json:"messages"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AddMessageFrame injects an instruction for the agent to act on.
type AddMessageFrame struct {
	Type                   string  `json:"type"`
	Message                Message `json:"message"`
	TriggerResponseEnabled bool    `json:"triggerResponseEnabled"`
}

// InboundFrame is any frame sent by the agent.
type InboundFrame struct {
	Type           string `json:"type"`
	Status         string `json:"status,omitempty"`
	Role           string `json:"role,omitempty"`
	TranscriptType string `json:"transcriptType,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Client is a session.Transport for one call.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
	endOnce  sync.Once
	ended    atomic.Bool
}

// New creates a transport. Nothing is dialed until Start.
func New(cfg Config, lg *slog.Logger) *Client {
	if lg == nil {
		lg = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		log:    lg,
		done:   make(chan struct{}),
	}
}

// Factory returns a session.TransportFactory producing one client per session.
func Factory(cfg Config, lg *slog.Logger) session.TransportFactory {
	return func() session.Transport { return New(cfg, lg) }
}

// Start dials the agent, retrying transient failures until DialTimeout, then
// sends the start frame and begins relaying events through emit.
func (c *Client) Start(ctx context.Context, tc session.TransportConfig, emit func(session.Event)) error {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return fmt.Errorf("op=voice.Start: %w: voice url is required", domain.ErrInvalidArgument)
	}
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 250 * time.Millisecond
	expo.MaxInterval = 2 * time.Second
	expo.MaxElapsedTime = c.cfg.DialTimeout
	var conn *websocket.Conn
	dial := func() error {
		if c.isStopped() {
			return backoff.Permanent(errors.New("transport stopped"))
		}
		ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("handshake rejected: status %d", resp.StatusCode))
			}
			c.log.Warn("voice dial failed, retrying", slog.Any("error", err))
			return err
		}
		conn = ws
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(expo, ctx)); err != nil {
		return fmt.Errorf("op=voice.Start: %w: %v", domain.ErrTransport, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("op=voice.Start: %w: stopped while dialing", domain.ErrTransport)
	}
	c.conn = conn
	c.mu.Unlock()

	start := StartFrame{
		Type:      FrameStart,
		SessionID: tc.SessionID,
		Assistant: Assistant{
			Name:         "AI Recruiter",
			FirstMessage: tc.FirstMessage,
			Model:        AssistantModel{Messages: []Message{{Role: "system", Content: tc.SystemPrompt}}},
		},
		Metadata: tc.Metadata,
	}
	if err := c.write(ctx, start); err != nil {
		_ = conn.Close()
		return fmt.Errorf("op=voice.Start: %w: %v", domain.ErrTransport, err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})
	go c.readLoop(conn, emit)
	go c.pingLoop(conn)
	return nil
}

// Send asks the agent to say or act on text.
func (c *Client) Send(ctx context.Context, text string) error {
	if c.current() == nil {
		return fmt.Errorf("op=voice.Send: %w: not connected", domain.ErrTransport)
	}
	f := AddMessageFrame{
		Type:                   FrameAddMessage,
		Message:                Message{Role: "system", Content: text},
		TriggerResponseEnabled: true,
	}
	if err := c.write(ctx, f); err != nil {
		return fmt.Errorf("op=voice.Send: %w: %v", domain.ErrTransport, err)
	}
	return nil
}

// Stop ends the call and closes the connection. Safe to call repeatedly.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	conn := c.conn
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	if conn == nil {
		return nil
	}
	_ = c.write(ctx, map[string]string{"type": FrameStop})
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"),
		c.writeDeadline(ctx))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, emit func(session.Event)) {
	defer c.doneOnce.Do(func() { close(c.done) })
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !c.isStopped() && !c.ended.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				emit(session.Event{Kind: session.EventError, Text: "voice connection lost: " + err.Error()})
			}
			c.emitEnd(emit)
			return
		}
		var f InboundFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.log.Warn("voice frame undecodable", slog.Any("error", err))
			continue
		}
		ev, ok := ToEvent(f)
		if !ok {
			continue
		}
		if ev.Kind == session.EventSessionEnded {
			c.emitEnd(emit)
			continue
		}
		emit(ev)
	}
}

func (c *Client) emitEnd(emit func(session.Event)) {
	c.endOnce.Do(func() {
		c.ended.Store(true)
		emit(session.Event{Kind: session.EventSessionEnded})
	})
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	t := time.NewTicker(c.cfg.PingPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) write(ctx context.Context, v any) error {
	conn := c.current()
	if conn == nil {
		return errors.New("not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(c.writeDeadline(ctx))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// writeDeadline is WriteTimeout from now, or the context deadline when that
// comes first.
func (c *Client) writeDeadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.cfg.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// ToEvent maps an inbound frame to a session event. Partial transcripts and
// unknown frame types are dropped.
func ToEvent(f InboundFrame) (session.Event, bool) {
	role := domain.Role(strings.ToLower(f.Role))
	switch f.Type {
	case FrameCallStart:
		return session.Event{Kind: session.EventSessionStarted}, true
	case FrameCallEnd:
		return session.Event{Kind: session.EventSessionEnded}, true
	case FrameSpeechUpdate:
		if !role.Valid() {
			return session.Event{}, false
		}
		switch f.Status {
		case "started":
			return session.Event{Kind: session.EventSpeechStart, Role: role}, true
		case "stopped":
			return session.Event{Kind: session.EventSpeechEnd, Role: role}, true
		}
	case FrameTranscript:
		if f.TranscriptType != "final" || !role.Valid() {
			return session.Event{}, false
		}
		return session.Event{Kind: session.EventTranscript, Role: role, Text: f.Transcript}, true
	case FrameError:
		msg := f.Error
		if msg == "" {
			msg = "voice agent error"
		}
		return session.Event{Kind: session.EventError, Text: msg}, true
	}
	return session.Event{}, false
}
