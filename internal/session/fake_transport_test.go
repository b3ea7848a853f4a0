package session

import (
	"context"
	"errors"
	"sync"
)

type fakeTransport struct {
	mu       sync.Mutex
	cfg      TransportConfig
	emitFn   func(Event)
	sent     []string
	stops    int
	starts   int
	startErr error
	started  chan struct{}
	once     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{started: make(chan struct{})}
}

func (f *fakeTransport) Start(_ context.Context, cfg TransportConfig, emit func(Event)) error {
	f.mu.Lock()
	f.cfg = cfg
	f.starts++
	f.emitFn = emit
	err := f.startErr
	f.mu.Unlock()
	f.once.Do(func() { close(f.started) })
	return err
}

func (f *fakeTransport) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitFn == nil {
		return errors.New("not started")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeTransport) emit(ev Event) {
	f.mu.Lock()
	fn := f.emitFn
	f.mu.Unlock()
	fn(ev)
}

func (f *fakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeTransport) Config() TransportConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeTransport) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}
