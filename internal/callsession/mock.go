package callsession

import (
	"context"
	"sync"
)

// MockProvider is an in-process provider used in tests and keyless dev
// runs. Tests drive the event stream directly through the returned call.
type MockProvider struct {
	mu        sync.Mutex
	calls     []*MockCall
	startErr  error
	bufferLen int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{bufferLen: 64}
}

// FailNextStart makes the next StartCall return err.
func (p *MockProvider) FailNextStart(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startErr = err
}

func (p *MockProvider) StartCall(_ context.Context, _ CallConfig) (CallHandle, <-chan any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		err := p.startErr
		p.startErr = nil
		return nil, nil, err
	}
	c := &MockCall{events: make(chan any, p.bufferLen)}
	p.calls = append(p.calls, c)
	return c, c.events, nil
}

// LastCall returns the most recently started call, or nil.
func (p *MockProvider) LastCall() *MockCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type MockCall struct {
	mu         sync.Mutex
	events     chan any
	closed     bool
	ended      bool
	keepAlives int
}

// Emit injects a parsed session event into the call's stream. No-op after
// the call has ended.
func (c *MockCall) Emit(ev any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// CloseStream closes the event stream without marking the call ended,
// simulating the vendor dropping the connection.
func (c *MockCall) CloseStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

func (c *MockCall) KeepAlive(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepAlives++
	return nil
}

func (c *MockCall) End(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *MockCall) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *MockCall) KeepAliveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlives
}
