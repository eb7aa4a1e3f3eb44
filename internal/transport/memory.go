package transport

import (
	"context"
	"sync"
)

// Memory is an in-process Channel. Sent requests are recorded and inbound
// events are injected with Deliver.
type Memory struct {
	registry

	mu         sync.Mutex
	connected  bool
	connectErr error
	sendErr    error
	sent       []Request
	onSend     func(Request)
}

// NewMemory returns a disconnected in-memory channel.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Send records req. A handler set with OnSend runs after recording, on the
// caller's goroutine.
func (m *Memory) Send(ctx context.Context, req Request) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, req)
	onSend := m.onSend
	m.mu.Unlock()

	if onSend != nil {
		onSend(req)
	}
	return nil
}

// Deliver dispatches ev to subscribed handlers as if it arrived on the wire.
func (m *Memory) Deliver(ev Event) {
	m.dispatch(ev)
}

// DeliverRaw decodes a raw frame and dispatches it.
func (m *Memory) DeliverRaw(raw []byte) error {
	ev, err := Decode(raw)
	if err != nil {
		return err
	}
	m.dispatch(ev)
	return nil
}

// Sent returns the requests sent so far, optionally filtered by action.
func (m *Memory) Sent(action string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.sent {
		if action == "" || r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// SetConnected forces the connection state.
func (m *Memory) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// FailConnect makes Connect return err. A nil err restores success.
func (m *Memory) FailConnect(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

// FailSends makes Send return err. A nil err restores success.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// OnSend installs a hook run for every successful Send.
func (m *Memory) OnSend(fn func(Request)) {
	m.mu.Lock()
	m.onSend = fn
	m.mu.Unlock()
}
