package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler answers one named request/response endpoint.
type Handler func(ctx context.Context, req json.RawMessage) (json.RawMessage, error)

// PipeTransport is an in-memory Transport connecting two peers in the
// same process, used by the channel tests. It plays the role
// cmd/demo/demo.go's single in-process state map plays for its simulated
// editors, but symmetric: either side can register handlers and call the
// other.
type PipeTransport struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	peer     *PipeTransport

	events  chan json.RawMessage
	state   chan bool
	closed  bool
	closeMu sync.Mutex
}

// NewPipe returns two connected PipeTransports, a and b, each other's
// peer.
func NewPipe() (a, b *PipeTransport) {
	a = &PipeTransport{
		handlers: make(map[string]Handler),
		events:   make(chan json.RawMessage, 64),
		state:    make(chan bool, 4),
	}
	b = &PipeTransport{
		handlers: make(map[string]Handler),
		events:   make(chan json.RawMessage, 64),
		state:    make(chan bool, 4),
	}
	a.peer, b.peer = b, a
	a.state <- true
	b.state <- true
	return a, b
}

// Handle registers the handler that answers endpoint when the peer
// calls it.
func (p *PipeTransport) Handle(endpoint string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[endpoint] = h
}

// Call implements Transport by invoking the peer's registered handler
// for endpoint directly (no actual network hop).
func (p *PipeTransport) Call(ctx context.Context, endpoint string, req, resp interface{}) error {
	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()
	p.peer.closeMu.Lock()
	closed = closed || p.peer.closed
	p.peer.closeMu.Unlock()
	if closed {
		return ErrDisconnected
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("pipetransport: marshal request: %w", err)
	}
	p.peer.mu.RLock()
	h, ok := p.peer.handlers[endpoint]
	p.peer.mu.RUnlock()
	if !ok {
		return fmt.Errorf("pipetransport: no handler for %q", endpoint)
	}
	respBytes, err := h(ctx, reqBytes)
	if err != nil {
		return err
	}
	if resp != nil {
		if err := json.Unmarshal(respBytes, resp); err != nil {
			return fmt.Errorf("pipetransport: unmarshal response: %w", err)
		}
	}
	return nil
}

// Emit delivers event to the peer's Events channel. While either end is
// disconnected, the event is dropped.
func (p *PipeTransport) Emit(endpoint string, event json.RawMessage) {
	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()
	p.peer.closeMu.Lock()
	closed = closed || p.peer.closed
	p.peer.closeMu.Unlock()
	if closed {
		return
	}
	select {
	case p.peer.events <- event:
	default:
	}
}

// Events returns the channel on which the peer's Emit calls arrive.
func (p *PipeTransport) Events() <-chan json.RawMessage { return p.events }

// StateChanges returns the channel reporting this side's own up/down
// transitions.
func (p *PipeTransport) StateChanges() <-chan bool { return p.state }

// Disconnect simulates a transport failure: both ends observe false.
func (p *PipeTransport) Disconnect() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.state <- false
	p.peer.state <- false
}

// Reconnect simulates the transport coming back up: both ends observe
// true, and the PipeTransport accepts calls again.
func (p *PipeTransport) Reconnect() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	p.closed = false
	p.state <- true
	p.peer.state <- true
}
