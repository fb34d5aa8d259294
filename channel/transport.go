// Package channel implements the realtime channel protocol: a
// request/response session between two weaves on different peers that
// exchanges version info, negotiates site-id ownership, and exchanges
// stored weaves to reconcile state.
//
// The state machine and its named endpoints are grounded on
// cmd/demo/demo.go's HTTP-handler-per-operation design, generalized from
// one fixed server holding every list to a symmetric peer-to-peer
// Transport abstraction so either side can initiate a request.
package channel

import (
	"context"
	"encoding/json"
)

// Transport carries the wire-level mechanics for one channel: named
// request/response calls, a fire-and-forget event stream, and
// connection-state notifications. A Transport has exactly one peer on
// the other end; a Channel owns exactly one Transport, the only shared
// resource between it and its background watchers.
type Transport interface {
	// Call issues a named request and decodes the peer's response into
	// resp. It returns ErrDisconnected if the transport is down.
	Call(ctx context.Context, endpoint string, req, resp interface{}) error

	// Emit sends a fire-and-forget event to the peer. While disconnected
	// it is dropped without error.
	Emit(endpoint string, event json.RawMessage)

	// Events returns the channel on which fire-and-forget events posted
	// by the peer via Emit arrive, in the order the peer sent them.
	Events() <-chan json.RawMessage

	// StateChanges returns the channel on which transport up/down
	// transitions are reported: true on connect, false on disconnect.
	StateChanges() <-chan bool
}
