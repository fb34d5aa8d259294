package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/causalverse/weave/weave"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// ErrDisconnected is returned by in-flight requests when the transport is
// down: every operation in flight fails with this one generic error
// rather than a more specific cause.
var ErrDisconnected = errors.New("channel: disconnected")

// State is a channel's position in its connection state machine.
type State int

const (
	Disconnected State = iota
	Connected
	Joined
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Joined:
		return "joined"
	default:
		return "unknown"
	}
}

// Info identifies a channel to the peer it joins with.
type Info struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// NewID generates a fresh, globally-unique channel id suitable for Info.ID.
// Channel ids only need to be unique between the two peers of a single
// session, but a random UUID avoids any coordination between them.
func NewID() string {
	return uuid.New().String()
}

// SiteInfo names a site by its peer identifier.
type SiteInfo struct {
	ID uint32 `json:"id"`
}

// SiteVersionInfo is the request/response payload of info_<channel_id>:
// a site identity plus its weave's current version.
type SiteVersionInfo struct {
	Site    SiteInfo      `json:"site"`
	Version weave.Version `json:"version"`
}

// StatusKind tags the variant of a Status update.
type StatusKind string

const (
	StatusConnection     StatusKind = "connection"
	StatusAuthentication StatusKind = "authentication"
	StatusAuthorization  StatusKind = "authorization"
)

// Status is a tagged status update delivered to observers. Only the
// fields relevant to Kind are populated.
type Status struct {
	Kind          StatusKind `json:"kind"`
	Connected     bool       `json:"connected,omitempty"`
	Authenticated *bool      `json:"authenticated,omitempty"`
	Authorized    *bool      `json:"authorized,omitempty"`
	User          string     `json:"user,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// Event is a single remote-originated event delivered once the channel
// has joined, wrapping its raw payload. The only guarantee offered to
// consumers is causal delivery: events surface in the order the peer
// sent them.
type Event struct {
	Payload json.RawMessage
}

// Channel is a request/response session between two weaves on different
// peers. A Channel owns its Transport and is driven by exactly one
// logical task, matching the weave it fronts.
//
// Grounded on cmd/demo/demo.go's per-operation HTTP handlers and
// sync.Mutex-guarded state, generalized to a symmetric two-peer session
// instead of one server fronting many lists.
type Channel struct {
	info      Info
	transport Transport

	mu         sync.Mutex
	state      State
	authorized bool
	events     chan Event
	status     chan Status

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a channel for the given local info, wired to transport. It
// starts Disconnected, authorized by default (no authorization step has
// run yet to say otherwise), and begins watching transport's state
// changes.
func New(info Info, transport Transport) *Channel {
	c := &Channel{
		info:       info,
		transport:  transport,
		state:      Disconnected,
		authorized: true,
		events:     make(chan Event, 64),
		status:     make(chan Status, 16),
		done:       make(chan struct{}),
	}
	go c.watchTransport()
	go c.watchEvents()
	return c
}

// Info returns the channel's local identity.
func (c *Channel) Info() Info { return c.info }

// State returns the channel's current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the stream of remote-originated events. It only
// delivers while the channel is Joined; events received while not
// joined are discarded, since Joined is the only state from which
// events flow.
func (c *Channel) Events() <-chan Event { return c.events }

// StatusUpdates returns the stream of tagged status updates.
func (c *Channel) StatusUpdates() <-chan Status { return c.status }

// Close stops the channel's background watchers.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Channel) watchTransport() {
	for {
		select {
		case <-c.done:
			return
		case up, ok := <-c.transport.StateChanges():
			if !ok {
				return
			}
			if up {
				c.setState(Connected)
			} else {
				c.setState(Disconnected)
				c.status <- Status{Kind: StatusConnection, Connected: false}
			}
		}
	}
}

func (c *Channel) watchEvents() {
	for {
		select {
		case <-c.done:
			return
		case raw, ok := <-c.transport.Events():
			if !ok {
				return
			}
			if c.State() != Joined {
				continue
			}
			if !c.isAuthorized() {
				continue
			}
			c.events <- Event{Payload: raw}
		}
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) isAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

// SetAuthenticated reports an authentication outcome to observers via a
// StatusAuthentication update. It does not affect event delivery: per
// spec.md §7, the channel remains connected and awaiting a new
// credential on authentication failure, and events keep flowing or not
// based only on connection/join state and authorization.
func (c *Channel) SetAuthenticated(ok bool, user, reason string) {
	authenticated := ok
	c.status <- Status{
		Kind:          StatusAuthentication,
		Authenticated: &authenticated,
		User:          user,
		Reason:        reason,
	}
}

// SetAuthorized reports an authorization outcome to observers via a
// StatusAuthorization update. A failed authorization (ok=false) suppresses
// further event delivery on this channel — matching spec.md §7's
// "channel stays open for observability but events yield nothing" — until
// a later call reports ok=true again.
func (c *Channel) SetAuthorized(ok bool, reason string) {
	c.mu.Lock()
	c.authorized = ok
	c.mu.Unlock()
	authorized := ok
	c.status <- Status{
		Kind:       StatusAuthorization,
		Authorized: &authorized,
		Reason:     reason,
	}
}

// Join performs the join_channel(info) -> {} handshake. On success the
// channel transitions to Joined and emits a connection status update
// with connected=true.
func (c *Channel) Join(ctx context.Context) error {
	if c.State() == Disconnected {
		return ErrDisconnected
	}
	var empty struct{}
	if err := c.transport.Call(ctx, "join_channel", c.info, &empty); err != nil {
		return pkgerrors.Wrap(err, "channel: join")
	}
	c.setState(Joined)
	c.status <- Status{Kind: StatusConnection, Connected: true}
	return nil
}

// Emit sends a local event to the peer. While disconnected, the
// emission is silently dropped: the peer reconciles on reconnect via
// weave exchange instead.
func (c *Channel) Emit(event json.RawMessage) {
	if c.State() == Disconnected {
		return
	}
	c.transport.Emit("event_"+c.info.ID, event)
}

// ExchangeInfo requests the peer's current site/version via
// exchange_info and returns it.
func (c *Channel) ExchangeInfo(ctx context.Context, local SiteVersionInfo) (SiteVersionInfo, error) {
	if c.State() == Disconnected {
		return SiteVersionInfo{}, ErrDisconnected
	}
	var remote SiteVersionInfo
	endpoint := "info_" + c.info.ID
	if err := c.transport.Call(ctx, endpoint, local, &remote); err != nil {
		return SiteVersionInfo{}, pkgerrors.Wrap(err, "channel: exchange_info")
	}
	return remote, nil
}

// RequestSiteID asks the peer whether proposed may be adopted as this
// channel's site identity, resolving the race where two peers
// independently pick the same id on first join.
func (c *Channel) RequestSiteID(ctx context.Context, proposed SiteInfo) (bool, error) {
	if c.State() == Disconnected {
		return false, ErrDisconnected
	}
	var granted bool
	endpoint := "siteId_" + c.info.ID
	if err := c.transport.Call(ctx, endpoint, proposed, &granted); err != nil {
		return false, pkgerrors.Wrap(err, "channel: request_site_id")
	}
	return granted, nil
}

// ExchangeWeaves sends a stored tree to the peer via exchange_weaves and
// returns the peer's stored tree in response. It imports nothing into a
// local weave; importing the returned tree is up to the caller, and the
// peer's weave_<id> handler decides what to do with the tree it receives.
func (c *Channel) ExchangeWeaves(ctx context.Context, local weave.StoredCausalTree) (weave.StoredCausalTree, error) {
	if c.State() == Disconnected {
		return weave.StoredCausalTree{}, ErrDisconnected
	}
	var remote weave.StoredCausalTree
	endpoint := "weave_" + c.info.ID
	if err := c.transport.Call(ctx, endpoint, local, &remote); err != nil {
		return weave.StoredCausalTree{}, pkgerrors.Wrap(err, "channel: exchange_weaves")
	}
	return remote, nil
}

// Reconnect implements the reconnection protocol: re-join, then
// exchange_info, and if versions differ, exchange_weaves and import the
// peer's stored tree into w (the peer imports w's tree in its own
// weave_<id> handler). It reports whether a weave exchange occurred.
func (c *Channel) Reconnect(ctx context.Context, local SiteInfo, w *weave.Weave, knownSites []weave.SiteInfo) (bool, error) {
	if err := c.Join(ctx); err != nil {
		return false, err
	}
	localVersion, err := w.GetVersion()
	if err != nil {
		return false, err
	}
	remoteInfo, err := c.ExchangeInfo(ctx, SiteVersionInfo{Site: local, Version: localVersion})
	if err != nil {
		return false, err
	}
	if remoteInfo.Version.Hash == localVersion.Hash {
		return false, nil
	}
	localStored, err := w.Store(local.ID, knownSites)
	if err != nil {
		return false, err
	}
	remoteStored, err := c.ExchangeWeaves(ctx, localStored)
	if err != nil {
		return false, err
	}
	remoteAtoms, err := remoteStored.Atoms()
	if err != nil {
		return false, err
	}
	w.Import(remoteAtoms)
	return true, nil
}
