// Package httprpc wires the realtime channel protocol onto HTTP,
// grounded on cmd/demo/demo.go's per-operation HTTP handlers
// and built on top of github.com/broady/tygor's App/Service/Register
// framework for request routing, validation and error envelopes.
//
// tygor only generates a TypeScript client; there is no Go client
// generator in the pack, so the outbound side (Client, in client.go) is
// a hand-written HTTP caller in the style of demo.go's own JSON request
// handlers, while the inbound side (Server, here) uses tygor fully.
package httprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/broady/tygor"
	"github.com/causalverse/weave/channel"
	"github.com/causalverse/weave/weave"
)

// session holds one channel's server-side state: the weave it fronts,
// its local identity, and the outbound event queue drained by the
// event_<id> SSE stream.
type session struct {
	mu         sync.Mutex
	info       channel.Info
	localSite  channel.SiteInfo
	knownSites []weave.SiteInfo
	weave      *weave.Weave
	joined     bool
	outbound   chan json.RawMessage
}

// Server answers the realtime channel protocol for any number of
// concurrently open sessions, one per remote channel id.
type Server struct {
	app *tygor.App

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewServer builds a Server with the join_channel endpoint registered.
// Per-channel endpoints (info_<id>, siteId_<id>, weave_<id>, event_<id>,
// emit_<id>) are registered as sessions are opened, since their names
// are not known until a channel id exists.
func NewServer() *Server {
	s := &Server{
		app:      tygor.NewApp(),
		sessions: make(map[string]*session),
	}
	svc := s.app.Service("channel")
	svc.Register("join_channel", tygor.Exec(s.handleJoin))
	return s
}

// Handler returns the http.Handler to mount, typically at "/".
func (s *Server) Handler() http.Handler { return s.app.Handler() }

// OpenSession registers the named endpoints for channel info.ID; the
// peer's exchanges on them operate on the live weave w.
func (s *Server) OpenSession(info channel.Info, localSite channel.SiteInfo, w *weave.Weave, knownSites []weave.SiteInfo) {
	sess := &session{
		info:       info,
		localSite:  localSite,
		knownSites: knownSites,
		weave:      w,
		outbound:   make(chan json.RawMessage, 256),
	}
	s.mu.Lock()
	s.sessions[info.ID] = sess
	s.mu.Unlock()

	svc := s.app.Service("channel")
	svc.Register("info_"+info.ID, tygor.Exec(sess.handleInfo))
	svc.Register("siteId_"+info.ID, tygor.Exec(sess.handleSiteID))
	svc.Register("weave_"+info.ID, tygor.Exec(sess.handleWeave))
	svc.Register("emit_"+info.ID, tygor.Exec(sess.handleEmit))
	svc.Register("event_"+info.ID, tygor.Stream(sess.handleEventStream))
}

// Emit queues event for delivery to the channel id's event_<id> stream.
// A full queue drops the event, the same fate as emitting while
// disconnected applied to a slow or absent subscriber.
func (s *Server) Emit(channelID string, event json.RawMessage) {
	s.mu.RLock()
	sess, ok := s.sessions[channelID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case sess.outbound <- event:
	default:
	}
}

func (s *Server) handleJoin(ctx context.Context, req channel.Info) (tygor.Empty, error) {
	s.mu.RLock()
	sess, ok := s.sessions[req.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, tygor.Errorf(tygor.CodeNotFound, "unknown channel %q", req.ID)
	}
	sess.mu.Lock()
	sess.joined = true
	sess.mu.Unlock()
	return nil, nil
}

func (s *session) handleInfo(ctx context.Context, req channel.SiteVersionInfo) (channel.SiteVersionInfo, error) {
	version, err := s.weave.GetVersion()
	if err != nil {
		return channel.SiteVersionInfo{}, tygor.Errorf(tygor.CodeInternal, "get version: %v", err)
	}
	return channel.SiteVersionInfo{Site: s.localSite, Version: version}, nil
}

func (s *session) handleSiteID(ctx context.Context, req channel.SiteInfo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == 0 || req.ID == s.localSite.ID {
		return false, nil
	}
	for _, known := range s.knownSites {
		if known.ID == req.ID {
			return false, nil
		}
	}
	s.knownSites = append(s.knownSites, weave.SiteInfo{ID: req.ID})
	return true, nil
}

func (s *session) handleWeave(ctx context.Context, req weave.StoredCausalTree) (weave.StoredCausalTree, error) {
	atoms, err := req.Atoms()
	if err != nil {
		return weave.StoredCausalTree{}, tygor.Errorf(tygor.CodeInvalidArgument, "decode atoms: %v", err)
	}
	s.weave.Import(atoms)
	return s.weave.Store(s.localSite.ID, s.knownSites)
}

func (s *session) handleEmit(ctx context.Context, req json.RawMessage) (tygor.Empty, error) {
	select {
	case s.outbound <- req:
	default:
	}
	return nil, nil
}

func (s *session) handleEventStream(ctx context.Context, req struct{}, emit tygor.Emitter[json.RawMessage]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.outbound:
			if !ok {
				return nil
			}
			if err := emit.Send(event); err != nil {
				return fmt.Errorf("httprpc: send event: %w", err)
			}
		}
	}
}
