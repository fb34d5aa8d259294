// Command demo shows two sites editing the same world state, diverging
// while working offline, then reconnecting and converging via the
// realtime channel protocol.
//
// Site B runs an HTTP server (channel/httprpc) fronting its own weave.
// Site A runs in the same process as an httprpc.Client, so the whole
// scenario is observable from one binary's log output, the way the
// teacher's original demo played every simulated editor against a
// single, mutex-guarded state map.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/causalverse/weave/atom"
	"github.com/causalverse/weave/channel"
	"github.com/causalverse/weave/channel/httprpc"
	"github.com/causalverse/weave/factory"
	"github.com/causalverse/weave/weave"
)

var port = flag.Int("port", 8009, "port for site B's httprpc server")

// propertyOp is the payload exchanged between sites: an assignment of a
// single property on a single entity in the shared world, e.g. setting a
// torch's "lit" flag. The core treats it as opaque; only MarshalJSON is
// needed for checksums and wire transfer.
type propertyOp struct {
	Entity string      `json:"entity"`
	Prop   string      `json:"prop"`
	Value  interface{} `json:"value"`
}

func (p propertyOp) MarshalJSON() ([]byte, error) {
	type alias propertyOp
	return json.Marshal(alias(p))
}

func main() {
	flag.Parse()

	const channelID = "world-1"

	// The two sites must start from the same root: a weave has exactly
	// one root atom, so there is no merging two independently-created
	// worlds, only joining one that already exists. A third, bootstrap
	// factory (site 0 would be invalid; use a throwaway site id) mints it
	// once, the way a real deployment would seed a fresh world file
	// before any site opens a channel to it.
	bootstrap, err := factory.New(99)
	if err != nil {
		log.Fatalf("demo: bootstrap factory: %v", err)
	}
	root, err := bootstrap.Create(propertyOp{Entity: "torch-1", Prop: "lit", Value: true}, atom.ID{})
	if err != nil {
		log.Fatalf("demo: bootstrap root: %v", err)
	}

	siteB := setUpSiteB(channelID, root)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", *port))
	if err != nil {
		log.Fatalf("demo: listen on port %d: %v", *port, err)
	}
	httpSrv := &http.Server{Handler: siteB.server.Handler()}
	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("demo: site B server stopped: %v", err)
		}
	}()
	defer httpSrv.Close()
	log.Printf("demo: site B serving on %s", listener.Addr())

	runSiteA(channelID, listener.Addr().String(), root)

	log.Printf("demo: site B final weave: %s", describe(siteB.weave))
}

type siteBHandle struct {
	weave  *weave.Weave
	server *httprpc.Server
}

// setUpSiteB builds site 2's local weave from the shared root, edits it
// once while offline (simulating an editor that started before site
// 1 ever connected), then opens an httprpc session for it.
func setUpSiteB(channelID string, root atom.Atom) siteBHandle {
	f, err := factory.New(2)
	if err != nil {
		log.Fatalf("demo: new factory for site B: %v", err)
	}
	w := weave.New()
	w.Insert(root)
	f.UpdateTime(root)

	edit, _ := f.Create(propertyOp{Entity: "door-1", Prop: "open", Value: false}, root.ID)
	w.Insert(edit)
	log.Printf("demo: site B edited offline: %s", describe(w))

	srv := httprpc.NewServer()
	srv.OpenSession(channel.Info{ID: channelID, Type: "world"}, channel.SiteInfo{ID: 2}, w, nil)
	return siteBHandle{weave: w, server: srv}
}

// runSiteA connects to site B's server, makes its own independent edits
// on the same shared root, then follows the reconnection protocol to
// converge: join, exchange_info, and (since the versions differ)
// exchange_weaves, importing the result both ways.
func runSiteA(channelID, baseAddr string, root atom.Atom) {
	f, err := factory.New(1)
	if err != nil {
		log.Fatalf("demo: new factory for site A: %v", err)
	}
	w := weave.New()
	w.Insert(root)
	f.UpdateTime(root)

	edit, _ := f.Create(propertyOp{Entity: "torch-1", Prop: "lit", Value: false}, root.ID)
	w.Insert(edit)
	log.Printf("demo: site A edited independently: %s", describe(w))

	client := httprpc.NewClient("http://"+baseAddr, channelID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client.Connect(ctx)
	defer client.Disconnect()

	ch := channel.New(channel.Info{ID: channelID, Type: "world"}, client)
	defer ch.Close()

	waitConnected(ch)
	if err := ch.Join(ctx); err != nil {
		log.Fatalf("demo: site A join: %v", err)
	}

	local, err := w.GetVersion()
	if err != nil {
		log.Fatalf("demo: site A version: %v", err)
	}
	remote, err := ch.ExchangeInfo(ctx, channel.SiteVersionInfo{Site: channel.SiteInfo{ID: 1}, Version: local})
	if err != nil {
		log.Fatalf("demo: site A exchange_info: %v", err)
	}
	if remote.Version.Hash == local.Hash {
		log.Printf("demo: already converged, no weave exchange needed")
		return
	}

	stored, err := w.Store(1, []weave.SiteInfo{{ID: 2}})
	if err != nil {
		log.Fatalf("demo: site A store: %v", err)
	}
	remoteStored, err := ch.ExchangeWeaves(ctx, stored)
	if err != nil {
		log.Fatalf("demo: site A exchange_weaves: %v", err)
	}
	remoteAtoms, err := remoteStored.Atoms()
	if err != nil {
		log.Fatalf("demo: site A decode remote atoms: %v", err)
	}
	inserted := w.Import(remoteAtoms)
	log.Printf("demo: site A imported %d new atoms from site B", len(inserted))
	log.Printf("demo: site A converged weave: %s", describe(w))
}

func waitConnected(ch *channel.Channel) {
	deadline := time.Now().Add(5 * time.Second)
	for ch.State() == channel.Disconnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func describe(w *weave.Weave) string {
	v, err := w.GetVersion()
	if err != nil {
		return "<error>"
	}
	return fmt.Sprintf("%d atoms, hash=%s", w.Len(), v.Hash)
}
