package httprpc_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/causalverse/weave/atom"
	"github.com/causalverse/weave/channel"
	"github.com/causalverse/weave/channel/httprpc"
	"github.com/causalverse/weave/factory"
	"github.com/causalverse/weave/weave"
	"github.com/stretchr/testify/require"
)

type intOp int

func (v intOp) MarshalJSON() ([]byte, error) { return json.Marshal(int(v)) }

// TestClientServer_JoinAndExchangeWeave exercises the HTTP transport
// end-to-end: a real net/http/httptest server answering join_channel,
// info_<id> and weave_<id>, called by the hand-written Client.
func TestClientServer_JoinAndExchangeWeave(t *testing.T) {
	f, err := factory.New(7)
	require.NoError(t, err)
	root, err := f.Create(intOp(1), atom.ID{})
	require.NoError(t, err)

	serverWeave := weave.New()
	_, ok := serverWeave.Insert(root)
	require.True(t, ok)

	srv := httprpc.NewServer()
	const channelID = "chan-1"
	srv.OpenSession(
		channel.Info{ID: channelID, Type: "room"},
		channel.SiteInfo{ID: 7},
		serverWeave,
		nil,
	)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := httprpc.NewClient(ts.URL, channelID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client.Connect(ctx)
	defer client.Disconnect()

	ch := channel.New(channel.Info{ID: channelID, Type: "room"}, client)
	defer ch.Close()

	deadline := time.Now().Add(time.Second)
	for ch.State() == channel.Disconnected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, channel.Connected, ch.State())

	require.NoError(t, ch.Join(ctx))

	remoteInfo, err := ch.ExchangeInfo(ctx, channel.SiteVersionInfo{Site: channel.SiteInfo{ID: 11}})
	require.NoError(t, err)
	require.Equal(t, uint32(7), remoteInfo.Site.ID)
	require.Equal(t, uint64(1), remoteInfo.Version.Sites[7])

	clientWeave := weave.New()
	localStored, err := clientWeave.Store(11, nil)
	require.NoError(t, err)
	remoteStored, err := ch.ExchangeWeaves(ctx, localStored)
	require.NoError(t, err)

	remoteAtoms, err := remoteStored.Atoms()
	require.NoError(t, err)
	inserted := clientWeave.Import(remoteAtoms)
	require.Len(t, inserted, 1)

	clientVersion, err := clientWeave.GetVersion()
	require.NoError(t, err)
	serverVersion, err := serverWeave.GetVersion()
	require.NoError(t, err)
	require.Equal(t, serverVersion.Hash, clientVersion.Hash)
}

// TestRequestSiteID_RejectsOwnID checks the server-side collision rule:
// proposing the server's own site id must be rejected.
func TestRequestSiteID_RejectsOwnID(t *testing.T) {
	srv := httprpc.NewServer()
	const channelID = "chan-2"
	srv.OpenSession(channel.Info{ID: channelID}, channel.SiteInfo{ID: 3}, weave.New(), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := httprpc.NewClient(ts.URL, channelID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client.Connect(ctx)
	defer client.Disconnect()

	ch := channel.New(channel.Info{ID: channelID}, client)
	defer ch.Close()

	deadline := time.Now().Add(time.Second)
	for ch.State() == channel.Disconnected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, ch.Join(ctx))

	granted, err := ch.RequestSiteID(ctx, channel.SiteInfo{ID: 3})
	require.NoError(t, err)
	require.False(t, granted)

	granted, err = ch.RequestSiteID(ctx, channel.SiteInfo{ID: 42})
	require.NoError(t, err)
	require.True(t, granted)
}
