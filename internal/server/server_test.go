package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dealnotedev/hunt-stats/internal/broker"
	"github.com/dealnotedev/hunt-stats/internal/storage"
	"github.com/dealnotedev/hunt-stats/internal/tracker"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()

	s := New("", broker.NewReplayLast[*tracker.HuntBundle](), broker.New[tracker.MapChanged]())

	// A pre-published bundle doubles as a sync point: once the client has
	// read the replayed frame, the handler's subscriptions are in place.
	s.bundles.Publish(nil)

	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return s, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// TestServer_ReplaysCurrentBundleOnConnect verifies a fresh client's first
// frame is the bundle published before it connected.
func TestServer_ReplaysCurrentBundleOnConnect(t *testing.T) {
	s := New("", broker.NewReplayLast[*tracker.HuntBundle](), broker.New[tracker.MapChanged]())
	s.bundles.Publish(&tracker.HuntBundle{
		Match: &storage.MatchHeader{ID: 7, Signature: "sig-7"},
	})

	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, "bundle", msg.Type)
	require.NotNil(t, msg.Bundle)
	assert.Equal(t, "sig-7", msg.Bundle.Match.Signature)
}

// TestServer_ForwardsMapChanges verifies published map changes reach the
// client as map_change frames.
func TestServer_ForwardsMapChanges(t *testing.T) {
	s, conn := dialTestServer(t)

	first := readMessage(t, conn)
	assert.Equal(t, "bundle", first.Type)
	assert.Nil(t, first.Bundle)

	s.mapChanges.Publish(tracker.MapChanged{Level: "creek/swamp"})

	msg := readMessage(t, conn)
	assert.Equal(t, "map_change", msg.Type)
	assert.Equal(t, "creek/swamp", msg.Level)
}

// TestServer_StartStop verifies the listener binds and shuts down cleanly.
func TestServer_StartStop(t *testing.T) {
	s := New("127.0.0.1:0", broker.NewReplayLast[*tracker.HuntBundle](), broker.New[tracker.MapChanged]())
	require.NoError(t, s.Start())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
