package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/pkg"
)

func startHub(t *testing.T) (*WebSocketHub, *httptest.Server) {
	t.Helper()

	hub := NewWebSocketHub(pkg.NewNopLogger())
	go hub.Run()

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		ts.Close()
		hub.Stop()
	})
	return hub, ts
}

func dialHub(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHub_BroadcastsRingEvents(t *testing.T) {
	hub, ts := startHub(t)

	first := dialHub(t, ts)
	second := dialHub(t, ts)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	event := chord.RingUpdateEvent{
		Type:      chord.EventNodeJoin,
		NodeID:    "a",
		PeerID:    "c8",
		State:     "stable",
		Timestamp: 1700000000,
		Message:   "node c8 joined",
	}
	require.NoError(t, hub.BroadcastRingUpdate(event))

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, msgType)

		var got chord.RingUpdateEvent
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, event, got)
	}
}

func TestWebSocketHub_OneEventPerFrame(t *testing.T) {
	hub, ts := startHub(t)

	conn := dialHub(t, ts)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.BroadcastRingUpdate(map[string]int{"seq": i}))
	}

	for i := 0; i < 5; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var got map[string]int
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, i, got["seq"])
	}
}

func TestWebSocketHub_ClientDisconnect(t *testing.T) {
	hub, ts := startHub(t)

	conn := dialHub(t, ts)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketHub_StopClosesClients(t *testing.T) {
	hub := NewWebSocketHub(pkg.NewNopLogger())
	go hub.Run()

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer ts.Close()

	conn := dialHub(t, ts)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Stop()
	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection closed by the hub")

	// Broadcasting after shutdown never blocks
	for i := 0; i < 300; i++ {
		assert.NoError(t, hub.BroadcastRingUpdate(i))
	}

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocketHub_RejectsUnencodableUpdates(t *testing.T) {
	hub := NewWebSocketHub(nil)
	assert.Error(t, hub.BroadcastRingUpdate(make(chan int)))
}
