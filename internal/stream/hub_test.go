package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisYZZ/Cei-Noise/pkg/models"
)

// newHubServer serves the hub's websocket endpoint for tests.
func newHubServer(hub *Hub) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(hub.ServeWS))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, want, hub.ClientCount())
}

func TestBroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	waitForClients(t, hub, 1)

	sent := models.ConflictAlert{
		ID:          uuid.New(),
		EmittedAt:   time.Now().UTC(),
		RouteA:      "cbd-express",
		RouteB:      "hospital-emergency-link",
		MinDistance: 18.4,
		Severity:    "CRITICAL",
	}
	hub.Broadcast(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got models.ConflictAlert
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "cbd-express", got.RouteA)
	assert.Equal(t, "CRITICAL", got.Severity)
}

func TestClientCountTracksConnections(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(hub)
	defer srv.Close()

	conn1 := dial(t, srv)
	conn2 := dial(t, srv)

	waitForClients(t, hub, 2)

	conn1.Close()
	waitForClients(t, hub, 1)

	conn2.Close()
	waitForClients(t, hub, 0)
}

func TestBroadcastDropsDeadClient(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(hub)
	defer srv.Close()

	conn := dial(t, srv)

	waitForClients(t, hub, 1)

	// Tear down the TCP side without a close handshake, then broadcast until
	// the hub notices the write failure.
	conn.UnderlyingConn().Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() > 0 && time.Now().Before(deadline) {
		hub.Broadcast(models.ConflictAlert{RouteA: "a", RouteB: "b"})
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestBroadcastAll(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	waitForClients(t, hub, 1)

	hub.BroadcastAll([]models.ConflictAlert{
		{RouteA: "a", RouteB: "b", Severity: "LOW"},
		{RouteA: "a", RouteB: "c", Severity: "HIGH"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	waitForClients(t, hub, 1)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())
}
