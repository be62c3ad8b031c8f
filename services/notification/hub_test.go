package notification

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(userID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestHubDeliversToConnectedUser(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "u1")
	require.Eventually(t, func() bool { return hub.Connected("u1") == 1 },
		time.Second, 10*time.Millisecond)

	hub.Send("u1", &Notification{ID: "n1", UserID: "u1", Title: "ping"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Notification
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "n1", got.ID)
	require.Equal(t, "ping", got.Title)
}

func TestHubSendToAbsentUserIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Send("nobody", &Notification{ID: "n1"})
	require.Zero(t, hub.Connected("nobody"))
}

func TestHubFanOutToMultipleConnections(t *testing.T) {
	hub := NewHub()
	a := dialHub(t, hub, "u1")
	b := dialHub(t, hub, "u1")
	require.Eventually(t, func() bool { return hub.Connected("u1") == 2 },
		time.Second, 10*time.Millisecond)

	hub.Send("u1", &Notification{ID: "n1"})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var got Notification
		require.NoError(t, conn.ReadJSON(&got))
		require.Equal(t, "n1", got.ID)
	}
}

// Pushes to different users share no lock; concurrent sends all land.
func TestHubSendsToUsersIndependently(t *testing.T) {
	hub := NewHub()
	a := dialHub(t, hub, "u1")
	b := dialHub(t, hub, "u2")
	require.Eventually(t, func() bool {
		return hub.Connected("u1") == 1 && hub.Connected("u2") == 1
	}, time.Second, 10*time.Millisecond)

	const sends = 10
	var wg sync.WaitGroup
	for _, userID := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < sends; i++ {
				hub.Send(userID, &Notification{ID: "n", UserID: userID})
			}
		}()
	}
	wg.Wait()

	for userID, c := range map[string]*websocket.Conn{"u1": a, "u2": b} {
		c.SetReadDeadline(time.Now().Add(time.Second))
		for i := 0; i < sends; i++ {
			var got Notification
			require.NoError(t, c.ReadJSON(&got))
			require.Equal(t, userID, got.UserID)
		}
	}
}

func TestHubEvictsClosedConnections(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "u1")
	require.Eventually(t, func() bool { return hub.Connected("u1") == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()

	// the dead connection is dropped on the next write attempt
	require.Eventually(t, func() bool {
		hub.Send("u1", &Notification{ID: "n1"})
		return hub.Connected("u1") == 0
	}, 2*time.Second, 50*time.Millisecond)
}
