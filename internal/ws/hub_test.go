package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	xerrors "match-service/pkg/utils/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient builds a client without a real socket; hub tests exercise
// the registry directly and read frames off the Send channel.
func testClient(id, userID string, hub *Hub) *Client {
	return NewClient(id, userID, nil, hub)
}

func TestHubAttachDetach(t *testing.T) {
	hub := NewHub(nil)
	c := testClient("c1", "u1", hub)

	assert.False(t, hub.IsAttached("u1"))

	hub.addClient(c)
	assert.True(t, hub.IsAttached("u1"))
	assert.Equal(t, 1, hub.ConnectedUsers())

	hub.removeClient(c)
	assert.False(t, hub.IsAttached("u1"))
	assert.Equal(t, 0, hub.ConnectedUsers())
}

func TestHubMultipleConnectionsPerUser(t *testing.T) {
	hub := NewHub(nil)
	phone := testClient("c1", "u1", hub)
	laptop := testClient("c2", "u1", hub)

	hub.addClient(phone)
	hub.addClient(laptop)
	assert.Equal(t, 1, hub.ConnectedUsers())

	hub.removeClient(phone)
	assert.True(t, hub.IsAttached("u1"), "second connection keeps the user attached")

	hub.removeClient(laptop)
	assert.False(t, hub.IsAttached("u1"))
}

func TestHubDisconnectHookFiresOnLastConnection(t *testing.T) {
	hub := NewHub(nil)
	var mu sync.Mutex
	var gone []string
	hub.OnDisconnect(func(userID string) {
		mu.Lock()
		defer mu.Unlock()
		gone = append(gone, userID)
	})
	fired := func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(gone))
		copy(out, gone)
		return out
	}

	phone := testClient("c1", "u1", hub)
	laptop := testClient("c2", "u1", hub)
	hub.addClient(phone)
	hub.addClient(laptop)

	hub.removeClient(phone)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fired(), "hook must wait for the last connection")

	hub.removeClient(laptop)
	require.Eventually(t, func() bool {
		return len(fired()) == 1 && fired()[0] == "u1"
	}, time.Second, 5*time.Millisecond)

	// Removing an already removed client does not re-fire the hook.
	hub.removeClient(laptop)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"u1"}, fired())
}

func TestHubSlowDisconnectHookDoesNotStallRegistry(t *testing.T) {
	hub := NewHub(nil)
	release := make(chan struct{})
	hub.OnDisconnect(func(string) { <-release })
	defer close(release)

	c1 := testClient("c1", "u1", hub)
	hub.addClient(c1)

	// The hook blocks until released; the registry must keep serving
	// attach/detach traffic regardless.
	done := make(chan struct{})
	go func() {
		hub.removeClient(c1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("removeClient blocked on the disconnect hook")
	}

	c2 := testClient("c2", "u2", hub)
	hub.addClient(c2)
	assert.True(t, hub.IsAttached("u2"))
}

func TestHubSendFansOutToAllConnections(t *testing.T) {
	hub := NewHub(nil)
	phone := testClient("c1", "u1", hub)
	laptop := testClient("c2", "u1", hub)
	hub.addClient(phone)
	hub.addClient(laptop)

	require.NoError(t, hub.Send("u1", "match-notifications", map[string]string{"hello": "world"}))

	for _, c := range []*Client{phone, laptop} {
		select {
		case raw := <-c.Send:
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			assert.Equal(t, "match-notifications", env.Type)
			assert.False(t, env.Timestamp.IsZero())
		default:
			t.Fatalf("client %s received no frame", c.ID)
		}
	}
}

func TestHubSendToUnattachedUser(t *testing.T) {
	hub := NewHub(nil)
	err := hub.Send("ghost", "system-notifications", "ping")
	assert.ErrorIs(t, err, xerrors.ErrNotAttached)
}

func TestHubSendSkipsFullBuffers(t *testing.T) {
	hub := NewHub(nil)
	c := testClient("c1", "u1", hub)
	hub.addClient(c)

	// Jam the buffer; Send must drop rather than block, and with no
	// deliverable connection left it reports not attached.
	for i := 0; i < sendBuffer; i++ {
		c.Send <- []byte("x")
	}
	err := hub.Send("u1", "chat-updates", "overflow")
	assert.ErrorIs(t, err, xerrors.ErrNotAttached)
}
