package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback delivers published events straight to its subscribers.
type loopback struct {
	mu       sync.Mutex
	handlers map[int]func(string, []byte)
	next     int
	fail     bool
}

func (l *loopback) PublishEvent(_ context.Context, event string, payload []byte) error {
	l.mu.Lock()
	if l.fail {
		l.mu.Unlock()
		return errors.New("redis down")
	}
	handlers := make([]func(string, []byte), 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()
	for _, h := range handlers {
		h(event, payload)
	}
	return nil
}

func (l *loopback) SubscribeEvents(handler func(string, []byte)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[int]func(string, []byte))
	}
	id := l.next
	l.next++
	l.handlers[id] = handler
	return func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	}, nil
}

func (l *loopback) subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers)
}

func newFeedServer(t *testing.T, hub *Hub, snapshot Snapshot) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/live", ServeWs(hub, snapshot, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/live"
}

func readCount(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, EventParticipantCount, msg.Event)
	var pc ParticipantCount
	require.NoError(t, json.Unmarshal(msg.Data, &pc))
	return pc.Participants
}

func TestFeedSendsSnapshotThenUpdates(t *testing.T) {
	bus := &loopback{}
	hub := NewHub(nil, bus, bus)
	url := newFeedServer(t, hub, func(context.Context) (int, error) { return 12, nil })

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, 12, readCount(t, conn))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, bus.subscribers())

	hub.PublishParticipants(context.Background(), 13)
	assert.Equal(t, 13, readCount(t, conn))
}

func TestPublishFallsBackToLocalBroadcast(t *testing.T) {
	bus := &loopback{}
	hub := NewHub(nil, bus, bus)
	url := newFeedServer(t, hub, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	bus.mu.Lock()
	bus.fail = true
	bus.mu.Unlock()
	hub.PublishParticipants(context.Background(), 3)
	assert.Equal(t, 3, readCount(t, conn))
}

func TestSubscriptionDroppedAfterLastClient(t *testing.T) {
	bus := &loopback{}
	hub := NewHub(nil, bus, bus)
	url := newFeedServer(t, hub, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, bus.subscribers())
}

func TestBroadcastWithoutClients(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	assert.NotPanics(t, func() { hub.PublishParticipants(context.Background(), 1) })
	assert.Equal(t, 0, hub.ClientCount())
}
