package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kparsons/timehub/internal/command"
	"github.com/kparsons/timehub/internal/event"
	"github.com/kparsons/timehub/internal/gateway"
	"github.com/kparsons/timehub/internal/models"
	"github.com/kparsons/timehub/internal/registry"
	"github.com/kparsons/timehub/internal/storage"
)

type testServer struct {
	server  *httptest.Server
	manager *gateway.Manager
	cancel  context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithConfig(t, gateway.DefaultConfig())
}

func newTestServerWithConfig(t *testing.T, cfg gateway.Config) *testServer {
	t.Helper()

	processor := command.NewProcessor(storage.NewMemoryRepository(), clockwork.NewRealClock(), nil)
	rooms := registry.NewRooms[*gateway.Connection]()
	manager := gateway.NewManager(cfg, processor, rooms)
	processor.SetBroadcaster(manager)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	server := httptest.NewServer(http.HandlerFunc(manager.HandleConnection))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return &testServer{server: server, manager: manager, cancel: cancel}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (ts *testServer) dial(t *testing.T) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(eventType event.Type, payload any) {
	c.t.Helper()
	env, err := event.New(eventType, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(env))
}

func (c *client) sendRaw(data string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

func (c *client) recv() event.Envelope {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env event.Envelope
	require.NoError(c.t, c.conn.ReadJSON(&env))
	return env
}

func (c *client) recvNothing() {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env event.Envelope
	err := c.conn.ReadJSON(&env)
	require.Error(c.t, err, "expected no event, got %s", env.Type)
}

func sessionData(t *testing.T, env event.Envelope) event.SessionDataPayload {
	t.Helper()
	require.Equal(t, event.TypeSessionData, env.Type)
	var payload event.SessionDataPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload
}

func decodeTimer(t *testing.T, env event.Envelope) models.Timer {
	t.Helper()
	var tm models.Timer
	require.NoError(t, json.Unmarshal(env.Data, &tm))
	return tm
}

func TestCreateJoinAndBroadcast(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.dial(t)
	alice.send(event.TypeCreateSession, event.CreateSessionPayload{Title: "retro"})
	created := sessionData(t, alice.recv())
	require.NotNil(t, created.Session)
	sessionID := created.Session.ID
	assert.Len(t, sessionID, 8)
	assert.Empty(t, created.Timers)

	bob := ts.dial(t)
	bob.send(event.TypeJoinSession, event.JoinSessionPayload{SessionID: sessionID})
	joined := sessionData(t, bob.recv())
	assert.Equal(t, sessionID, joined.Session.ID)

	// Carol joins a different session and must see none of this room's events.
	carol := ts.dial(t)
	carol.send(event.TypeCreateSession, nil)
	sessionData(t, carol.recv())

	bob.send(event.TypeCreateTimer, event.CreateTimerPayload{SessionID: sessionID, Title: "speaker"})

	aliceEvent := alice.recv()
	bobEvent := bob.recv()
	assert.Equal(t, event.TypeTimerCreated, aliceEvent.Type)
	assert.Equal(t, event.TypeTimerCreated, bobEvent.Type,
		"the originator receives its own echo like everyone else")

	created1 := decodeTimer(t, aliceEvent)
	assert.Equal(t, "speaker", created1.Title)
	assert.Equal(t, sessionID, created1.SessionID)
	assert.False(t, created1.IsRunning)

	carol.recvNothing()
}

func TestTimerUpdateReachesRoom(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.dial(t)
	alice.send(event.TypeCreateSession, nil)
	created := sessionData(t, alice.recv())
	sessionID := created.Session.ID

	alice.send(event.TypeCreateTimer, event.CreateTimerPayload{SessionID: sessionID, Title: "t"})
	tm := decodeTimer(t, alice.recv())

	bob := ts.dial(t)
	bob.send(event.TypeJoinSession, event.JoinSessionPayload{SessionID: sessionID})
	sessionData(t, bob.recv())

	alice.send(event.TypeStartTimer, event.TimerCommandPayload{SessionID: sessionID, TimerID: tm.ID.String()})

	for _, c := range []*client{alice, bob} {
		env := c.recv()
		require.Equal(t, event.TypeTimerUpdated, env.Type)
		updated := decodeTimer(t, env)
		assert.True(t, updated.IsRunning)
		assert.NotNil(t, updated.StartTime)
	}

	// A duplicate start is a no-op and emits nothing.
	alice.send(event.TypeStartTimer, event.TimerCommandPayload{SessionID: sessionID, TimerID: tm.ID.String()})
	bob.recvNothing()
}

func TestJoinUnknownSessionKeepsConnectionUsable(t *testing.T) {
	ts := newTestServer(t)

	c := ts.dial(t)
	c.send(event.TypeJoinSession, event.JoinSessionPayload{SessionID: "doesnot1"})

	env := c.recv()
	assert.Equal(t, event.TypeError, env.Type, "unknown session gets an error notice, never sessionData")

	c.send(event.TypeCreateSession, nil)
	created := sessionData(t, c.recv())
	assert.NotEmpty(t, created.Session.ID, "connection remains usable after a failed join")
}

func TestJoinSessionAcceptsBareStringID(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.dial(t)
	alice.send(event.TypeCreateSession, nil)
	sessionID := sessionData(t, alice.recv()).Session.ID

	bob := ts.dial(t)
	bob.send(event.TypeJoinSession, sessionID)
	joined := sessionData(t, bob.recv())
	assert.Equal(t, sessionID, joined.Session.ID)
}

func TestMalformedFrames(t *testing.T) {
	ts := newTestServer(t)

	c := ts.dial(t)

	c.sendRaw("not json at all")
	assert.Equal(t, event.TypeError, c.recv().Type)

	c.sendRaw(`{"type":"startTimer","data":{}}`)
	assert.Equal(t, event.TypeError, c.recv().Type)

	c.sendRaw(`{"type":"noSuchCommand"}`)
	assert.Equal(t, event.TypeError, c.recv().Type)

	// A bad frame never tears down the connection.
	c.send(event.TypeCreateSession, nil)
	assert.NotNil(t, sessionData(t, c.recv()).Session)
}

func TestSlowConsumerIsDroppedWithoutStallingRoom(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.SendQueueSize = 4
	cfg.BroadcastQueueSize = 4096
	ts := newTestServerWithConfig(t, cfg)

	alice := ts.dial(t)
	alice.send(event.TypeCreateSession, nil)
	sessionID := sessionData(t, alice.recv()).Session.ID

	// Bob takes his snapshot and then never reads again.
	bob := ts.dial(t)
	bob.send(event.TypeJoinSession, event.JoinSessionPayload{SessionID: sessionID})
	sessionData(t, bob.recv())

	type tick struct {
		Seq int    `json:"seq"`
		Pad string `json:"pad"`
	}

	// Alice drains continuously so only bob falls behind.
	seqs := make(chan int, 4096)
	go func() {
		defer close(seqs)
		for {
			alice.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			var env event.Envelope
			if err := alice.conn.ReadJSON(&env); err != nil {
				return
			}
			var tk tick
			if json.Unmarshal(env.Data, &tk) == nil {
				seqs <- tk.Seq
			}
		}
	}()

	// Enough bytes to overrun bob's socket buffers and his send queue,
	// paced so alice's queue never fills.
	const floods = 1500
	pad := strings.Repeat("x", 32*1024)
	for i := 0; i < floods; i++ {
		ts.manager.Broadcast(sessionID, event.MustNew(event.TypeTimerUpdated, tick{Seq: i, Pad: pad}))
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		total, _ := ts.manager.Stats()
		return total == 1
	}, 5*time.Second, 20*time.Millisecond, "the stalled connection must be dropped")

	ts.manager.Broadcast(sessionID, event.MustNew(event.TypeTimerUpdated, tick{Seq: floods}))

	last := -1
	for seq := range seqs {
		require.Greater(t, seq, last, "delivery order must match broadcast order")
		last = seq
		if seq == floods {
			break
		}
	}
	require.Equal(t, floods, last, "the healthy member keeps receiving after the slow one is dropped")
}

func TestCommandOnWrongSessionIsRejected(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.dial(t)
	alice.send(event.TypeCreateSession, nil)
	sessionA := sessionData(t, alice.recv()).Session.ID

	alice.send(event.TypeCreateTimer, event.CreateTimerPayload{SessionID: sessionA, Title: "t"})
	tm := decodeTimer(t, alice.recv())

	bob := ts.dial(t)
	bob.send(event.TypeCreateSession, nil)
	sessionB := sessionData(t, bob.recv()).Session.ID

	bob.send(event.TypeStartTimer, event.TimerCommandPayload{SessionID: sessionB, TimerID: tm.ID.String()})
	assert.Equal(t, event.TypeError, bob.recv().Type)

	alice.recvNothing()
}
