package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/chatd/ent"
	"github.com/codeready-toolchain/chatd/pkg/models"
	"github.com/codeready-toolchain/chatd/pkg/services"
)

// mockCatchupQuerier implements CatchupQuerier for tests.
type mockCatchupQuerier struct {
	events []CatchupEvent
	err    error
}

func (m *mockCatchupQuerier) GetCatchupEvents(_ context.Context, _ string, _ string, limit int) ([]CatchupEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > 0 && len(m.events) > limit {
		return m.events[:limit], nil
	}
	return m.events, nil
}

// fakeConversationAccess implements ConversationAccess against an in-memory
// conversationID → ownerUserID map.
type fakeConversationAccess struct {
	owners map[string]string
}

func (f *fakeConversationAccess) GetConversationOwner(_ context.Context, conversationID string) (string, error) {
	owner, ok := f.owners[conversationID]
	if !ok {
		return "", services.ErrNotFound
	}
	return owner, nil
}

// fakeMessageAppender implements MessageAppender, recording every append.
type fakeMessageAppender struct {
	mu       sync.Mutex
	appended []models.AppendMessageRequest
	nextID   int
	err      error
}

func (f *fakeMessageAppender) AppendMessage(_ context.Context, req models.AppendMessageRequest) (*ent.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.appended = append(f.appended, req)
	return &ent.Message{ID: fmt.Sprintf("msg-%d", f.nextID), Content: req.Content}, nil
}

// fakePresence implements PresenceCollaborator over plain maps, for hub tests
// that don't need presence.Store's Redis/TTL semantics.
type fakePresence struct {
	mu      sync.Mutex
	online  map[string]int // userID -> live connection count
	lastSeen map[string]time.Time
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]int), lastSeen: make(map[string]time.Time)}
}

func (f *fakePresence) MarkOnline(_ context.Context, userID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := f.online[userID]
	f.online[userID]++
	f.lastSeen[userID] = time.Now()
	return before == 0, nil
}

func (f *fakePresence) MarkOffline(_ context.Context, userID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.online[userID] > 0 {
		f.online[userID]--
	}
	f.lastSeen[userID] = time.Now()
	return f.online[userID] == 0, nil
}

func (f *fakePresence) IsOnline(_ context.Context, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID] > 0
}

func (f *fakePresence) LastSeen(_ context.Context, userID string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeen[userID]
}

func (f *fakePresence) GetOnlineUsers(_ context.Context) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []string
	for u, n := range f.online {
		if n > 0 {
			users = append(users, u)
		}
	}
	return users
}

func setupTestManager(t *testing.T) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	return setupTestManagerAs(t, &mockCatchupQuerier{}, "")
}

// setupTestManagerAs wires a ConnectionManager behind a test WebSocket server,
// upgrading every connection as userID (empty is fine for tests that only
// exercise the pre-hub-method, unexported subscribe/unsubscribe path).
func setupTestManagerAs(t *testing.T, querier CatchupQuerier, userID string) (*ConnectionManager, *httptest.Server) {
	t.Helper()

	manager := NewConnectionManager(querier, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn, userID)
	}))

	t.Cleanup(func() { server.Close() })
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// writeHub marshals a hub method call and writes it as a ClientMessage.
func writeHub(t *testing.T, conn *websocket.Conn, method, requestID string, params interface{}) {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(t, err)
		raw = data
	}
	data, err := json.Marshal(ClientMessage{Method: method, RequestID: requestID, Params: raw})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnectionManager_ConnectionEstablished(t *testing.T) {
	_, server := setupTestManager(t)
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestConnectionManager_Broadcast(t *testing.T) {
	manager, server := setupTestManager(t)

	conn1 := connectWS(t, server)
	conn2 := connectWS(t, server)

	readJSON(t, conn1) // connection.established
	readJSON(t, conn2) // connection.established

	channel := "conversation:broadcast-test"
	require.Eventually(t, func() bool { return manager.ActiveConnections() == 2 }, 2*time.Second, 10*time.Millisecond)

	manager.mu.RLock()
	var conns []*Connection
	for _, c := range manager.connections {
		conns = append(conns, c)
	}
	manager.mu.RUnlock()
	require.Len(t, conns, 2)
	for _, c := range conns {
		require.NoError(t, manager.subscribe(c, channel))
	}

	require.Eventually(t, func() bool { return manager.subscriberCount(channel) == 2 }, 2*time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"type": "test", "data": "hello"})
	manager.Broadcast(channel, payload)

	msg1 := readJSON(t, conn1)
	msg2 := readJSON(t, conn2)

	assert.Equal(t, "test", msg1["type"])
	assert.Equal(t, "hello", msg1["data"])
	assert.Equal(t, "test", msg2["type"])
	assert.Equal(t, "hello", msg2["data"])
}

func TestConnectionManager_BroadcastExcludesOriginConnection(t *testing.T) {
	// TypingIndicator payloads carry origin_connection_id so the sender
	// never receives its own UserTyping echo.
	manager, server := setupTestManager(t)

	conn1 := connectWS(t, server)
	conn2 := connectWS(t, server)
	readJSON(t, conn1)
	readJSON(t, conn2)

	require.Eventually(t, func() bool { return manager.ActiveConnections() == 2 }, 2*time.Second, 10*time.Millisecond)

	channel := "conversation:exclude-test"
	manager.mu.RLock()
	var conns []*Connection
	for _, c := range manager.connections {
		conns = append(conns, c)
	}
	manager.mu.RUnlock()
	require.Len(t, conns, 2)
	for _, c := range conns {
		require.NoError(t, manager.subscribe(c, channel))
	}
	require.Eventually(t, func() bool { return manager.subscriberCount(channel) == 2 }, 2*time.Second, 10*time.Millisecond)

	originID := conns[0].ID
	payload, _ := json.Marshal(TypingIndicatorPayload{
		Type:               EventTypeTypingIndicator,
		ConversationID:     "exclude-test",
		UserID:             "alice",
		IsTyping:           true,
		OriginConnectionID: originID,
	})
	manager.Broadcast(channel, payload)

	// Read with a short timeout on both; exactly one should get the payload.
	got1, err1 := tryReadJSON(conn1, 300*time.Millisecond)
	got2, err2 := tryReadJSON(conn2, 300*time.Millisecond)

	received := 0
	if err1 == nil {
		received++
		assert.Equal(t, "alice", got1["user_id"])
	}
	if err2 == nil {
		received++
		assert.Equal(t, "alice", got2["user_id"])
	}
	assert.Equal(t, 1, received, "exactly one non-origin connection should receive the typing event")
}

func tryReadJSON(conn *websocket.Conn, timeout time.Duration) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func TestConnectionManager_PingPong(t *testing.T) {
	_, server := setupTestManager(t)
	conn := connectWS(t, server)

	readJSON(t, conn) // connection.established

	writeHub(t, conn, MethodPing, "req-1", nil)

	msg := readJSON(t, conn)
	assert.Equal(t, MethodPing, msg["type"])
	assert.Equal(t, "req-1", msg["requestId"])
}

func TestConnectionManager_CatchupOverflow(t *testing.T) {
	manyEvents := make([]CatchupEvent, catchupLimit+5)
	for i := range manyEvents {
		manyEvents[i] = CatchupEvent{
			ID: fmt.Sprintf("evt-%d", i+1),
			Payload: map[string]interface{}{
				"type": "test",
				"seq":  i,
			},
		}
	}

	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{events: manyEvents}, "alice")
	manager.SetHubCollaborators(&fakeConversationAccess{owners: map[string]string{"convo-1": "alice"}}, &fakeMessageAppender{}, nil, nil)

	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeHub(t, conn, MethodJoinConversation, "req-1", joinConversationParams{ConversationID: "convo-1"})
	joinReply := readJSON(t, conn)
	require.Equal(t, MethodJoinConversation, joinReply["type"])
	require.Nil(t, joinReply["error"])

	var overflowReceived bool
	for i := 0; i < catchupLimit+5; i++ {
		msg := readJSON(t, conn)
		if msg["type"] == "catchup.overflow" {
			overflowReceived = true
			assert.Equal(t, true, msg["has_more"])
			break
		}
	}
	assert.True(t, overflowReceived, "expected catchup.overflow message")
}

func TestConnectionManager_ConcurrentBroadcast(t *testing.T) {
	manager, server := setupTestManager(t)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	channel := "conversation:concurrent-test"
	require.Eventually(t, func() bool { return manager.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
	manager.mu.RLock()
	var c *Connection
	for _, conn := range manager.connections {
		c = conn
	}
	manager.mu.RUnlock()
	require.NoError(t, manager.subscribe(c, channel))

	require.Eventually(t, func() bool {
		return manager.subscriberCount(channel) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			payload, _ := json.Marshal(map[string]interface{}{"type": "concurrent", "idx": idx})
			manager.Broadcast(channel, payload)
		}(i)
	}
	wg.Wait()

	received := 0
	var firstErr error
	for i := 0; i < 20; i++ {
		readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			firstErr = err
			break
		}
		received++
	}
	assert.Equal(t, 20, received, "should receive all 20 broadcast messages; first error: %v", firstErr)
}

func TestConnectionManager_BroadcastToNonExistentChannel(t *testing.T) {
	manager, _ := setupTestManager(t)

	payload, _ := json.Marshal(map[string]string{"type": "test"})
	assert.NotPanics(t, func() { manager.Broadcast("nonexistent-channel", payload) })
}

func TestConnectionManager_MultipleChannels(t *testing.T) {
	manager, server := setupTestManager(t)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	require.Eventually(t, func() bool { return manager.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
	manager.mu.RLock()
	var c *Connection
	for _, conn := range manager.connections {
		c = conn
	}
	manager.mu.RUnlock()

	require.NoError(t, manager.subscribe(c, "conversation:ch1"))
	require.NoError(t, manager.subscribe(c, "conversation:ch2"))

	require.Eventually(t, func() bool {
		return manager.subscriberCount("conversation:ch1") == 1 && manager.subscriberCount("conversation:ch2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"type": "test", "channel": "ch1"})
	manager.Broadcast("conversation:ch1", payload)

	msg := readJSON(t, conn)
	assert.Equal(t, "ch1", msg["channel"])

	payload2, _ := json.Marshal(map[string]string{"type": "test", "channel": "ch2"})
	manager.Broadcast("conversation:ch2", payload2)

	msg2 := readJSON(t, conn)
	assert.Equal(t, "ch2", msg2["channel"])
}

func TestConnectionManager_Unsubscribe(t *testing.T) {
	manager, server := setupTestManager(t)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	channel := "conversation:unsub-test"

	require.Eventually(t, func() bool { return manager.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
	manager.mu.RLock()
	var c *Connection
	for _, conn := range manager.connections {
		c = conn
	}
	manager.mu.RUnlock()
	require.NoError(t, manager.subscribe(c, channel))
	manager.unsubscribe(c, channel)

	require.Eventually(t, func() bool {
		return manager.subscriberCount(channel) == 0
	}, 2*time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"type": "should-not-receive"})
	manager.Broadcast(channel, payload)

	readCtx, readCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer readCancel()

	_, _, err := conn.Read(readCtx)
	assert.Error(t, err, "should not receive message after unsubscribe")
}

func TestConnectionManager_CatchupNormal(t *testing.T) {
	catchupEvents := []CatchupEvent{
		{ID: "evt-10", Payload: map[string]interface{}{"type": "message.sent", "seq": float64(1)}},
		{ID: "evt-11", Payload: map[string]interface{}{"type": "stream.chunk", "seq": float64(2)}},
		{ID: "evt-12", Payload: map[string]interface{}{"type": "agent.response", "seq": float64(3)}},
	}

	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{events: catchupEvents}, "alice")
	manager.SetHubCollaborators(&fakeConversationAccess{owners: map[string]string{"convo-1": "alice"}}, &fakeMessageAppender{}, nil, nil)

	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeHub(t, conn, MethodJoinConversation, "req-1", joinConversationParams{ConversationID: "convo-1"})
	readJSON(t, conn) // JoinConversation reply

	for i := 0; i < 3; i++ {
		msg := readJSON(t, conn)
		assert.Equal(t, float64(i+1), msg["seq"])
		assert.NotNil(t, msg["db_event_id"], "catchup event should include db_event_id")
	}

	readCtx, readCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer readCancel()
	_, _, err := conn.Read(readCtx)
	assert.Error(t, err, "should not receive overflow message for small catchup")
}

func TestConnectionManager_CatchupError(t *testing.T) {
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{err: fmt.Errorf("database unreachable")}, "alice")
	manager.SetHubCollaborators(&fakeConversationAccess{owners: map[string]string{"convo-1": "alice"}}, &fakeMessageAppender{}, nil, nil)

	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeHub(t, conn, MethodJoinConversation, "req-1", joinConversationParams{ConversationID: "convo-1"})
	readJSON(t, conn) // JoinConversation reply — catchup fails silently behind it

	writeHub(t, conn, MethodPing, "req-2", nil)
	msg := readJSON(t, conn)
	assert.Equal(t, MethodPing, msg["type"])
}

func TestConnectionManager_BroadcastIsolation(t *testing.T) {
	manager, server := setupTestManager(t)

	conn1 := connectWS(t, server)
	conn2 := connectWS(t, server)
	readJSON(t, conn1) // connection.established
	readJSON(t, conn2) // connection.established

	require.Eventually(t, func() bool { return manager.ActiveConnections() == 2 }, 2*time.Second, 10*time.Millisecond)
	manager.mu.RLock()
	var conns []*Connection
	for _, c := range manager.connections {
		conns = append(conns, c)
	}
	manager.mu.RUnlock()
	require.Len(t, conns, 2)
	require.NoError(t, manager.subscribe(conns[0], "conversation:ch1"))
	require.NoError(t, manager.subscribe(conns[1], "conversation:ch2"))

	require.Eventually(t, func() bool {
		return manager.subscriberCount("conversation:ch1") == 1 && manager.subscriberCount("conversation:ch2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	payload1, _ := json.Marshal(map[string]string{"type": "test", "target": "ch1"})
	manager.Broadcast("conversation:ch1", payload1)

	// Whichever of conn1/conn2 subscribed to ch1 gets the message; try both.
	msg, err := tryReadJSON(conn1, 300*time.Millisecond)
	if err != nil {
		msg, err = tryReadJSON(conn2, 300*time.Millisecond)
		require.NoError(t, err)
	}
	assert.Equal(t, "ch1", msg["target"])
}

func TestConnectionManager_SetListener(t *testing.T) {
	manager := NewConnectionManager(&mockCatchupQuerier{}, 5*time.Second)
	assert.Nil(t, manager.listener)

	listener := NewNotifyListener("host=localhost", manager)
	manager.SetListener(listener)

	manager.listenerMu.RLock()
	assert.Equal(t, listener, manager.listener)
	manager.listenerMu.RUnlock()
}

func TestConnectionManager_SubscribeListenFailure(t *testing.T) {
	// When LISTEN fails, subscribe returns an error and the caller (here:
	// the test, calling subscribe directly) must handle it — no confirmed
	// subscription is left behind.
	manager := NewConnectionManager(&mockCatchupQuerier{}, 5*time.Second)

	listener := NewNotifyListener("host=localhost", manager)
	manager.SetListener(listener)

	c := &Connection{ID: "conn-a", subscriptions: make(map[string]bool)}
	manager.mu.Lock()
	manager.connections[c.ID] = c
	manager.mu.Unlock()

	err := manager.subscribe(c, "conversation:listen-fail")
	assert.Error(t, err)
	assert.Equal(t, 0, manager.subscriberCount("conversation:listen-fail"))
}

func TestConnectionManager_SubscribeListenFailure_CleansUpOrphanedSubscribers(t *testing.T) {
	// When LISTEN fails, other connections that subscribed to the same channel
	// between the channelMu unlock and the LISTEN call must be removed from
	// m.channels and notified with conversation.unavailable.
	manager := NewConnectionManager(&mockCatchupQuerier{}, 5*time.Second)

	channel := "conversation:orphan-test"

	connA := &Connection{ID: "conn-a", subscriptions: make(map[string]bool)}

	manager.mu.Lock()
	manager.connections[connA.ID] = connA
	manager.mu.Unlock()

	manager.channelMu.Lock()
	manager.channels[channel] = map[string]bool{
		connA.ID: true,
		"conn-b":  true,
		"conn-c":  true,
	}
	manager.channelMu.Unlock()

	manager.cleanupFailedChannel(connA, channel)

	assert.Equal(t, 0, manager.subscriberCount(channel),
		"channel should have zero subscribers after cleanup")

	manager.channelMu.RLock()
	_, exists := manager.channels[channel]
	manager.channelMu.RUnlock()
	assert.False(t, exists, "channel entry should be deleted from m.channels")
}

func TestConnectionManager_JoinConversation_ForbiddenForNonOwner(t *testing.T) {
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{}, "mallory")
	manager.SetHubCollaborators(&fakeConversationAccess{owners: map[string]string{"convo-1": "alice"}}, &fakeMessageAppender{}, nil, nil)

	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeHub(t, conn, MethodJoinConversation, "req-1", joinConversationParams{ConversationID: "convo-1"})
	reply := readJSON(t, conn)

	assert.Equal(t, MethodJoinConversation, reply["type"])
	errField, ok := reply["error"].(map[string]interface{})
	require.True(t, ok, "expected an error object")
	assert.Equal(t, ErrKindForbidden, errField["kind"])
	assert.Equal(t, 0, manager.subscriberCount(ConversationChannel("convo-1")))
}

func TestConnectionManager_JoinConversation_NotFoundForUnknownConversation(t *testing.T) {
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{}, "alice")
	manager.SetHubCollaborators(&fakeConversationAccess{owners: map[string]string{}}, &fakeMessageAppender{}, nil, nil)

	conn := connectWS(t, server)
	readJSON(t, conn)

	writeHub(t, conn, MethodJoinConversation, "req-1", joinConversationParams{ConversationID: "missing"})
	reply := readJSON(t, conn)

	errField, ok := reply["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, ErrKindNotFound, errField["kind"])
}

func TestConnectionManager_JoinConversation_OwnerSucceeds(t *testing.T) {
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{}, "alice")
	manager.SetHubCollaborators(&fakeConversationAccess{owners: map[string]string{"convo-1": "alice"}}, &fakeMessageAppender{}, nil, nil)

	conn := connectWS(t, server)
	readJSON(t, conn)

	writeHub(t, conn, MethodJoinConversation, "req-1", joinConversationParams{ConversationID: "convo-1"})
	reply := readJSON(t, conn)

	assert.Nil(t, reply["error"])
	assert.Equal(t, "req-1", reply["requestId"])
	require.Eventually(t, func() bool {
		return manager.subscriberCount(ConversationChannel("convo-1")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionManager_LeaveConversation_IsIdempotent(t *testing.T) {
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{}, "alice")
	manager.SetHubCollaborators(&fakeConversationAccess{owners: map[string]string{"convo-1": "alice"}}, &fakeMessageAppender{}, nil, nil)

	conn := connectWS(t, server)
	readJSON(t, conn)

	// Leave before ever joining — must not error.
	writeHub(t, conn, MethodLeaveConversation, "req-1", joinConversationParams{ConversationID: "convo-1"})
	reply := readJSON(t, conn)
	assert.Nil(t, reply["error"])

	writeHub(t, conn, MethodJoinConversation, "req-2", joinConversationParams{ConversationID: "convo-1"})
	readJSON(t, conn)

	writeHub(t, conn, MethodLeaveConversation, "req-3", joinConversationParams{ConversationID: "convo-1"})
	reply2 := readJSON(t, conn)
	assert.Nil(t, reply2["error"])
	assert.Equal(t, 0, manager.subscriberCount(ConversationChannel("convo-1")))

	// Leaving again is still fine.
	writeHub(t, conn, MethodLeaveConversation, "req-4", joinConversationParams{ConversationID: "convo-1"})
	reply3 := readJSON(t, conn)
	assert.Nil(t, reply3["error"])
}

func TestConnectionManager_SendMessage_PersistsAndReplies(t *testing.T) {
	appender := &fakeMessageAppender{}
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{}, "alice")
	manager.SetHubCollaborators(&fakeConversationAccess{owners: map[string]string{"convo-1": "alice"}}, appender, nil, nil)

	conn := connectWS(t, server)
	readJSON(t, conn)

	writeHub(t, conn, MethodSendMessage, "req-1", sendMessageParams{ConversationID: "convo-1", Content: "hello"})
	reply := readJSON(t, conn)

	assert.Nil(t, reply["error"])
	data, ok := reply["data"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["messageId"])

	appender.mu.Lock()
	defer appender.mu.Unlock()
	require.Len(t, appender.appended, 1)
	assert.Equal(t, "hello", appender.appended[0].Content)
	assert.Equal(t, "user", appender.appended[0].Role)
	assert.Equal(t, "alice", appender.appended[0].SenderUserIDOpt)
}

func TestConnectionManager_SendMessage_ForbiddenForNonOwner(t *testing.T) {
	appender := &fakeMessageAppender{}
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{}, "mallory")
	manager.SetHubCollaborators(&fakeConversationAccess{owners: map[string]string{"convo-1": "alice"}}, appender, nil, nil)

	conn := connectWS(t, server)
	readJSON(t, conn)

	writeHub(t, conn, MethodSendMessage, "req-1", sendMessageParams{ConversationID: "convo-1", Content: "hello"})
	reply := readJSON(t, conn)

	errField, ok := reply["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, ErrKindForbidden, errField["kind"])

	appender.mu.Lock()
	defer appender.mu.Unlock()
	assert.Empty(t, appender.appended, "forbidden call must not persist a message")
}

func TestConnectionManager_GetOnlineUsers(t *testing.T) {
	presenceStore := newFakePresence()
	presenceStore.online["alice"] = 1
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{}, "alice")
	manager.SetHubCollaborators(nil, nil, nil, presenceStore)

	conn := connectWS(t, server)
	readJSON(t, conn)
	// HandleConnection's own markPresenceOnline already bumped "alice" to 2.

	writeHub(t, conn, MethodGetOnlineUsers, "req-1", nil)
	reply := readJSON(t, conn)

	users, ok := reply["data"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, users, "alice")
}

func TestConnectionManager_GetUserOnlineStatus(t *testing.T) {
	presenceStore := newFakePresence()
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{}, "alice")
	manager.SetHubCollaborators(nil, nil, nil, presenceStore)

	conn := connectWS(t, server)
	readJSON(t, conn)

	writeHub(t, conn, MethodGetUserOnlineStatus, "req-1", userIDParams{UserID: "alice"})
	reply := readJSON(t, conn)
	data := reply["data"].(map[string]interface{})
	assert.Equal(t, "alice", data["userId"])
	assert.Equal(t, true, data["isOnline"])

	writeHub(t, conn, MethodGetUserOnlineStatus, "req-2", userIDParams{UserID: "stranger"})
	reply2 := readJSON(t, conn)
	data2 := reply2["data"].(map[string]interface{})
	assert.Equal(t, false, data2["isOnline"])
}

func TestConnectionManager_PresenceLifecycle_MarksOnlineAndOfflineOnConnectAndDisconnect(t *testing.T) {
	presenceStore := newFakePresence()

	// No eventPublisher wired: markPresenceOnline/Offline must still update
	// presence.Store even when there's nothing to broadcast to.
	manager, server := setupTestManagerAs(t, &mockCatchupQuerier{}, "alice")
	manager.SetHubCollaborators(nil, nil, nil, presenceStore)

	conn := connectWS(t, server)
	readJSON(t, conn)

	assert.True(t, presenceStore.IsOnline(context.Background(), "alice"))

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		return !presenceStore.IsOnline(context.Background(), "alice")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionManager_CleanupOnDisconnect(t *testing.T) {
	manager, server := setupTestManager(t)

	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	_, _, err = conn.Read(ctx) // connection.established
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond, "expected 1 active connection")

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond, "expected 0 active connections after close")

	payload, _ := json.Marshal(map[string]string{"type": "test"})
	assert.NotPanics(t, func() {
		manager.Broadcast("conversation:cleanup-test", payload)
	})
}
