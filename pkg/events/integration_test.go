package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/codeready-toolchain/chatd/pkg/database"
	"github.com/codeready-toolchain/chatd/pkg/services"
	testdb "github.com/codeready-toolchain/chatd/test/database"
	"github.com/codeready-toolchain/chatd/test/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// integrationTestUser owns the conversation setupStreamingTest pre-creates.
const integrationTestUser = "integration-test-user"

// streamingTestEnv holds all wired-up components for an integration test.
type streamingTestEnv struct {
	dbClient       *database.Client
	publisher      *EventPublisher
	eventService   *services.EventService
	manager        *ConnectionManager
	listener       *NotifyListener
	server         *httptest.Server
	conversationID string // pre-created Conversation (satisfies FK on events)
	channel        string // conversation:<conversationID>
}

// setupStreamingTest wires all real components together against a real
// PostgreSQL database (testcontainers locally, service container in CI).
func setupStreamingTest(t *testing.T) *streamingTestEnv {
	t.Helper()

	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()

	conversationID := uuid.New().String()
	_, err := dbClient.Conversation.Create().
		SetID(conversationID).
		SetOwnerUserID(integrationTestUser).
		SetTitle("integration test conversation").
		Save(ctx)
	require.NoError(t, err)

	channel := ConversationChannel(conversationID)

	// Real components
	publisher := NewEventPublisher(dbClient.DB())
	eventService := services.NewEventService(dbClient.Client)
	catchupQuerier := NewEventServiceAdapter(eventService)
	manager := NewConnectionManager(catchupQuerier, 5*time.Second)
	conversationService := services.NewConversationService(dbClient.Client)
	messageService := services.NewMessageService(dbClient.Client)
	manager.SetHubCollaborators(conversationService, messageService, publisher, nil)

	// NotifyListener needs the base connection string (no schema search_path)
	// because NOTIFY/LISTEN is database-level, not schema-level.
	baseConnStr := util.GetBaseConnectionString(t)
	listener := NewNotifyListener(baseConnStr, manager)
	require.NoError(t, listener.Start(ctx))
	manager.SetListener(listener)

	t.Cleanup(func() { listener.Stop(context.Background()) })

	// httptest server with WebSocket upgrade, every connection authenticated
	// as the conversation's owner so the hub's ownership checks pass.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn, integrationTestUser)
	}))
	t.Cleanup(func() { server.Close() })

	return &streamingTestEnv{
		dbClient:       dbClient,
		publisher:      publisher,
		eventService:   eventService,
		manager:        manager,
		listener:       listener,
		server:         server,
		conversationID: conversationID,
		channel:        channel,
	}
}

// connectWS opens a WebSocket to the test server and returns the connection.
// The connection is automatically closed on test cleanup.
func (env *streamingTestEnv) connectWS(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + env.server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readJSONTimeout reads a JSON message from the WebSocket with a timeout.
func readJSONTimeout(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// subscribeAndWait connects a WebSocket, reads connection.established, joins
// the env's conversation, reads the join reply, and waits for the LISTEN to
// propagate. Any catchup events the join delivers are left for the caller.
func (env *streamingTestEnv) subscribeAndWait(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := env.connectWS(t)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	writeHub(t, conn, MethodJoinConversation, "join-1", joinConversationParams{ConversationID: env.conversationID})
	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, MethodJoinConversation, msg["type"])
	require.Nil(t, msg["error"])

	// Wait for the async LISTEN goroutine to complete on the NotifyListener's
	// dedicated connection, polling instead of sleeping.
	require.Eventually(t, func() bool {
		return env.listener.isListening(env.channel)
	}, 2*time.Second, 10*time.Millisecond, "LISTEN did not propagate for channel %s", env.channel)

	return conn
}

// --- Tests ---

func TestIntegration_PublisherPersistsAndNotifies(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	err := env.publisher.PublishMessageSent(ctx, env.conversationID, "corr-1", MessageSentPayload{
		Type:           EventTypeMessageSent,
		ConversationID: env.conversationID,
		MessageID:      "msg-1",
		SenderUserID:   "user-1",
		Content:        "first message",
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	err = env.publisher.PublishAgentResponse(ctx, env.conversationID, "corr-1", AgentResponsePayload{
		Type:           EventTypeAgentResponse,
		ConversationID: env.conversationID,
		MessageID:      "msg-2",
		Content:        "agent reply",
		TokensUsed:     42,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	rows, err := env.eventService.GetEventsSince(ctx, env.conversationID, "", 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, env.conversationID, rows[0].ConversationID)
	assert.Equal(t, "message.sent", rows[0].Payload["type"])
	assert.Equal(t, "first message", rows[0].Payload["content"])

	assert.Equal(t, "agent.response", rows[1].Payload["type"])
	assert.Equal(t, "agent reply", rows[1].Payload["content"])
	assert.Equal(t, float64(42), rows[1].Payload["tokens_used"])
}

func TestIntegration_TransientEventsNotPersisted(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	err := env.publisher.PublishStreamChunk(ctx, env.conversationID, StreamChunkPayload{
		Type:           EventTypeStreamChunk,
		ConversationID: env.conversationID,
		MessageID:      "msg-1",
		Delta:          "token data",
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	rows, err := env.eventService.GetEventsSince(ctx, env.conversationID, "", 100)
	require.NoError(t, err)
	assert.Empty(t, rows, "transient events should not be persisted in DB")
}

func TestIntegration_EndToEnd_PublishToWebSocket(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishMessageSent(ctx, env.conversationID, "corr-ws", MessageSentPayload{
		Type:           EventTypeMessageSent,
		ConversationID: env.conversationID,
		MessageID:      "msg-ws-1",
		Content:        "hello from publisher",
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	// The event should arrive via pg_notify → listener → manager.
	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeMessageSent, msg["type"])
	assert.Equal(t, "hello from publisher", msg["content"])
	assert.Equal(t, env.conversationID, msg["conversation_id"])
	// db_event_id should be present (added by persistAndNotify after INSERT)
	assert.NotNil(t, msg["db_event_id"])
}

func TestIntegration_TransientEventDelivery(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishStreamChunk(ctx, env.conversationID, StreamChunkPayload{
		Type:           EventTypeStreamChunk,
		ConversationID: env.conversationID,
		MessageID:      "msg-stream-1",
		Delta:          "streaming token",
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeStreamChunk, msg["type"])
	assert.Equal(t, "streaming token", msg["delta"])

	rows, err := env.eventService.GetEventsSince(ctx, env.conversationID, "", 100)
	require.NoError(t, err)
	assert.Empty(t, rows, "transient events should not be persisted")
}

func TestIntegration_StreamingThenAgentResponseProtocol(t *testing.T) {
	// Verifies the full reply streaming protocol:
	//   1. stream.chunk deltas (transient, small payloads)
	//   2. agent.response (persistent, full content)
	// The client must concatenate deltas to reconstruct the content as it
	// arrives, then reconcile against the final persisted message.
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	messageID := uuid.New().String()

	deltas := []string{"The pod ", "is in ", "CrashLoopBackOff ", "due to ", "a missing ConfigMap."}
	for _, delta := range deltas {
		err := env.publisher.PublishStreamChunk(ctx, env.conversationID, StreamChunkPayload{
			Type:           EventTypeStreamChunk,
			ConversationID: env.conversationID,
			MessageID:      messageID,
			Delta:          delta,
			Timestamp:      time.Now().Format(time.RFC3339Nano),
		})
		require.NoError(t, err)

		msg := readJSONTimeout(t, conn, 5*time.Second)
		assert.Equal(t, EventTypeStreamChunk, msg["type"])
		assert.Equal(t, messageID, msg["message_id"])
		assert.Equal(t, delta, msg["delta"], "each chunk should carry only the new delta")
	}

	var reconstructed string
	for _, d := range deltas {
		reconstructed += d
	}
	expectedFull := "The pod is in CrashLoopBackOff due to a missing ConfigMap."
	assert.Equal(t, expectedFull, reconstructed)

	err := env.publisher.PublishAgentResponse(ctx, env.conversationID, "corr-stream", AgentResponsePayload{
		Type:           EventTypeAgentResponse,
		ConversationID: env.conversationID,
		MessageID:      messageID,
		Content:        expectedFull,
		TokensUsed:     17,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeAgentResponse, msg["type"])
	assert.Equal(t, expectedFull, msg["content"])
	assert.Equal(t, float64(17), msg["tokens_used"])

	// Only the one persistent event (agent.response) should be in the outbox —
	// the 5 stream.chunk deltas are transient and were never persisted.
	rows, err := env.eventService.GetEventsSince(ctx, env.conversationID, "", 100)
	require.NoError(t, err)
	require.Len(t, rows, 1, "only the persistent agent.response event should be in DB")
	assert.Equal(t, "agent.response", rows[0].Payload["type"])
}

func TestIntegration_CatchupFromRealDB(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	// Pre-populate DB with 3 persistent events.
	for i := 1; i <= 3; i++ {
		err := env.publisher.PublishMessageSent(ctx, env.conversationID, "corr-catchup", MessageSentPayload{
			Type:           EventTypeMessageSent,
			ConversationID: env.conversationID,
			MessageID:      uuid.New().String(),
			Content:        "catchup message",
			Timestamp:      time.Now().Format(time.RFC3339Nano),
		})
		require.NoError(t, err)
	}

	allEvents, err := env.eventService.GetEventsSince(ctx, env.conversationID, "", 100)
	require.NoError(t, err)
	require.Len(t, allEvents, 3)

	// Connect a NEW WebSocket client (simulates reconnection). JoinConversation
	// auto-catchup delivers all 3 prior events immediately.
	conn := env.subscribeAndWait(t)

	for i := 0; i < 3; i++ {
		msg := readJSONTimeout(t, conn, 5*time.Second)
		assert.Equal(t, EventTypeMessageSent, msg["type"])
	}
}

func TestIntegration_ResubscribeAfterUnsubscribe_KeepsListen(t *testing.T) {
	// Regression test for the race condition where a rapid unsubscribe/resubscribe
	// cycle (as caused by React StrictMode double-render) would drop the PG LISTEN.
	//
	// The race was:
	//   1. subscribe → LISTEN active
	//   2. unsubscribe → async goroutine: UNLISTEN (deferred)
	//   3. resubscribe → l.Subscribe saw "already listening" → returned early
	//   4. goroutine fired UNLISTEN → PG dropped the LISTEN
	//   5. all subsequent NOTIFY events were silently lost
	//
	// The fix has two parts:
	//   - l.Subscribe always sends LISTEN (no early return; PG handles duplicates)
	//   - the UNLISTEN goroutine re-checks m.channels and skips if resubscribed
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	// Rapid leave + rejoin (mimics React StrictMode cleanup/remount).
	writeHub(t, conn, MethodLeaveConversation, "leave-1", joinConversationParams{ConversationID: env.conversationID})
	leaveReply := readJSONTimeout(t, conn, 5*time.Second)
	require.Nil(t, leaveReply["error"])

	writeHub(t, conn, MethodJoinConversation, "join-2", joinConversationParams{ConversationID: env.conversationID})
	joinReply := readJSONTimeout(t, conn, 5*time.Second)
	require.Nil(t, joinReply["error"])

	// Wait for the UNLISTEN goroutine to settle and verify LISTEN is still active.
	time.Sleep(200 * time.Millisecond)
	require.True(t, env.listener.isListening(env.channel),
		"LISTEN must survive a rapid unsubscribe/resubscribe cycle")

	err := env.publisher.PublishMessageSent(ctx, env.conversationID, "corr-resub", MessageSentPayload{
		Type:           EventTypeMessageSent,
		ConversationID: env.conversationID,
		MessageID:      "msg-resub-1",
		Content:        "should arrive after resubscribe",
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	// Drain any catchup events from the rejoin before checking for the live event.
	var msg map[string]interface{}
	for {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		if msg["message_id"] == "msg-resub-1" {
			break
		}
	}

	assert.Equal(t, EventTypeMessageSent, msg["type"])
	assert.Equal(t, "should arrive after resubscribe", msg["content"])
	assert.Equal(t, env.conversationID, msg["conversation_id"])
}

func TestIntegration_ListenerGenerationCounter_StaleUnlistenSkipped(t *testing.T) {
	// Tests the generation counter inside NotifyListener directly, bypassing
	// the ConnectionManager.
	//
	//   1. Subscribe → LISTEN, gen=1
	//   2. Concurrent Unsubscribe → captures gen=1, enqueues UNLISTEN(gen=1)
	//   3. Subscribe again → gen=2, enqueues LISTEN
	//   4. cmdCh processes: could be LISTEN then UNLISTEN(gen=1)
	//   5. processPendingCmds detects gen mismatch → skips stale UNLISTEN
	//   6. PG stays listened, l.channels stays true
	env := setupStreamingTest(t)
	ctx := context.Background()
	channel := env.channel

	require.NoError(t, env.listener.Subscribe(ctx, channel))
	require.True(t, env.listener.isListening(channel))

	unsubDone := make(chan struct{})
	go func() {
		defer close(unsubDone)
		_ = env.listener.Unsubscribe(context.Background(), channel)
	}()

	require.NoError(t, env.listener.Subscribe(ctx, channel))

	<-unsubDone

	require.True(t, env.listener.isListening(channel),
		"l.channels must stay true after stale UNLISTEN is skipped")

	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishMessageSent(ctx, env.conversationID, "corr-gen", MessageSentPayload{
		Type:           EventTypeMessageSent,
		ConversationID: env.conversationID,
		MessageID:      "msg-gen-1",
		Content:        "generation counter test",
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	for {
		msg := readJSONTimeout(t, conn, 5*time.Second)
		if msg["message_id"] == "msg-gen-1" {
			assert.Equal(t, "generation counter test", msg["content"])
			break
		}
	}
}
