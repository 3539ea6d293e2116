package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit is the maximum number of events returned in a catchup response.
// If more events are missed, a catchup.overflow message tells the client to
// do a full REST reload.
const catchupLimit = 200

// listenTimeout bounds how long a LISTEN command may block when subscribing to
// a new PG channel. Without this, a stalled connection would block the
// subscribing goroutine (and thus the client's read loop) indefinitely.
const listenTimeout = 10 * time.Second

// CatchupEvent holds the data returned by the catchup query.
type CatchupEvent struct {
	ID      string
	Payload map[string]interface{}
}

// CatchupQuerier queries events for catchup. Implemented by EventServiceAdapter.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID string, limit int) ([]CatchupEvent, error)
}

// ConnectionManager manages WebSocket connections, channel subscriptions, and
// the ChatGateway hub method dispatch for every connection it owns. Each Go
// process (pod) has one ConnectionManager instance.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: channel → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	// CatchupQuerier for catchup queries
	catchupQuerier CatchupQuerier

	// NotifyListener for dynamic LISTEN/UNLISTEN (set after construction)
	listener   *NotifyListener
	listenerMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration

	// Hub collaborators, wired once during startup via SetHubCollaborators.
	// All are optional: a nil collaborator degrades the methods that need it
	// to an Internal error (conversationAccess, messageAppender) or a
	// conservative empty/offline answer (presence), rather than panicking.
	conversationAccess ConversationAccess
	messageAppender    MessageAppender
	eventPublisher     *EventPublisher
	presence           PresenceCollaborator
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads and
// writes (subscribe, unsubscribe, unregisterConnection) happen on the single
// goroutine that owns this connection (HandleConnection's read loop and its
// deferred cleanup). If a Connection is ever mutated from a different goroutine
// (e.g. an admin "kick" feature), subscriptions must be protected by a mutex.
type Connection struct {
	ID            string
	UserID        string // resolved by userAuth before the WS upgrade
	Conn          *websocket.Conn
	subscriptions map[string]bool // channels this connection is subscribed to
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(catchupQuerier CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:    make(map[string]*Connection),
		channels:       make(map[string]map[string]bool),
		catchupQuerier: catchupQuerier,
		writeTimeout:   writeTimeout,
	}
}

// SetListener sets the NotifyListener for dynamic LISTEN/UNLISTEN.
// Called once during startup after both ConnectionManager and NotifyListener are created.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// SetHubCollaborators wires the services the hub methods dispatch to.
// publisher and presence are nil-safe to omit; access and appender left nil
// make JoinConversation/SendMessage answer with an Internal error instead of
// silently no-oping.
func (m *ConnectionManager) SetHubCollaborators(access ConversationAccess, appender MessageAppender, publisher *EventPublisher, presence PresenceCollaborator) {
	m.conversationAccess = access
	m.messageAppender = appender
	m.eventPublisher = publisher
	m.presence = presence
}

// HandleConnection manages the lifecycle of a single WebSocket connection for
// userID, the caller identity userAuth resolved during the HTTP upgrade.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID string) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		UserID:        userID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	m.markPresenceOnline(ctx, c)
	if err := m.subscribe(c, presenceChannel); err != nil {
		slog.Warn("Failed to subscribe connection to the global presence channel", "connection_id", connID, "error", err)
	}
	defer m.unregisterConnection(c)

	// Send connection established message
	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	// Read loop — process client messages until connection closes
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Connection closed or error — exit read loop
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(ctx, c, &msg)
	}
}

// broadcastEnvelope carries the fields Broadcast needs to read off an
// otherwise-opaque payload before forwarding it: which connection, if any,
// must not receive its own event back.
type broadcastEnvelope struct {
	OriginConnectionID string `json:"origin_connection_id,omitempty"`
}

// Broadcast sends an event payload to all connections subscribed to the given
// channel, except the connection named by the payload's
// origin_connection_id field, if any (used by UserTyping, which must not
// echo back to its sender). Payloads without that field reach every
// subscriber, unchanged from the original pub/sub behavior.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	var envelope broadcastEnvelope
	_ = json.Unmarshal(event, &envelope)

	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	// Copy IDs to avoid holding lock during sends
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		if id == envelope.OriginConnectionID {
			continue
		}
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending. This avoids holding mu.RLock during potentially slow
	// writes (up to writeTimeout per connection), which would stall
	// connection register/unregister operations.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, event); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported — used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// subscribe registers a connection for a channel and starts LISTEN if first
// subscriber. LISTEN is synchronous so it completes before subscribe returns
// — this guarantees that the subsequent auto-catchup runs with LISTEN already
// active, closing the gap where events published between catchup and LISTEN
// would be lost.
//
// Callers MUST verify c.UserID owns the conversation the channel belongs to
// before subscribing to a conversation channel — subscribe performs no
// ownership check of its own. JoinConversation (hub.go) is the only caller
// for conversation channels and enforces this; HandleConnection also
// subscribes every connection to the global presence channel, which belongs
// to no conversation.
//
// Returns an error if LISTEN fails so the caller can inform the client instead
// of sending a false join confirmation.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
		needsListen = true
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	if needsListen {
		m.listenerMu.RLock()
		l := m.listener
		m.listenerMu.RUnlock()
		if l != nil {
			listenCtx, listenCancel := context.WithTimeout(context.Background(), listenTimeout)
			defer listenCancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
				m.cleanupFailedChannel(c, channel)
				return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	c.subscriptions[channel] = true
	return nil
}

// cleanupFailedChannel removes ALL subscribers from a channel after a LISTEN
// failure and notifies every affected connection (except the triggering one,
// which is notified by the caller via the returned error).
//
// Between unlocking channelMu (after creating the channel entry) and l.Subscribe
// completing, other goroutines may have subscribed to the same channel. Because
// they saw the channel already existed they skipped LISTEN and returned success.
// Those connections are now orphaned — they were told their join succeeded but
// the underlying PG LISTEN was never established. This helper cleans them up.
//
// Client-side contract: an orphaned connection may observe the sequence
// join confirmed → catchup events → conversation.unavailable. This is an
// inherent artefact of the concurrent subscribe/LISTEN window and only occurs
// during transient LISTEN failures. Clients MUST treat conversation.unavailable
// as authoritative: discard any previously received events for that
// conversation and either rejoin (with back-off) or fall back to REST polling.
//
// Note: affected connections may retain a stale c.subscriptions[channel] entry.
// This is harmless: Broadcast uses m.channels (now deleted), and unsubscribe /
// unregisterConnection handle missing channel entries gracefully.
func (m *ConnectionManager) cleanupFailedChannel(triggering *Connection, channel string) {
	// Collect all affected connection IDs and delete the channel entirely.
	m.channelMu.Lock()
	affectedIDs := make([]string, 0, len(m.channels[channel]))
	for connID := range m.channels[channel] {
		if connID != triggering.ID {
			affectedIDs = append(affectedIDs, connID)
		}
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	if len(affectedIDs) == 0 {
		return
	}

	// Look up connection pointers (without holding channelMu).
	m.mu.RLock()
	conns := make([]*Connection, 0, len(affectedIDs))
	for _, id := range affectedIDs {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	// Notify each affected connection that its subscription failed.
	for _, conn := range conns {
		slog.Warn("Removing orphaned subscriber after LISTEN failure",
			"connection_id", conn.ID, "channel", channel)
		m.sendJSON(conn, map[string]string{
			"type":    "conversation.unavailable",
			"channel": channel,
			"message": "channel listen failed; subscription removed",
		})
	}
}

// unsubscribe removes a connection from a channel and stops LISTEN if last
// subscriber. A no-op if the connection was not subscribed, so
// LeaveConversation is idempotent.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
			// Last subscriber left — stop LISTEN.
			// The goroutine re-checks m.channels before issuing UNLISTEN to
			// prevent a race where a rapid unsubscribe/resubscribe cycle
			// (e.g. React StrictMode double-render) would drop the LISTEN:
			//   subscribe → LISTEN active
			//   unsubscribe → goroutine: UNLISTEN (deferred)
			//   resubscribe → channel re-added to m.channels
			//   goroutine → sees resubscribed → skips UNLISTEN
			m.listenerMu.RLock()
			l := m.listener
			m.listenerMu.RUnlock()
			if l != nil {
				go func() {
					m.channelMu.RLock()
					_, resubscribed := m.channels[channel]
					m.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// handleCatchup sends missed events since lastEventID to the client.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, channel string, lastEventID string) {
	if m.catchupQuerier == nil {
		return
	}

	// Query events from DB since lastEventID (capped at catchupLimit + 1 to detect overflow)
	events, err := m.catchupQuerier.GetCatchupEvents(ctx, channel, lastEventID, catchupLimit+1)
	if err != nil {
		slog.Error("Catchup query failed", "channel", channel, "error", err)
		return
	}

	// Check if more events exist beyond the limit
	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	// Send missed events in order, injecting db_event_id for position tracking.
	// The stored payload doesn't contain db_event_id (it's only added to the
	// NOTIFY payload at publish time), so we add it here from the DB row ID.
	for _, evt := range events {
		evt.Payload["db_event_id"] = evt.ID
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send catchup event",
				"connection_id", c.ID, "error", err)
			return
		}
	}

	// If more events were missed than the catchup limit, tell the client
	// to do a full REST reload instead of paginating catchup requests.
	if hasMore {
		m.sendJSON(c, map[string]interface{}{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	// Remove from all channel subscriptions
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	// Best-effort: the connection's own ctx is already canceled by the time
	// we get here in the common (read-error) path, so presence uses its own
	// short-lived background context instead of c.ctx.
	m.markPresenceOffline(context.Background(), c)

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// markPresenceOnline records c as a live connection for c.UserID and, on a
// 0→1 transition, broadcasts UserPresenceChanged. A no-op if presence
// tracking isn't configured.
func (m *ConnectionManager) markPresenceOnline(ctx context.Context, c *Connection) {
	if m.presence == nil {
		return
	}
	becameOnline, err := m.presence.MarkOnline(ctx, c.UserID, c.ID)
	if err != nil {
		slog.Warn("presence: mark online failed", "user_id", c.UserID, "connection_id", c.ID, "error", err)
		return
	}
	if becameOnline {
		m.broadcastPresenceChanged(ctx, c.UserID, true, nil)
	}
}

// markPresenceOffline is the disconnect-side counterpart of
// markPresenceOnline, broadcasting UserPresenceChanged on a >0→0 transition.
func (m *ConnectionManager) markPresenceOffline(ctx context.Context, c *Connection) {
	if m.presence == nil {
		return
	}
	becameOffline, err := m.presence.MarkOffline(ctx, c.UserID, c.ID)
	if err != nil {
		slog.Warn("presence: mark offline failed", "user_id", c.UserID, "connection_id", c.ID, "error", err)
		return
	}
	if becameOffline {
		lastSeen := m.presence.LastSeen(ctx, c.UserID)
		m.broadcastPresenceChanged(ctx, c.UserID, false, &lastSeen)
	}
}

// broadcastPresenceChanged publishes a presence.changed event to the single
// global presence channel. Best-effort: a publish failure is logged, never
// surfaced to the connection whose online/offline transition triggered it.
func (m *ConnectionManager) broadcastPresenceChanged(ctx context.Context, userID string, online bool, lastSeen *time.Time) {
	if m.eventPublisher == nil {
		return
	}
	var lastSeenStr *string
	if lastSeen != nil && !lastSeen.IsZero() {
		s := lastSeen.Format(time.RFC3339Nano)
		lastSeenStr = &s
	}
	err := m.eventPublisher.PublishPresenceChanged(ctx, []string{presenceChannel}, PresenceChangedPayload{
		Type:       EventTypePresenceChanged,
		UserID:     userID,
		Online:     online,
		LastSeenAt: lastSeenStr,
		Timestamp:  time.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Warn("presence: failed to publish presence change", "user_id", userID, "online", online, "error", err)
	}
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
