package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationChannel(t *testing.T) {
	tests := []struct {
		name           string
		conversationID string
		want           string
	}{
		{name: "formats conversation channel correctly", conversationID: "abc-123", want: "conversation:abc-123"},
		{name: "handles UUID format", conversationID: "550e8400-e29b-41d4-a716-446655440000", want: "conversation:550e8400-e29b-41d4-a716-446655440000"},
		{name: "handles empty string", conversationID: "", want: "conversation:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConversationChannel(tt.conversationID))
		})
	}
}

func TestConversationIDFromChannel(t *testing.T) {
	t.Run("valid conversation channel", func(t *testing.T) {
		id, ok := ConversationIDFromChannel("conversation:abc-123")
		require.True(t, ok)
		assert.Equal(t, "abc-123", id)
	})

	t.Run("non-conversation channel", func(t *testing.T) {
		_, ok := ConversationIDFromChannel("sessions")
		assert.False(t, ok)
	})

	t.Run("prefix with nothing after it", func(t *testing.T) {
		_, ok := ConversationIDFromChannel("conversation:")
		assert.False(t, ok)
	})

	t.Run("empty channel", func(t *testing.T) {
		_, ok := ConversationIDFromChannel("")
		assert.False(t, ok)
	})

	t.Run("round-trips with ConversationChannel", func(t *testing.T) {
		channel := ConversationChannel("xyz-789")
		id, ok := ConversationIDFromChannel(channel)
		require.True(t, ok)
		assert.Equal(t, "xyz-789", id)
	})
}

func TestEventTypeConstants(t *testing.T) {
	types := []string{
		EventTypeMessageSent,
		EventTypeAgentResponse,
		EventTypeStreamChunk,
		EventTypeTypingIndicator,
		EventTypePresenceChanged,
		EventTypeBuildFailed,
		EventTypeFixAttempted,
		EventTypeFixSucceeded,
		EventTypeTaskCompleted,
	}

	seen := make(map[string]bool)
	for _, typ := range types {
		assert.NotEmpty(t, typ, "event type should not be empty")
		assert.False(t, seen[typ], "duplicate event type: %s", typ)
		seen[typ] = true
	}
}

func TestClientMessage_JSON(t *testing.T) {
	t.Run("JoinConversation with params", func(t *testing.T) {
		msg := ClientMessage{
			Method:    MethodJoinConversation,
			RequestID: "req-1",
			Params:    json.RawMessage(`{"conversationId":"conv-123"}`),
		}
		data, err := json.Marshal(msg)
		require.NoError(t, err)

		var decoded ClientMessage
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, MethodJoinConversation, decoded.Method)
		assert.Equal(t, "req-1", decoded.RequestID)

		var params joinConversationParams
		require.NoError(t, json.Unmarshal(decoded.Params, &params))
		assert.Equal(t, "conv-123", params.ConversationID)
	})

	t.Run("Ping without params or requestId", func(t *testing.T) {
		msg := ClientMessage{Method: MethodPing}
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "requestId")
		assert.NotContains(t, string(data), "params")

		var decoded ClientMessage
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, MethodPing, decoded.Method)
		assert.Empty(t, decoded.RequestID)
		assert.Nil(t, decoded.Params)
	})

	t.Run("unmarshal raw JSON", func(t *testing.T) {
		raw := `{"method":"Ping"}`
		var decoded ClientMessage
		require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
		assert.Equal(t, MethodPing, decoded.Method)
		assert.Empty(t, decoded.RequestID)
	})
}

func TestServerMessage_JSON(t *testing.T) {
	t.Run("successful reply omits error", func(t *testing.T) {
		msg := ServerMessage{Type: MethodJoinConversation, RequestID: "req-1", Data: map[string]string{"conversationId": "conv-123"}}
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.NotContains(t, string(data), `"error"`)
	})

	t.Run("failed reply carries a HubError", func(t *testing.T) {
		msg := ServerMessage{
			Type:      MethodJoinConversation,
			RequestID: "req-1",
			Error:     &HubError{Kind: ErrKindForbidden, Message: "not the conversation owner"},
		}
		data, err := json.Marshal(msg)
		require.NoError(t, err)

		var decoded ServerMessage
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.NotNil(t, decoded.Error)
		assert.Equal(t, ErrKindForbidden, decoded.Error.Kind)
	})
}
