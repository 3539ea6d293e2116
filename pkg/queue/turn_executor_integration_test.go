package queue

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/chatd/ent/event"
	"github.com/codeready-toolchain/chatd/ent/message"
	"github.com/codeready-toolchain/chatd/pkg/classifier"
	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/llm"
	testdb "github.com/codeready-toolchain/chatd/test/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeTurnLLMClient struct {
	chunks []llm.Chunk
	err    error
}

func (f *fakeTurnLLMClient) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeTurnLLMClient) Close() error { return nil }

func TestChatTurnExecutor_Execute_PersistsReplyBeforeCallbackDelivery(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()

	conversationID := uuid.New().String()
	_, err := dbClient.Conversation.Create().
		SetID(conversationID).
		SetOwnerUserID("integration-test-user").
		SetTitle("integration test conversation").
		Save(ctx)
	require.NoError(t, err)

	_, err = dbClient.Message.Create().
		SetID(uuid.New().String()).
		SetConversationID(conversationID).
		SetRole(message.RoleUser).
		SetContent("please fix this crashing bug").
		SetSentAt(time.Now().Add(-time.Minute)).
		Save(ctx)
	require.NoError(t, err)

	fakeClient := &fakeTurnLLMClient{chunks: []llm.Chunk{
		&llm.TextChunk{Content: "Sure, "},
		&llm.TextChunk{Content: "I'll take a look."},
		&llm.UsageChunk{TotalTokens: 17},
	}}

	classif, err := classifier.New(config.DefaultClassifierConfig(), nil, nil)
	require.NoError(t, err)

	cfg := config.DefaultOrchestrationConfig()
	cfg.ReplyDeliveryMode = config.ReplyDeliveryCallback
	cfg.GatewayCallbackTimeout = 5 * time.Second

	exec := NewChatTurnExecutor(cfg, dbClient.Client, fakeClient, classif, nil)

	payload := map[string]interface{}{
		"conversation_id": conversationID,
		"message_id":      uuid.New().String(),
		"content":         "please fix this new crashing bug",
	}

	claimed, err := dbClient.Event.Create().
		SetID(uuid.New().String()).
		SetConversationID(conversationID).
		SetType(event.TypeMessageSent).
		SetCorrelationID(uuid.New().String()).
		SetPayload(payload).
		Save(ctx)
	require.NoError(t, err)

	// Without a real gateway listening, callback delivery fails but the
	// message must still be persisted before delivery is attempted.
	result := exec.Execute(ctx, claimed)
	require.NotNil(t, result)

	messages, err := dbClient.Message.Query().
		Where(message.ConversationIDEQ(conversationID), message.RoleEQ(message.RoleAssistant)).
		All(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "Sure, I'll take a look.", messages[0].Content)
}

func TestChatTurnExecutor_Execute_EmptyLLMResponseFails(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()

	conversationID := uuid.New().String()
	_, err := dbClient.Conversation.Create().
		SetID(conversationID).
		SetOwnerUserID("integration-test-user").
		SetTitle("integration test conversation").
		Save(ctx)
	require.NoError(t, err)

	classif, err := classifier.New(config.DefaultClassifierConfig(), nil, nil)
	require.NoError(t, err)

	cfg := config.DefaultOrchestrationConfig()
	exec := NewChatTurnExecutor(cfg, dbClient.Client, &fakeTurnLLMClient{}, classif, nil)

	claimed, err := dbClient.Event.Create().
		SetID(uuid.New().String()).
		SetConversationID(conversationID).
		SetType(event.TypeMessageSent).
		SetCorrelationID(uuid.New().String()).
		SetPayload(map[string]interface{}{"conversation_id": conversationID}).
		Save(ctx)
	require.NoError(t, err)

	result := exec.Execute(ctx, claimed)
	require.NotNil(t, result)
	require.False(t, result.Succeeded)
	require.Error(t, result.Error)
}
