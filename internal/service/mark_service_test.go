package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/chat"
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/domain"
)

func newMarkFixture() (*MarkService, *fakeItems, *fakeChat) {
	items := &fakeItems{}
	chatClient := newFakeChat()
	svc := NewMarkService(MarkDependencies{
		ItemRepo:   items,
		Chat:       chatClient,
		ChatConfig: config.ChatConfig{PendingEmoji: "eyes"},
		Logger:     zap.NewNop(),
	})
	return svc, items, chatClient
}

func TestMarkMessageStoresTextAndThread(t *testing.T) {
	svc, items, chatClient := newMarkFixture()
	chatClient.messages["m1"] = chat.Message{
		UserID:          "U2",
		Text:            "we agreed to move the deadline",
		Timestamp:       "m1",
		ThreadTimestamp: "t0",
	}

	err := svc.MarkMessage(context.Background(), "C1", "m1", "U1", domain.MarkKindReaction)

	require.NoError(t, err)
	unclaimed, _ := items.ListUnclaimed(context.Background(), "C1")
	require.Len(t, unclaimed, 1)
	item := unclaimed[0]
	assert.Equal(t, "U1", item.MarkedBy)
	require.NotNil(t, item.MessageText)
	assert.Equal(t, "we agreed to move the deadline", *item.MessageText)
	require.NotNil(t, item.ThreadID)
	assert.Equal(t, "t0", *item.ThreadID)
}

func TestMarkMessageIgnoresBotMessages(t *testing.T) {
	svc, items, chatClient := newMarkFixture()
	chatClient.messages["m1"] = chat.Message{BotID: "B1", Text: "I posted this myself", Timestamp: "m1"}

	err := svc.MarkMessage(context.Background(), "C1", "m1", "U1", domain.MarkKindReaction)

	require.NoError(t, err)
	unclaimed, _ := items.ListUnclaimed(context.Background(), "C1")
	assert.Empty(t, unclaimed)
}

func TestMarkMessageIdempotent(t *testing.T) {
	svc, items, chatClient := newMarkFixture()
	chatClient.messages["m1"] = chat.Message{UserID: "U2", Text: "hello", Timestamp: "m1"}

	require.NoError(t, svc.MarkMessage(context.Background(), "C1", "m1", "U1", domain.MarkKindReaction))
	require.NoError(t, svc.MarkMessage(context.Background(), "C1", "m1", "U3", domain.MarkKindCommand))

	unclaimed, _ := items.ListUnclaimed(context.Background(), "C1")
	require.Len(t, unclaimed, 1)
	assert.Equal(t, "U1", unclaimed[0].MarkedBy, "first mark wins")
}

func TestUnmarkMessageReleasesPendingItem(t *testing.T) {
	svc, items, chatClient := newMarkFixture()
	chatClient.messages["m1"] = chat.Message{UserID: "U2", Text: "hello", Timestamp: "m1"}
	require.NoError(t, svc.MarkMessage(context.Background(), "C1", "m1", "U1", domain.MarkKindReaction))

	err := svc.UnmarkMessage(context.Background(), "C1", "m1")

	require.NoError(t, err)
	unclaimed, _ := items.ListUnclaimed(context.Background(), "C1")
	assert.Empty(t, unclaimed)
}

func TestUnmarkMessageLeavesClaimedItems(t *testing.T) {
	svc, items, chatClient := newMarkFixture()
	chatClient.messages["m1"] = chat.Message{UserID: "U2", Text: "hello", Timestamp: "m1"}
	require.NoError(t, svc.MarkMessage(context.Background(), "C1", "m1", "U1", domain.MarkKindReaction))
	require.NoError(t, items.Claim(context.Background(), []int64{1}, "sess-1"))

	require.NoError(t, svc.UnmarkMessage(context.Background(), "C1", "m1"))

	assert.Len(t, items.items, 1, "claimed item must survive an unmark")
}
