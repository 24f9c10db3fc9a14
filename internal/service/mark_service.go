package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/repository"
)

// MarkService records and releases chat messages flagged for the next sync.
type MarkService struct {
	items   repository.MarkedItemRepository
	chat    ChatGateway
	chatCfg config.ChatConfig
	logger  *zap.Logger
}

// MarkDependencies bundles collaborators for the mark service.
type MarkDependencies struct {
	ItemRepo   repository.MarkedItemRepository
	Chat       ChatGateway
	ChatConfig config.ChatConfig
	Logger     *zap.Logger
}

// NewMarkService constructs the service.
func NewMarkService(deps MarkDependencies) *MarkService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkService{
		items:   deps.ItemRepo,
		chat:    deps.Chat,
		chatCfg: deps.ChatConfig,
		logger:  logger,
	}
}

// MarkMessage flags a message for the next sync. Marking is idempotent: a
// second mark of the same message is a no-op. The bot acknowledges with the
// pending emoji.
func (s *MarkService) MarkMessage(ctx context.Context, channelID, messageID, userID string, kind domain.MarkKind) error {
	msg, err := s.chat.GetMessage(ctx, channelID, messageID)
	if err != nil {
		return fmt.Errorf("fetch message to mark: %w", err)
	}
	if msg.BotID != "" {
		// Marking the bot's own messages would feed its output back in.
		return nil
	}

	input := repository.MarkInput{
		ChannelID: channelID,
		MessageID: messageID,
		MarkedBy:  userID,
		Kind:      kind,
	}
	if msg.Text != "" {
		text := msg.Text
		input.MessageText = &text
	}
	if msg.ThreadTimestamp != "" && msg.ThreadTimestamp != messageID {
		thread := msg.ThreadTimestamp
		input.ThreadID = &thread
	}

	item, err := s.items.Mark(ctx, input)
	if err != nil {
		return fmt.Errorf("mark message: %w", err)
	}
	if item.Claimed() {
		s.logger.Debug("message already consumed by a sync, ignoring mark",
			zap.String("message_id", messageID), zap.String("session_id", *item.SessionID))
		return nil
	}

	if err := s.chat.AddReaction(ctx, channelID, messageID, s.chatCfg.PendingEmoji); err != nil {
		s.logger.Warn("failed to acknowledge mark", zap.String("message_id", messageID), zap.Error(err))
	}
	s.logger.Info("message marked",
		zap.String("channel_id", channelID),
		zap.String("message_id", messageID),
		zap.String("marked_by", userID),
		zap.String("kind", string(kind)),
	)
	return nil
}

// UnmarkMessage releases a not-yet-claimed marked message. Items already
// consumed by a sync stay put.
func (s *MarkService) UnmarkMessage(ctx context.Context, channelID, messageID string) error {
	removed, err := s.items.Unmark(ctx, channelID, messageID)
	if err != nil {
		return fmt.Errorf("unmark message: %w", err)
	}
	if !removed {
		return nil
	}
	if err := s.chat.RemoveReaction(ctx, channelID, messageID, s.chatCfg.PendingEmoji); err != nil {
		s.logger.Warn("failed to remove mark acknowledgement", zap.String("message_id", messageID), zap.Error(err))
	}
	s.logger.Info("message unmarked", zap.String("channel_id", channelID), zap.String("message_id", messageID))
	return nil
}
