package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/api/dto"
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/service"
)

// backgroundTimeout bounds work started after the webhook has been acked.
const backgroundTimeout = 10 * time.Minute

// EventsHandler receives the chat platform's event webhook.
type EventsHandler struct {
	marks   *service.MarkService
	chatCfg config.ChatConfig
	logger  *zap.Logger
}

// NewEventsHandler constructs handler.
func NewEventsHandler(marks *service.MarkService, chatCfg config.ChatConfig, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{marks: marks, chatCfg: chatCfg, logger: logger}
}

// Handle handles POST /chat/events. The platform expects an ack within a few
// seconds, so all real work happens after the response.
func (h *EventsHandler) Handle(c *fiber.Ctx) error {
	var envelope dto.EventEnvelope
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid event payload")
	}

	switch envelope.Type {
	case "url_verification":
		return c.JSON(fiber.Map{"challenge": envelope.Challenge})
	case "event_callback":
		h.dispatchEvent(envelope.Event)
		return c.SendStatus(http.StatusOK)
	default:
		return c.SendStatus(http.StatusOK)
	}
}

func (h *EventsHandler) dispatchEvent(event dto.InnerEvent) {
	switch event.Type {
	case "reaction_added":
		if event.Reaction != h.chatCfg.MarkEmoji || event.Item.Type != "message" {
			return
		}
		h.background(func(ctx context.Context) {
			if err := h.marks.MarkMessage(ctx, event.Item.ChannelID, event.Item.Timestamp, event.UserID, domain.MarkKindReaction); err != nil {
				h.logger.Warn("reaction mark failed", zap.String("message_id", event.Item.Timestamp), zap.Error(err))
			}
		})
	case "reaction_removed":
		if event.Reaction != h.chatCfg.MarkEmoji || event.Item.Type != "message" {
			return
		}
		h.background(func(ctx context.Context) {
			if err := h.marks.UnmarkMessage(ctx, event.Item.ChannelID, event.Item.Timestamp); err != nil {
				h.logger.Warn("reaction unmark failed", zap.String("message_id", event.Item.Timestamp), zap.Error(err))
			}
		})
	}
}

func (h *EventsHandler) background(fn func(context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}
