package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/api/dto"
	"github.com/spec-kit/ticket-agent/internal/chat"
	"github.com/spec-kit/ticket-agent/internal/service"
)

// InteractionsHandler receives interactive component callbacks (the approve,
// reject, and generate-from-documents buttons).
type InteractionsHandler struct {
	orch   *service.Orchestrator
	logger *zap.Logger
}

// NewInteractionsHandler constructs handler.
func NewInteractionsHandler(orch *service.Orchestrator, logger *zap.Logger) *InteractionsHandler {
	return &InteractionsHandler{orch: orch, logger: logger}
}

// Handle handles POST /chat/interactions. The payload arrives form-encoded
// under the "payload" key. Decisions are recorded after the ack.
func (h *InteractionsHandler) Handle(c *fiber.Ctx) error {
	raw := c.FormValue("payload")
	if raw == "" {
		return fiber.NewError(http.StatusBadRequest, "missing interaction payload")
	}

	var payload dto.InteractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid interaction payload")
	}
	if payload.Type != "block_actions" || len(payload.Actions) == 0 {
		return c.SendStatus(http.StatusOK)
	}

	action := payload.Actions[0]
	var approved bool
	switch action.ActionID {
	case chat.ActionApprove:
		approved = true
	case chat.ActionReject:
		approved = false
	case chat.ActionGenerate:
		return h.handleGenerate(c, payload, action)
	default:
		return c.SendStatus(http.StatusOK)
	}

	value, err := chat.DecodeButtonValue(action.Value)
	if err != nil {
		h.logger.Warn("interaction with undecodable button value", zap.Error(err))
		return c.SendStatus(http.StatusOK)
	}

	reviewerID := payload.User.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := h.orch.HandleDecision(ctx, value.SessionID, value.ProposalID, approved, reviewerID); err != nil {
			h.logger.Error("failed to record decision",
				zap.String("session_id", value.SessionID),
				zap.String("proposal_id", value.ProposalID),
				zap.Error(err),
			)
		}
	}()
	return c.SendStatus(http.StatusOK)
}

// handleGenerate starts a documents-only run for the connection owner. The
// button value carries the owner's user ID, so anyone in the channel can
// trigger generation against that owner's documents.
func (h *InteractionsHandler) handleGenerate(c *fiber.Ctx, payload dto.InteractionPayload, action dto.InteractionAction) error {
	ownerID := action.Value
	if ownerID == "" {
		ownerID = payload.User.ID
	}
	channelID := payload.Channel.ID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := h.orch.StartSync(ctx, channelID, ownerID, true); err != nil {
			h.logger.Error("failed to start document generation",
				zap.String("channel_id", channelID),
				zap.String("user_id", ownerID),
				zap.Error(err),
			)
		}
	}()
	return c.SendStatus(http.StatusOK)
}
