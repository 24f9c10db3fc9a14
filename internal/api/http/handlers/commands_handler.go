package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/api/dto"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/service"
)

// CommandsHandler receives slash-command invocations.
type CommandsHandler struct {
	orch   *service.Orchestrator
	marks  *service.MarkService
	admin  *service.AdminService
	logger *zap.Logger
}

// NewCommandsHandler constructs handler.
func NewCommandsHandler(orch *service.Orchestrator, marks *service.MarkService, admin *service.AdminService, logger *zap.Logger) *CommandsHandler {
	return &CommandsHandler{orch: orch, marks: marks, admin: admin, logger: logger}
}

// Handle handles POST /chat/commands. Commands are form-encoded and must be
// acked within seconds; syncs run after the response.
func (h *CommandsHandler) Handle(c *fiber.Ctx) error {
	cmd := dto.SlashCommand{
		Command:   c.FormValue("command"),
		Text:      strings.TrimSpace(c.FormValue("text")),
		UserID:    c.FormValue("user_id"),
		ChannelID: c.FormValue("channel_id"),
	}
	if cmd.Command == "" || cmd.UserID == "" {
		return fiber.NewError(http.StatusBadRequest, "invalid command payload")
	}

	switch cmd.Command {
	case "/mark":
		return h.handleMark(c, cmd)
	case "/sync":
		return h.handleSync(c, cmd)
	case "/agent":
		return h.handleAgent(c, cmd)
	default:
		return c.JSON(dto.Ephemeral("Unknown command " + cmd.Command))
	}
}

func (h *CommandsHandler) handleMark(c *fiber.Ctx, cmd dto.SlashCommand) error {
	messageID := cmd.Text
	if messageID == "" {
		return c.JSON(dto.Ephemeral("Usage: `/mark <message-timestamp>`"))
	}

	ctx := c.UserContext()
	if err := h.marks.MarkMessage(ctx, cmd.ChannelID, messageID, cmd.UserID, domain.MarkKindCommand); err != nil {
		h.logger.Warn("mark command failed",
			zap.String("channel_id", cmd.ChannelID),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return c.JSON(dto.Ephemeral("Could not mark that message. Check the timestamp and try again."))
	}
	return c.JSON(dto.Ephemeral("Marked. Run `/sync` when you are ready to analyze."))
}

func (h *CommandsHandler) handleSync(c *fiber.Ctx, cmd dto.SlashCommand) error {
	documentsOnly := strings.EqualFold(cmd.Text, "documents")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := h.orch.StartSync(ctx, cmd.ChannelID, cmd.UserID, documentsOnly); err != nil {
			h.logger.Info("sync did not complete",
				zap.String("channel_id", cmd.ChannelID),
				zap.String("user_id", cmd.UserID),
				zap.Error(err),
			)
		}
	}()

	return c.JSON(dto.Ephemeral(":arrows_counterclockwise: Sync started. Results will be posted here."))
}

func (h *CommandsHandler) handleAgent(c *fiber.Ctx, cmd dto.SlashCommand) error {
	fields := strings.Fields(cmd.Text)
	if len(fields) == 0 {
		return c.JSON(dto.Ephemeral(agentUsage))
	}
	sub, args := fields[0], fields[1:]

	var (
		text string
		err  error
	)
	ctx := c.UserContext()
	switch sub {
	case "setup":
		if len(args) < 3 {
			return c.JSON(dto.Ephemeral("Usage: `/agent setup <ticket-url> <email> <api-token> [project-key]`"))
		}
		ticket := domain.TicketConfig{URL: args[0], Email: args[1], APIToken: args[2], AuthType: "basic"}
		if len(args) > 3 {
			ticket.ProjectKey = args[3]
		}
		text, err = h.admin.Setup(ctx, cmd.UserID, "", ticket.Email, ticket)
	case "show", "config":
		text, err = h.admin.Show(ctx, cmd.UserID)
	case "ticket":
		if len(args) < 3 {
			return c.JSON(dto.Ephemeral("Usage: `/agent ticket <ticket-url> <email> <api-token> [project-key]`"))
		}
		ticket := domain.TicketConfig{URL: args[0], Email: args[1], APIToken: args[2], AuthType: "basic"}
		if len(args) > 3 {
			ticket.ProjectKey = args[3]
		}
		text, err = h.admin.UpdateTicket(ctx, cmd.UserID, ticket)
	case "docs":
		if len(args) < 1 {
			return c.JSON(dto.Ephemeral("Usage: `/agent docs <folder-id> [service-account-email]`"))
		}
		cfg := domain.DocStoreConfig{FolderID: args[0]}
		if len(args) > 1 {
			cfg.ServiceAccountEmail = args[1]
		}
		text, err = h.admin.UpdateDocStore(ctx, cmd.UserID, cfg)
	case "enable", "disable":
		if len(args) < 1 {
			return c.JSON(dto.Ephemeral("Usage: `/agent " + sub + " <user-id>`"))
		}
		text, err = h.admin.SetEnabled(ctx, cmd.UserID, stripMention(args[0]), sub == "enable")
	case "list":
		text, err = h.admin.List(ctx, cmd.UserID)
	case "stats":
		text, err = h.admin.Stats(ctx, cmd.UserID)
	default:
		return c.JSON(dto.Ephemeral(agentUsage))
	}

	if err != nil {
		if err == service.ErrNotAuthorized {
			return c.JSON(dto.Ephemeral("You need admin access for that."))
		}
		h.logger.Error("agent subcommand failed", zap.String("subcommand", sub), zap.Error(err))
		return c.JSON(dto.Ephemeral("Something went wrong. Try again or contact an admin."))
	}
	return c.JSON(dto.Ephemeral(text))
}

const agentUsage = "Usage: `/agent setup|show|ticket|docs|enable|disable|list|stats`"

// stripMention turns "<@U123|name>" or "<@U123>" into "U123".
func stripMention(raw string) string {
	s := strings.TrimSuffix(strings.TrimPrefix(raw, "<@"), ">")
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	return s
}
