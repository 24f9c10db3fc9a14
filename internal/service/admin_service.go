package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/repository"
)

// ErrNotAuthorized rejects admin subcommands from non-admin users.
var ErrNotAuthorized = errors.New("this command requires admin access")

// CredentialStore is the slice of the credential resolver the admin surface
// needs.
type CredentialStore interface {
	Resolve(ctx context.Context, userID string) (*domain.CredentialRecord, error)
	Save(ctx context.Context, record *domain.CredentialRecord) error
	SetEnabled(ctx context.Context, userID string, enabled bool) error
	UpdateTicketConfig(ctx context.Context, userID string, cfg domain.TicketConfig) error
	UpdateDocStoreConfig(ctx context.Context, userID string, cfg domain.DocStoreConfig) error
	ListAll(ctx context.Context) ([]domain.CredentialRecord, error)
}

// AdminService serves the configuration subcommands of the slash command.
// Every method returns user-facing text destined for an ephemeral reply.
type AdminService struct {
	creds   CredentialStore
	stats   repository.StatsRepository
	chatCfg config.ChatConfig
	logger  *zap.Logger
}

// AdminDependencies bundles collaborators for the admin service.
type AdminDependencies struct {
	Credentials CredentialStore
	StatsRepo   repository.StatsRepository
	ChatConfig  config.ChatConfig
	Logger      *zap.Logger
}

// NewAdminService constructs the service.
func NewAdminService(deps AdminDependencies) *AdminService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		creds:   deps.Credentials,
		stats:   deps.StatsRepo,
		chatCfg: deps.ChatConfig,
		logger:  logger,
	}
}

// Setup creates or replaces the caller's own credential record.
func (s *AdminService) Setup(ctx context.Context, userID, name, email string, ticket domain.TicketConfig) (string, error) {
	record := &domain.CredentialRecord{
		UserID:       userID,
		Name:         name,
		Email:        email,
		Enabled:      true,
		TicketConfig: ticket,
	}
	if existing, err := s.creds.Resolve(ctx, userID); err == nil && existing != nil {
		record.DocStore = existing.DocStore
		record.FlowConfig = existing.FlowConfig
		record.LastProcessed = existing.LastProcessed
	}
	if err := s.creds.Save(ctx, record); err != nil {
		return "", fmt.Errorf("save credential record: %w", err)
	}
	s.logger.Info("credential record saved", zap.String("user_id", userID))
	return fmt.Sprintf("Setup complete for <@%s>. Ticket system: %s", userID, record.TicketConfig.URL), nil
}

// Show renders the caller's configuration with secrets masked.
func (s *AdminService) Show(ctx context.Context, userID string) (string, error) {
	record, err := s.creds.Resolve(ctx, userID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "No configuration found. Run `/agent setup` first.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Configuration for <@%s>*\n", record.UserID)
	fmt.Fprintf(&b, "Ticket system: %s (project %s)\n", record.TicketConfig.URL, orDash(record.TicketConfig.ProjectKey))
	fmt.Fprintf(&b, "Ticket token: %s\n", maskSecret(record.TicketConfig.APIToken))
	fmt.Fprintf(&b, "Document folder: %s\n", orDash(record.DocStore.FolderID))
	fmt.Fprintf(&b, "Documents only: %t · Auto approve: %t\n", record.FlowConfig.DocumentsOnly, record.FlowConfig.AutoApprove)
	if record.LastProcessed.FileName != "" {
		fmt.Fprintf(&b, "Last processed document: %s (%s)", record.LastProcessed.FileName, record.LastProcessed.ModifiedTime)
	}
	return b.String(), nil
}

// UpdateTicket replaces the caller's ticket credentials.
func (s *AdminService) UpdateTicket(ctx context.Context, userID string, cfg domain.TicketConfig) (string, error) {
	if err := s.creds.UpdateTicketConfig(ctx, userID, cfg); err != nil {
		return "", err
	}
	s.logger.Info("ticket config updated", zap.String("user_id", userID))
	return "Ticket credentials updated.", nil
}

// UpdateDocStore replaces the caller's document-store overrides.
func (s *AdminService) UpdateDocStore(ctx context.Context, userID string, cfg domain.DocStoreConfig) (string, error) {
	if err := s.creds.UpdateDocStoreConfig(ctx, userID, cfg); err != nil {
		return "", err
	}
	s.logger.Info("doc store config updated", zap.String("user_id", userID))
	return "Document store settings updated.", nil
}

// SetEnabled toggles another user's record. Admin only.
func (s *AdminService) SetEnabled(ctx context.Context, actorID, targetID string, enabled bool) (string, error) {
	if !s.chatCfg.IsAdmin(actorID) {
		return "", ErrNotAuthorized
	}
	if err := s.creds.SetEnabled(ctx, targetID, enabled); err != nil {
		return "", err
	}
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	s.logger.Info("credential record toggled",
		zap.String("actor", actorID), zap.String("target", targetID), zap.Bool("enabled", enabled))
	return fmt.Sprintf("Integration %s for <@%s>.", verb, targetID), nil
}

// List renders every configured user. Admin only.
func (s *AdminService) List(ctx context.Context, actorID string) (string, error) {
	if !s.chatCfg.IsAdmin(actorID) {
		return "", ErrNotAuthorized
	}
	records, err := s.creds.ListAll(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No users configured.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Configured users (%d)*\n", len(records))
	for _, r := range records {
		state := "disabled"
		if r.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(&b, "• <@%s> — %s, %s\n", r.UserID, orDash(r.TicketConfig.URL), state)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Stats renders store-wide counters. Admin only.
func (s *AdminService) Stats(ctx context.Context, actorID string) (string, error) {
	if !s.chatCfg.IsAdmin(actorID) {
		return "", ErrNotAuthorized
	}
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"*Agent statistics*\nSessions: %d (%d completed)\nPending marked messages: %d\nProposals: %d (%d executed)",
		stats.Sessions, stats.CompletedSessions, stats.PendingMarkedItems, stats.TotalProposals, stats.ExecutedProposals,
	), nil
}

// maskSecret hides all but the last four characters of a credential.
func maskSecret(secret string) string {
	if secret == "" {
		return "—"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
