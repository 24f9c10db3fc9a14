package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/events"
)

// AuditService subscribes to lifecycle events and writes the audit log.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	return &AuditService{dispatcher: dispatcher, logger: logger}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventSessionStarted, a.handle)
	a.dispatcher.Subscribe(events.EventSessionCompleted, a.handle)
	a.dispatcher.Subscribe(events.EventSessionFailed, a.handle)
	a.dispatcher.Subscribe(events.EventProposalDecided, a.handle)
	a.dispatcher.Subscribe(events.EventDocumentsDetected, a.handle)
}

func (a *AuditService) handle(_ context.Context, event events.Event) error {
	a.logger.Info("audit",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("session_id", event.SessionID),
		zap.String("user_id", event.UserID),
		zap.Time("at", event.Timestamp),
		zap.Any("payload", event.Payload),
	)
	return nil
}
