package worker

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/chat"
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/credentials"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/events"
	"github.com/spec-kit/ticket-agent/internal/service"
	"github.com/spec-kit/ticket-agent/internal/workflow"
)

// CredentialLister enumerates pollable users and records watermarks.
type CredentialLister interface {
	ListEnabled(ctx context.Context) ([]domain.CredentialRecord, error)
	UpdateWatermark(ctx context.Context, userID string, mark domain.Watermark) error
}

// SyncStarter kicks off a documents-only sync after a detection.
type SyncStarter interface {
	StartSync(ctx context.Context, channelID, userID string, documentsOnly bool) error
}

// Notifier posts detection notices to the user's notification channel.
type Notifier interface {
	PostMessage(ctx context.Context, channelID, text string, blocks []chat.Block, threadTS string) (string, error)
}

// DocumentPoller periodically asks the trigger flow whether new source
// documents appeared for each enabled user, and starts a sync when they have.
type DocumentPoller struct {
	creds       CredentialLister
	trigger     service.FlowGateway
	syncs       SyncStarter
	notifier    Notifier
	dispatcher  events.Dispatcher
	docDefaults config.DocStoreDefaults
	interval    time.Duration
	logger      *zap.Logger
}

// PollerDependencies bundles collaborators for the poller.
type PollerDependencies struct {
	Credentials CredentialLister
	Trigger     service.FlowGateway
	Syncs       SyncStarter
	Notifier    Notifier
	Dispatcher  events.Dispatcher
	DocDefaults config.DocStoreDefaults
	Interval    time.Duration
	Logger      *zap.Logger
}

// NewDocumentPoller constructs the poller.
func NewDocumentPoller(deps PollerDependencies) *DocumentPoller {
	interval := deps.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentPoller{
		creds:       deps.Credentials,
		trigger:     deps.Trigger,
		syncs:       deps.Syncs,
		notifier:    deps.Notifier,
		dispatcher:  deps.Dispatcher,
		docDefaults: deps.DocDefaults,
		interval:    interval,
		logger:      logger,
	}
}

// Start runs the poll loop until ctx is cancelled. It blocks; run it in its
// own goroutine.
func (p *DocumentPoller) Start(ctx context.Context) {
	p.logger.Info("document poller started", zap.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("document poller stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce polls every enabled user a single time. A failure for one user does
// not stop the others.
func (p *DocumentPoller) RunOnce(ctx context.Context) {
	records, err := p.creds.ListEnabled(ctx)
	if err != nil {
		p.logger.Error("failed to enumerate users for polling", zap.Error(err))
		return
	}
	for i := range records {
		if ctx.Err() != nil {
			return
		}
		p.pollUser(ctx, &records[i])
	}
}

type triggerRequest struct {
	Command       string           `json:"command"`
	UserID        string           `json:"user_id"`
	LastProcessed domain.Watermark `json:"last_processed"`
}

func (p *DocumentPoller) pollUser(ctx context.Context, record *domain.CredentialRecord) {
	log := p.logger.With(zap.String("user_id", record.UserID))

	// Each poll gets its own flow session so trigger runs never share
	// conversation state with a sync.
	pollSessionID := uuid.NewString()
	params := credentials.BuildFlowParameters(record, p.docDefaults)
	raw, err := p.trigger.RunFlow(ctx, pollSessionID, triggerRequest{
		Command:       "check_documents",
		UserID:        record.UserID,
		LastProcessed: record.LastProcessed,
	}, params)
	if err != nil {
		log.Warn("trigger flow call failed", zap.Error(err))
		return
	}

	result, ok := workflow.ParseTrigger(raw)
	if !ok {
		log.Warn("trigger flow returned an unreadable result")
		return
	}
	if !result.HasNewFiles {
		return
	}
	latest := result.LatestFile
	if latest.FileID == "" {
		log.Warn("trigger reported new files without a latest file")
		return
	}
	if latest.FileID == record.LastProcessed.FileID && latest.ModifiedTime == record.LastProcessed.ModifiedTime {
		return
	}

	log.Info("new documents detected",
		zap.String("file_id", latest.FileID),
		zap.String("file_name", latest.Name),
		zap.Int("new_files", len(result.NewFiles)),
	)

	// The watermark must land before anything user-visible happens: a crash
	// after notification but before the watermark would re-announce the same
	// documents on the next poll.
	mark := domain.Watermark{
		FileID:       latest.FileID,
		FileName:     latest.Name,
		ModifiedTime: latest.ModifiedTime,
		ProcessedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.creds.UpdateWatermark(ctx, record.UserID, mark); err != nil {
		log.Error("failed to advance watermark, skipping notification", zap.Error(err))
		return
	}

	if p.dispatcher != nil {
		_ = p.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventDocumentsDetected,
			UserID:    record.UserID,
			Timestamp: time.Now().UTC(),
			Payload: events.DocumentsDetectedPayload{
				FileID:       latest.FileID,
				FileName:     latest.Name,
				ModifiedTime: latest.ModifiedTime,
				NewFileCount: len(result.NewFiles),
			},
		})
	}

	channel := record.FlowConfig.NotificationChannel
	if channel == "" {
		log.Info("no notification channel configured, watermark advanced only")
		return
	}

	if record.FlowConfig.DocumentsOnly {
		if err := p.syncs.StartSync(ctx, channel, record.UserID, true); err != nil {
			log.Warn("auto-sync after detection failed", zap.Error(err))
		}
		return
	}

	names := make([]string, 0, len(result.NewFiles))
	for _, f := range result.NewFiles {
		names = append(names, f.Name)
	}
	if len(names) == 0 {
		names = append(names, latest.Name)
	}
	if p.notifier != nil {
		text := "New documents detected: " + strings.Join(names, ", ")
		if _, err := p.notifier.PostMessage(ctx, channel, text, chat.DocumentsDetectedBlocks(names, record.UserID), ""); err != nil {
			log.Warn("failed to post detection notice", zap.Error(err))
		}
	}
}
