package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/chat"
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/credentials"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/events"
	"github.com/spec-kit/ticket-agent/internal/observability"
	"github.com/spec-kit/ticket-agent/internal/repository"
	"github.com/spec-kit/ticket-agent/internal/workflow"
)

// Sync start rejections surfaced to the user as ephemeral messages.
var (
	ErrSyncInProgress = errors.New("a sync is already running for this channel")
	ErrNotConfigured  = errors.New("integration is not set up for this user")
	ErrNothingMarked  = errors.New("no marked messages to sync")
)

// ChatGateway is the slice of the chat client the orchestrator needs.
type ChatGateway interface {
	PostMessage(ctx context.Context, channelID, text string, blocks []chat.Block, threadTS string) (string, error)
	PostEphemeral(ctx context.Context, channelID, userID, text string) error
	UpdateMessage(ctx context.Context, channelID, timestamp, text string, blocks []chat.Block) error
	AddReaction(ctx context.Context, channelID, timestamp, emoji string) error
	RemoveReaction(ctx context.Context, channelID, timestamp, emoji string) error
	GetMessage(ctx context.Context, channelID, timestamp string) (*chat.Message, error)
	GetThreadReplies(ctx context.Context, channelID, timestamp string) ([]chat.Message, error)
}

// FlowGateway invokes the hosted LLM workflow.
type FlowGateway interface {
	RunFlow(ctx context.Context, sessionID string, input any, extraParams workflow.Parameters) (workflow.RawResult, error)
}

// CredentialSource resolves per-user integration configuration.
type CredentialSource interface {
	Resolve(ctx context.Context, userID string) (*domain.CredentialRecord, error)
}

// Orchestrator drives the sync-session lifecycle from trigger through
// analysis, review, and aggregate decision dispatch.
type Orchestrator struct {
	sessions    repository.SessionRepository
	items       repository.MarkedItemRepository
	proposals   repository.ProposalRepository
	chat        ChatGateway
	gateway     FlowGateway
	creds       CredentialSource
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	chatCfg     config.ChatConfig
	docDefaults config.DocStoreDefaults
	logger      *zap.Logger

	mu       sync.Mutex
	inflight map[inflightKey]struct{}
}

type inflightKey struct {
	channelID string
	userID    string
}

// OrchestratorDependencies bundles collaborators for the orchestrator.
type OrchestratorDependencies struct {
	SessionRepo  repository.SessionRepository
	ItemRepo     repository.MarkedItemRepository
	ProposalRepo repository.ProposalRepository
	Chat         ChatGateway
	Gateway      FlowGateway
	Credentials  CredentialSource
	Dispatcher   events.Dispatcher
	Metrics      *observability.Metrics
	ChatConfig   config.ChatConfig
	DocDefaults  config.DocStoreDefaults
	Logger       *zap.Logger
}

// NewOrchestrator constructs the service.
func NewOrchestrator(deps OrchestratorDependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:    deps.SessionRepo,
		items:       deps.ItemRepo,
		proposals:   deps.ProposalRepo,
		chat:        deps.Chat,
		gateway:     deps.Gateway,
		creds:       deps.Credentials,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		chatCfg:     deps.ChatConfig,
		docDefaults: deps.DocDefaults,
		logger:      logger,
		inflight:    make(map[inflightKey]struct{}),
	}
}

func (o *Orchestrator) tryAcquire(channelID, userID string) bool {
	key := inflightKey{channelID: channelID, userID: userID}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[key]; busy {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(channelID, userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, inflightKey{channelID: channelID, userID: userID})
}

type syncItem struct {
	MessageID string `json:"message_id"`
	MarkedBy  string `json:"marked_by"`
	Text      string `json:"text"`
}

type syncRequest struct {
	Command string     `json:"command"`
	Items   []syncItem `json:"items"`
}

// StartSync runs one sync session end to end. It is meant to be invoked from
// a goroutine after the triggering request has been acknowledged; user-facing
// feedback goes through ephemeral messages, and the returned error is for the
// caller's log.
func (o *Orchestrator) StartSync(ctx context.Context, channelID, userID string, documentsOnly bool) error {
	if !o.tryAcquire(channelID, userID) {
		o.notifyEphemeral(ctx, channelID, userID, ":hourglass: A sync is already running in this channel. Wait for it to finish.")
		return ErrSyncInProgress
	}
	defer o.release(channelID, userID)

	record, err := o.creds.Resolve(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	if record == nil {
		o.notifyEphemeral(ctx, channelID, userID, "Your integration is not set up yet. Run `/agent setup` first.")
		return ErrNotConfigured
	}
	if record.FlowConfig.DocumentsOnly {
		documentsOnly = true
	}

	items, err := o.items.ListUnclaimed(ctx, channelID)
	if err != nil {
		return fmt.Errorf("list marked items: %w", err)
	}
	if len(items) == 0 && !documentsOnly {
		o.notifyEphemeral(ctx, channelID, userID, "Nothing to sync: mark messages with :"+o.chatCfg.MarkEmoji+": first, or run a documents-only sync.")
		return ErrNothingMarked
	}

	session, err := o.sessions.Create(ctx, channelID, userID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	log := o.logger.With(zap.String("session_id", session.ID), zap.String("channel_id", channelID))
	log.Info("sync session started", zap.Int("marked_items", len(items)), zap.Bool("documents_only", documentsOnly))

	o.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventSessionStarted,
		SessionID: session.ID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   events.SessionStartedPayload{ChannelID: channelID, ItemCount: len(items), Command: commandName(documentsOnly)},
	})

	o.notifyChannel(ctx, channelID, fmt.Sprintf(":arrows_counterclockwise: Analyzing %d marked message(s)…", len(items)))

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if err := o.items.Claim(ctx, ids, session.ID); err != nil {
		return o.failSession(ctx, session, "claim marked items: "+err.Error())
	}
	if err := o.sessions.UpdateStatus(ctx, session.ID, domain.SessionStatusProcessing, ""); err != nil {
		return o.failSession(ctx, session, "transition to processing: "+err.Error())
	}

	request := syncRequest{Command: commandName(documentsOnly)}
	for _, item := range items {
		request.Items = append(request.Items, syncItem{
			MessageID: item.MessageID,
			MarkedBy:  item.MarkedBy,
			Text:      o.itemText(ctx, item),
		})
	}

	params := credentials.BuildFlowParameters(record, o.docDefaults)
	raw, err := o.gateway.RunFlow(ctx, session.ID, request, params)
	o.recordWorkflowCall(request.Command, err == nil)
	if err != nil {
		var timeoutErr *workflow.TimeoutError
		if errors.As(err, &timeoutErr) {
			o.notifyChannel(ctx, channelID, ":warning: The analysis is taking longer than expected and was abandoned. Run the sync again.")
			return o.failSession(ctx, session, "Timeout")
		}
		o.notifyChannel(ctx, channelID, ":warning: The analysis service is unavailable. Try again later.")
		return o.failSession(ctx, session, "workflow call: "+err.Error())
	}

	result := workflow.Parse(raw)
	if result.Err != "" {
		o.notifyChannel(ctx, channelID, ":warning: The analysis returned an unreadable result. Try again later.")
		return o.failSession(ctx, session, "parse workflow result: "+result.Err)
	}

	if len(result.Proposals) == 0 {
		if err := o.sessions.UpdateStatus(ctx, session.ID, domain.SessionStatusCompleted, ""); err != nil {
			return o.failSession(ctx, session, "complete session: "+err.Error())
		}
		o.recordOutcome(domain.SessionStatusCompleted)
		o.notifyChannel(ctx, channelID, chat.SummaryText(result.Summary, 0))
		o.publishCompleted(ctx, session.ID, userID, 0, 0, 0, 0)
		log.Info("sync session completed with no proposals")
		return nil
	}

	proposals := draftsToProposals(session.ID, result.Proposals)
	if err := o.proposals.CreateBatch(ctx, proposals); err != nil {
		return o.failSession(ctx, session, "store proposals: "+err.Error())
	}
	if err := o.sessions.UpdateCounts(ctx, session.ID, len(proposals), 0, 0); err != nil {
		return o.failSession(ctx, session, "record proposal count: "+err.Error())
	}
	if err := o.sessions.UpdateStatus(ctx, session.ID, domain.SessionStatusAwaitingApproval, ""); err != nil {
		return o.failSession(ctx, session, "transition to awaiting approval: "+err.Error())
	}

	o.notifyChannel(ctx, channelID, chat.SummaryText(result.Summary, len(proposals)))
	for _, p := range proposals {
		ts, err := o.chat.PostMessage(ctx, channelID, "Proposed change for "+p.TicketKey, chat.ProposalBlocks(*p), "")
		if err != nil {
			log.Warn("failed to post proposal message", zap.String("proposal_id", p.ProposalID), zap.Error(err))
			continue
		}
		if err := o.proposals.SetChatMessageID(ctx, session.ID, p.ProposalID, ts); err != nil {
			log.Warn("failed to record proposal message id", zap.String("proposal_id", p.ProposalID), zap.Error(err))
		}
	}
	log.Info("proposals posted for review", zap.Int("count", len(proposals)))

	if record.FlowConfig.AutoApprove {
		log.Info("auto-approve enabled, approving all proposals")
		for _, p := range proposals {
			if err := o.HandleDecision(ctx, session.ID, p.ProposalID, true, userID); err != nil {
				log.Warn("auto-approve decision failed", zap.String("proposal_id", p.ProposalID), zap.Error(err))
			}
		}
	}
	return nil
}

func commandName(documentsOnly bool) string {
	if documentsOnly {
		return "documents_only"
	}
	return "/sync"
}

// itemText resolves the text to analyze for one marked item. Thread roots
// expand to the full thread joined with separators.
func (o *Orchestrator) itemText(ctx context.Context, item domain.MarkedItem) string {
	if item.ThreadID != nil && *item.ThreadID != "" {
		replies, err := o.chat.GetThreadReplies(ctx, item.ChannelID, *item.ThreadID)
		if err == nil && len(replies) > 0 {
			texts := make([]string, 0, len(replies))
			for _, m := range replies {
				if m.Text != "" {
					texts = append(texts, m.Text)
				}
			}
			return strings.Join(texts, "\n---\n")
		}
		o.logger.Warn("failed to expand thread, falling back to stored text",
			zap.String("message_id", item.MessageID), zap.Error(err))
	}
	if item.MessageText != nil {
		return *item.MessageText
	}
	msg, err := o.chat.GetMessage(ctx, item.ChannelID, item.MessageID)
	if err != nil {
		o.logger.Warn("failed to fetch marked message text", zap.String("message_id", item.MessageID), zap.Error(err))
		return ""
	}
	return msg.Text
}

func draftsToProposals(sessionID string, drafts []workflow.ProposalDraft) []*domain.Proposal {
	proposals := make([]*domain.Proposal, 0, len(drafts))
	for i, d := range drafts {
		p := &domain.Proposal{
			SessionID:  sessionID,
			ProposalID: d.ProposalID,
			TicketKey:  d.TicketKey,
			ChangeKind: d.ChangeKind,
			Confidence: d.Confidence,
			Status:     domain.ProposalStatusPending,
		}
		if p.ProposalID == "" {
			p.ProposalID = fmt.Sprintf("p-%d", i+1)
		}
		if p.TicketKey == "" {
			p.TicketKey = domain.NewTicketKey
		}
		if p.ChangeKind == "" {
			p.ChangeKind = string(domain.ChangeKindUpdateField)
		}
		if p.Confidence == "" {
			p.Confidence = domain.ConfidenceMedium
		}
		setOptional(&p.TicketSummary, d.TicketSummary)
		setOptional(&p.FieldName, d.FieldName)
		setOptional(&p.CurrentValue, d.CurrentValue)
		setOptional(&p.ProposedValue, d.ProposedValueString())
		setOptional(&p.Source, d.Source)
		setOptional(&p.SourceExcerpt, d.SourceExcerpt)
		proposals = append(proposals, p)
	}
	return proposals
}

func setOptional(dst **string, value string) {
	if value != "" {
		v := value
		*dst = &v
	}
}

type decision struct {
	ProposalID    string `json:"proposal_id"`
	TicketKey     string `json:"ticket_key"`
	ChangeKind    string `json:"change_type"`
	FieldName     string `json:"field_name,omitempty"`
	ProposedValue string `json:"proposed_value,omitempty"`
	Decision      string `json:"decision"`
	ReviewedBy    string `json:"reviewed_by,omitempty"`
}

type decisionRequest struct {
	Command   string     `json:"command"`
	Decisions []decision `json:"decisions"`
}

type executionReport struct {
	Executions []struct {
		ProposalID string `json:"proposal_id"`
		Success    bool   `json:"success"`
		Error      string `json:"error"`
	} `json:"executions"`
}

// HandleDecision records one reviewer verdict. When it is the last open
// proposal of the session, the aggregate decision set is dispatched to the
// workflow exactly once.
func (o *Orchestrator) HandleDecision(ctx context.Context, sessionID, proposalID string, approved bool, reviewerID string) error {
	status := domain.ProposalStatusRejected
	if approved {
		status = domain.ProposalStatusApproved
	}
	if err := o.proposals.UpdateStatus(ctx, sessionID, proposalID, status, reviewerID); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}

	p, err := o.proposals.GetByProposalID(ctx, sessionID, proposalID)
	if err != nil {
		return fmt.Errorf("load proposal: %w", err)
	}
	o.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventProposalDecided,
		SessionID: sessionID,
		UserID:    reviewerID,
		Timestamp: time.Now().UTC(),
		Payload: events.ProposalDecidedPayload{
			ProposalID: proposalID,
			TicketKey:  p.TicketKey,
			Status:     status,
			ReviewedBy: reviewerID,
		},
	})

	session, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if p.ChatMessageID != nil {
		verdict := "Rejected"
		if approved {
			verdict = "Approved"
		}
		if err := o.chat.UpdateMessage(ctx, session.ChannelID, *p.ChatMessageID, verdict+" proposal for "+p.TicketKey, chat.DecidedBlocks(*p, reviewerID)); err != nil {
			o.logger.Warn("failed to update proposal message", zap.String("proposal_id", proposalID), zap.Error(err))
		}
	}

	pending, err := o.proposals.CountPending(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("count pending proposals: %w", err)
	}
	if pending > 0 {
		return nil
	}

	// CAS guards against two concurrent final decisions both dispatching.
	swapped, err := o.sessions.CompareAndSwapStatus(ctx, sessionID, domain.SessionStatusAwaitingApproval, domain.SessionStatusDispatching)
	if err != nil {
		return fmt.Errorf("claim dispatch: %w", err)
	}
	if !swapped {
		return nil
	}
	return o.dispatchDecisions(ctx, session)
}

// dispatchDecisions sends the full decision set to the workflow on the
// session's existing flow session, applies the execution report, and closes
// the session.
func (o *Orchestrator) dispatchDecisions(ctx context.Context, session *domain.Session) error {
	all, err := o.proposals.ListBySession(ctx, session.ID)
	if err != nil {
		return o.failSession(ctx, session, "list proposals for dispatch: "+err.Error())
	}

	request := decisionRequest{Command: "approval_decisions"}
	approvedCount, rejectedCount := 0, 0
	for _, p := range all {
		verdict := "rejected"
		if p.Status == domain.ProposalStatusApproved {
			verdict = "approved"
			approvedCount++
		} else {
			rejectedCount++
		}
		d := decision{
			ProposalID: p.ProposalID,
			TicketKey:  p.TicketKey,
			ChangeKind: p.ChangeKind,
			Decision:   verdict,
		}
		if p.FieldName != nil {
			d.FieldName = *p.FieldName
		}
		if p.ProposedValue != nil {
			d.ProposedValue = *p.ProposedValue
		}
		if p.ReviewedBy != nil {
			d.ReviewedBy = *p.ReviewedBy
		}
		request.Decisions = append(request.Decisions, d)
	}

	log := o.logger.With(zap.String("session_id", session.ID))
	log.Info("dispatching decisions", zap.Int("approved", approvedCount), zap.Int("rejected", rejectedCount))

	// The writer slot needs credentials again: flow sessions do not retain
	// component overrides across invocations.
	var params workflow.Parameters
	if record, err := o.creds.Resolve(ctx, session.TriggeredBy); err == nil && record != nil {
		params = credentials.BuildFlowParameters(record, o.docDefaults)
	}

	raw, err := o.gateway.RunFlow(ctx, session.ID, request, params)
	o.recordWorkflowCall(request.Command, err == nil)
	if err != nil {
		o.notifyChannel(ctx, session.ChannelID, ":warning: Failed to execute the approved changes. The decisions were recorded; contact an admin.")
		return o.failSession(ctx, session, "dispatch decisions: "+err.Error())
	}

	executed, failed := 0, 0
	var report executionReport
	if err := workflow.Decode(raw, &report); err != nil {
		log.Warn("unreadable execution report, assuming approved changes applied", zap.Error(err))
		executed = approvedCount
	} else {
		for _, ex := range report.Executions {
			if ex.Success {
				executed++
			} else {
				failed++
			}
			if err := o.proposals.MarkExecuted(ctx, session.ID, ex.ProposalID, ex.Error); err != nil {
				log.Warn("failed to record execution outcome", zap.String("proposal_id", ex.ProposalID), zap.Error(err))
			}
		}
	}

	if err := o.sessions.UpdateCounts(ctx, session.ID, session.TotalProposals, approvedCount, rejectedCount); err != nil {
		return o.failSession(ctx, session, "record decision counts: "+err.Error())
	}
	if err := o.sessions.UpdateStatus(ctx, session.ID, domain.SessionStatusCompleted, ""); err != nil {
		return o.failSession(ctx, session, "complete session: "+err.Error())
	}
	o.recordOutcome(domain.SessionStatusCompleted)
	o.notifyChannel(ctx, session.ChannelID, chat.DispatchSummaryText(approvedCount, rejectedCount, executed, failed))
	o.publishCompleted(ctx, session.ID, session.TriggeredBy, approvedCount, rejectedCount, executed, failed)
	log.Info("sync session completed", zap.Int("executed", executed), zap.Int("failed", failed))
	return nil
}

func (o *Orchestrator) failSession(ctx context.Context, session *domain.Session, reason string) error {
	if err := o.sessions.UpdateStatus(ctx, session.ID, domain.SessionStatusFailed, reason); err != nil {
		o.logger.Error("failed to mark session failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	o.recordOutcome(domain.SessionStatusFailed)
	o.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventSessionFailed,
		SessionID: session.ID,
		UserID:    session.TriggeredBy,
		Timestamp: time.Now().UTC(),
		Payload:   events.SessionFailedPayload{Reason: reason},
	})
	o.logger.Error("sync session failed", zap.String("session_id", session.ID), zap.String("reason", reason))
	return errors.New(reason)
}

func (o *Orchestrator) publishCompleted(ctx context.Context, sessionID, userID string, approved, rejected, executed, failed int) {
	o.publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventSessionCompleted,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload: events.SessionCompletedPayload{
			ApprovedCount: approved,
			RejectedCount: rejected,
			ExecutedCount: executed,
			FailedCount:   failed,
		},
	})
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if o.dispatcher == nil {
		return
	}
	if err := o.dispatcher.Publish(ctx, event); err != nil {
		o.logger.Warn("event publication failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func (o *Orchestrator) recordOutcome(status domain.SessionStatus) {
	if o.metrics != nil {
		o.metrics.RecordSessionOutcome(string(status))
	}
}

func (o *Orchestrator) recordWorkflowCall(command string, ok bool) {
	if o.metrics != nil {
		o.metrics.RecordWorkflowCall(command, ok)
	}
}

func (o *Orchestrator) notifyChannel(ctx context.Context, channelID, text string) {
	if _, err := o.chat.PostMessage(ctx, channelID, text, nil, ""); err != nil {
		o.logger.Warn("failed to post channel message", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (o *Orchestrator) notifyEphemeral(ctx context.Context, channelID, userID, text string) {
	if err := o.chat.PostEphemeral(ctx, channelID, userID, text); err != nil {
		o.logger.Warn("failed to post ephemeral message", zap.String("channel_id", channelID), zap.Error(err))
	}
}
