package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/chat"
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/repository"
	"github.com/spec-kit/ticket-agent/internal/workflow"
)

// --- fakes ---

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	seq      int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*domain.Session)}
}

func (f *fakeSessions) Create(_ context.Context, channelID, triggeredBy string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	s := &domain.Session{
		ID:          fmt.Sprintf("sess-%d", f.seq),
		ChannelID:   channelID,
		TriggeredBy: triggeredBy,
		Status:      domain.SessionStatusPending,
	}
	f.sessions[s.ID] = s
	copied := *s
	return &copied, nil
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessions) UpdateStatus(_ context.Context, id string, status domain.SessionStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	s.Status = status
	if errMessage != "" {
		s.ErrorMessage = &errMessage
	}
	return nil
}

func (f *fakeSessions) UpdateCounts(_ context.Context, id string, total, approved, rejected int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	s.TotalProposals, s.ApprovedCount, s.RejectedCount = total, approved, rejected
	return nil
}

func (f *fakeSessions) CompareAndSwapStatus(_ context.Context, id string, from, to domain.SessionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (f *fakeSessions) status(id string) domain.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id].Status
}

type fakeItems struct {
	mu    sync.Mutex
	items []domain.MarkedItem
}

func (f *fakeItems) Mark(_ context.Context, input repository.MarkInput) (*domain.MarkedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ChannelID == input.ChannelID && f.items[i].MessageID == input.MessageID {
			copied := f.items[i]
			return &copied, nil
		}
	}
	item := domain.MarkedItem{
		ID:          int64(len(f.items) + 1),
		ChannelID:   input.ChannelID,
		MessageID:   input.MessageID,
		MarkedBy:    input.MarkedBy,
		MarkKind:    input.Kind,
		ThreadID:    input.ThreadID,
		MessageText: input.MessageText,
	}
	f.items = append(f.items, item)
	copied := item
	return &copied, nil
}

func (f *fakeItems) Unmark(_ context.Context, channelID, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ChannelID == channelID && f.items[i].MessageID == messageID && f.items[i].SessionID == nil {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeItems) ListUnclaimed(_ context.Context, channelID string) ([]domain.MarkedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MarkedItem
	for _, item := range f.items {
		if item.SessionID == nil && (channelID == "" || item.ChannelID == channelID) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeItems) Claim(_ context.Context, ids []int64, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		for _, id := range ids {
			if f.items[i].ID == id {
				sid := sessionID
				f.items[i].SessionID = &sid
			}
		}
	}
	return nil
}

type fakeProposals struct {
	mu        sync.Mutex
	proposals []*domain.Proposal
}

func (f *fakeProposals) Create(_ context.Context, p *domain.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals = append(f.proposals, p)
	return nil
}

func (f *fakeProposals) CreateBatch(ctx context.Context, ps []*domain.Proposal) error {
	for _, p := range ps {
		if err := f.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProposals) ListBySession(_ context.Context, sessionID string) ([]domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Proposal
	for _, p := range f.proposals {
		if p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProposals) GetByProposalID(_ context.Context, sessionID, proposalID string) (*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.proposals {
		if p.SessionID == sessionID && p.ProposalID == proposalID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("proposal %s not found", proposalID)
}

func (f *fakeProposals) UpdateStatus(_ context.Context, sessionID, proposalID string, status domain.ProposalStatus, reviewedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.proposals {
		if p.SessionID == sessionID && p.ProposalID == proposalID {
			p.Status = status
			if reviewedBy != "" {
				p.ReviewedBy = &reviewedBy
			}
		}
	}
	return nil
}

func (f *fakeProposals) SetChatMessageID(_ context.Context, sessionID, proposalID, chatMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.proposals {
		if p.SessionID == sessionID && p.ProposalID == proposalID {
			id := chatMessageID
			p.ChatMessageID = &id
		}
	}
	return nil
}

func (f *fakeProposals) MarkExecuted(_ context.Context, sessionID, proposalID, execError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.proposals {
		if p.SessionID == sessionID && p.ProposalID == proposalID {
			if execError == "" {
				p.Status = domain.ProposalStatusExecuted
			} else {
				p.Status = domain.ProposalStatusFailed
				e := execError
				p.ExecutionErr = &e
			}
		}
	}
	return nil
}

func (f *fakeProposals) CountPending(_ context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.proposals {
		if p.SessionID == sessionID && p.Status == domain.ProposalStatusPending {
			count++
		}
	}
	return count, nil
}

func (f *fakeProposals) ListApproved(_ context.Context, sessionID string) ([]domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Proposal
	for _, p := range f.proposals {
		if p.SessionID == sessionID && p.Status == domain.ProposalStatusApproved {
			out = append(out, *p)
		}
	}
	return out, nil
}

type postedMessage struct {
	channelID string
	text      string
	blocks    []chat.Block
}

type fakeChat struct {
	mu        sync.Mutex
	posted    []postedMessage
	ephemeral []postedMessage
	updated   []postedMessage
	messages  map[string]chat.Message
	seq       int
}

func newFakeChat() *fakeChat {
	return &fakeChat{messages: make(map[string]chat.Message)}
}

func (f *fakeChat) PostMessage(_ context.Context, channelID, text string, blocks []chat.Block, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.posted = append(f.posted, postedMessage{channelID: channelID, text: text, blocks: blocks})
	return fmt.Sprintf("ts-%d", f.seq), nil
}

func (f *fakeChat) PostEphemeral(_ context.Context, channelID, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ephemeral = append(f.ephemeral, postedMessage{channelID: channelID, text: text})
	return nil
}

func (f *fakeChat) UpdateMessage(_ context.Context, channelID, _, text string, blocks []chat.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, postedMessage{channelID: channelID, text: text, blocks: blocks})
	return nil
}

func (f *fakeChat) AddReaction(context.Context, string, string, string) error    { return nil }
func (f *fakeChat) RemoveReaction(context.Context, string, string, string) error { return nil }

func (f *fakeChat) GetMessage(_ context.Context, _, timestamp string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[timestamp]
	if !ok {
		return nil, fmt.Errorf("message %s not found", timestamp)
	}
	return &msg, nil
}

func (f *fakeChat) GetThreadReplies(_ context.Context, _, timestamp string) ([]chat.Message, error) {
	return []chat.Message{
		{Text: "thread root", Timestamp: timestamp},
		{Text: "first reply"},
	}, nil
}

type gatewayCall struct {
	sessionID string
	input     map[string]any
	params    workflow.Parameters
}

type fakeGateway struct {
	mu        sync.Mutex
	calls     []gatewayCall
	responses map[string]workflow.RawResult
	errs      map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		responses: make(map[string]workflow.RawResult),
		errs:      make(map[string]error),
	}
}

func (f *fakeGateway) respondTo(command, message string) {
	f.responses[command] = workflow.RawResult{"message": message}
}

func (f *fakeGateway) RunFlow(_ context.Context, sessionID string, input any, params workflow.Parameters) (workflow.RawResult, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	command, _ := decoded["command"].(string)

	f.mu.Lock()
	f.calls = append(f.calls, gatewayCall{sessionID: sessionID, input: decoded, params: params})
	f.mu.Unlock()

	if err := f.errs[command]; err != nil {
		return nil, err
	}
	resp, ok := f.responses[command]
	if !ok {
		return nil, fmt.Errorf("unexpected command %q", command)
	}
	return resp, nil
}

func (f *fakeGateway) callCount(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.calls {
		if c.input["command"] == command {
			count++
		}
	}
	return count
}

type fakeCreds struct {
	records map[string]*domain.CredentialRecord
}

func (f *fakeCreds) Resolve(_ context.Context, userID string) (*domain.CredentialRecord, error) {
	return f.records[userID], nil
}

// --- fixtures ---

const analysisResponse = `{
	"analysis_summary": "Found two changes",
	"proposals": [
		{"proposal_id": "p-1", "ticket_key": "PROJ-1", "change_type": "update_field", "field": "status", "proposed_value": "Done"},
		{"proposal_id": "p-2", "change_type": "create_issue", "proposed_value": "New ticket for launch"}
	]
}`

const executionResponse = `{
	"executions": [
		{"proposal_id": "p-1", "success": true},
		{"proposal_id": "p-2", "success": false, "error": "permission denied"}
	]
}`

type fixture struct {
	orch     *Orchestrator
	sessions *fakeSessions
	items    *fakeItems
	props    *fakeProposals
	chat     *fakeChat
	gateway  *fakeGateway
	creds    *fakeCreds
}

func newFixture() *fixture {
	f := &fixture{
		sessions: newFakeSessions(),
		items:    &fakeItems{},
		props:    &fakeProposals{},
		chat:     newFakeChat(),
		gateway:  newFakeGateway(),
		creds: &fakeCreds{records: map[string]*domain.CredentialRecord{
			"U1": {
				UserID:       "U1",
				Enabled:      true,
				TicketConfig: domain.TicketConfig{URL: "https://tickets.example.com", APIToken: "tok"},
			},
		}},
	}
	f.orch = NewOrchestrator(OrchestratorDependencies{
		SessionRepo:  f.sessions,
		ItemRepo:     f.items,
		ProposalRepo: f.props,
		Chat:         f.chat,
		Gateway:      f.gateway,
		Credentials:  f.creds,
		ChatConfig:   config.ChatConfig{MarkEmoji: "ticket", PendingEmoji: "eyes"},
		Logger:       zap.NewNop(),
	})
	return f
}

func (f *fixture) markMessage(t *testing.T, channelID, messageID, text string) {
	t.Helper()
	_, err := f.items.Mark(context.Background(), repository.MarkInput{
		ChannelID:   channelID,
		MessageID:   messageID,
		MarkedBy:    "U1",
		Kind:        domain.MarkKindReaction,
		MessageText: &text,
	})
	require.NoError(t, err)
}

// --- tests ---

func TestStartSyncHappyPath(t *testing.T) {
	f := newFixture()
	f.markMessage(t, "C1", "m1", "decided to ship friday")
	f.markMessage(t, "C1", "m2", "assign the launch ticket to dana")
	f.gateway.respondTo("/sync", analysisResponse)

	err := f.orch.StartSync(context.Background(), "C1", "U1", false)

	require.NoError(t, err)
	require.Len(t, f.gateway.calls, 1)
	call := f.gateway.calls[0]
	assert.Equal(t, "/sync", call.input["command"])
	assert.Len(t, call.input["items"], 2)
	assert.Contains(t, call.params, "TicketReader-main")

	assert.Equal(t, domain.SessionStatusAwaitingApproval, f.sessions.status(call.sessionID))

	unclaimed, _ := f.items.ListUnclaimed(context.Background(), "C1")
	assert.Empty(t, unclaimed, "items must be claimed by the session")

	stored, _ := f.props.ListBySession(context.Background(), call.sessionID)
	require.Len(t, stored, 2)
	assert.Equal(t, "PROJ-1", stored[0].TicketKey)
	assert.Equal(t, domain.NewTicketKey, stored[1].TicketKey)
	for _, p := range stored {
		assert.NotNil(t, p.ChatMessageID)
	}
}

func TestStartSyncRejectsWithoutMarkedItems(t *testing.T) {
	f := newFixture()

	err := f.orch.StartSync(context.Background(), "C1", "U1", false)

	assert.ErrorIs(t, err, ErrNothingMarked)
	assert.Empty(t, f.gateway.calls)
	require.Len(t, f.chat.ephemeral, 1)
	assert.Contains(t, f.chat.ephemeral[0].text, "Nothing to sync")
}

func TestStartSyncDocumentsOnlyAllowsZeroItems(t *testing.T) {
	f := newFixture()
	f.gateway.respondTo("documents_only", analysisResponse)

	err := f.orch.StartSync(context.Background(), "C1", "U1", true)

	require.NoError(t, err)
	require.Len(t, f.gateway.calls, 1)
	assert.Equal(t, "documents_only", f.gateway.calls[0].input["command"])
}

func TestStartSyncRejectsUnconfiguredUser(t *testing.T) {
	f := newFixture()
	f.markMessage(t, "C1", "m1", "hello")

	err := f.orch.StartSync(context.Background(), "C1", "U-unknown", false)

	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, f.gateway.calls)
}

func TestStartSyncRejectsConcurrentRun(t *testing.T) {
	f := newFixture()
	f.markMessage(t, "C1", "m1", "hello")
	require.True(t, f.orch.tryAcquire("C1", "U1"))
	defer f.orch.release("C1", "U1")

	err := f.orch.StartSync(context.Background(), "C1", "U1", false)

	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Empty(t, f.gateway.calls)
}

func TestStartSyncTimeoutFailsSession(t *testing.T) {
	f := newFixture()
	f.markMessage(t, "C1", "m1", "hello")
	f.gateway.errs["/sync"] = &workflow.TimeoutError{Err: context.DeadlineExceeded}

	err := f.orch.StartSync(context.Background(), "C1", "U1", false)

	require.Error(t, err)
	assert.Equal(t, domain.SessionStatusFailed, f.sessions.status("sess-1"))
	session, _ := f.sessions.GetByID(context.Background(), "sess-1")
	require.NotNil(t, session.ErrorMessage)
	assert.Equal(t, "Timeout", *session.ErrorMessage)
}

func TestStartSyncUnparsableResultFailsSession(t *testing.T) {
	f := newFixture()
	f.markMessage(t, "C1", "m1", "hello")
	f.gateway.respondTo("/sync", "this is not json")

	err := f.orch.StartSync(context.Background(), "C1", "U1", false)

	require.Error(t, err)
	assert.Equal(t, domain.SessionStatusFailed, f.sessions.status("sess-1"))
}

func TestStartSyncNoProposalsCompletesImmediately(t *testing.T) {
	f := newFixture()
	f.markMessage(t, "C1", "m1", "nothing actionable here")
	f.gateway.respondTo("/sync", `{"analysis_summary": "No changes needed", "proposals": []}`)

	err := f.orch.StartSync(context.Background(), "C1", "U1", false)

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, f.sessions.status("sess-1"))
}

func runSessionToAwaitingApproval(t *testing.T, f *fixture) string {
	t.Helper()
	f.markMessage(t, "C1", "m1", "decided to ship friday")
	f.gateway.respondTo("/sync", analysisResponse)
	require.NoError(t, f.orch.StartSync(context.Background(), "C1", "U1", false))
	return f.gateway.calls[0].sessionID
}

func TestHandleDecisionDispatchesAfterLastVerdict(t *testing.T) {
	f := newFixture()
	sessionID := runSessionToAwaitingApproval(t, f)
	f.gateway.respondTo("approval_decisions", executionResponse)

	require.NoError(t, f.orch.HandleDecision(context.Background(), sessionID, "p-1", true, "U9"))
	assert.Equal(t, domain.SessionStatusAwaitingApproval, f.sessions.status(sessionID))
	assert.Equal(t, 0, f.gateway.callCount("approval_decisions"))

	require.NoError(t, f.orch.HandleDecision(context.Background(), sessionID, "p-2", false, "U9"))

	assert.Equal(t, 1, f.gateway.callCount("approval_decisions"))
	assert.Equal(t, domain.SessionStatusCompleted, f.sessions.status(sessionID))

	session, _ := f.sessions.GetByID(context.Background(), sessionID)
	assert.Equal(t, 1, session.ApprovedCount)
	assert.Equal(t, 1, session.RejectedCount)

	p1, _ := f.props.GetByProposalID(context.Background(), sessionID, "p-1")
	assert.Equal(t, domain.ProposalStatusExecuted, p1.Status)
	p2, _ := f.props.GetByProposalID(context.Background(), sessionID, "p-2")
	assert.Equal(t, domain.ProposalStatusFailed, p2.Status)
}

func TestHandleDecisionDispatchesExactlyOnce(t *testing.T) {
	f := newFixture()
	sessionID := runSessionToAwaitingApproval(t, f)
	f.gateway.respondTo("approval_decisions", executionResponse)

	require.NoError(t, f.orch.HandleDecision(context.Background(), sessionID, "p-1", true, "U9"))
	require.NoError(t, f.orch.HandleDecision(context.Background(), sessionID, "p-2", true, "U9"))
	// A duplicate verdict after dispatch must not trigger a second run.
	require.NoError(t, f.orch.HandleDecision(context.Background(), sessionID, "p-2", false, "U9"))

	assert.Equal(t, 1, f.gateway.callCount("approval_decisions"))
}

func TestHandleDecisionDispatchReusesFlowSession(t *testing.T) {
	f := newFixture()
	sessionID := runSessionToAwaitingApproval(t, f)
	f.gateway.respondTo("approval_decisions", executionResponse)

	require.NoError(t, f.orch.HandleDecision(context.Background(), sessionID, "p-1", true, "U9"))
	require.NoError(t, f.orch.HandleDecision(context.Background(), sessionID, "p-2", false, "U9"))

	for _, call := range f.gateway.calls {
		assert.Equal(t, sessionID, call.sessionID)
	}
}

func TestStartSyncAutoApproveDispatchesImmediately(t *testing.T) {
	f := newFixture()
	f.creds.records["U1"].FlowConfig.AutoApprove = true
	f.markMessage(t, "C1", "m1", "decided to ship friday")
	f.gateway.respondTo("/sync", analysisResponse)
	f.gateway.respondTo("approval_decisions", executionResponse)

	err := f.orch.StartSync(context.Background(), "C1", "U1", false)

	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.callCount("approval_decisions"))
	assert.Equal(t, domain.SessionStatusCompleted, f.sessions.status(f.gateway.calls[0].sessionID))
}
