package domain

import "time"

// ProposalStatus enumerates review and execution states for proposals.
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "PENDING"
	ProposalStatusApproved ProposalStatus = "APPROVED"
	ProposalStatusRejected ProposalStatus = "REJECTED"
	ProposalStatusExecuted ProposalStatus = "EXECUTED"
	ProposalStatusFailed   ProposalStatus = "FAILED"
)

// ChangeKind enumerates supported ticket change categories.
type ChangeKind string

const (
	ChangeKindUpdateField ChangeKind = "update_field"
	ChangeKindAddComment  ChangeKind = "add_comment"
	ChangeKindTransition  ChangeKind = "transition"
	ChangeKindCreateIssue ChangeKind = "create_issue"
	ChangeKindAssign      ChangeKind = "assign"
	ChangeKindSetDueDate  ChangeKind = "set_due_date"
)

// Confidence levels as reported by the workflow.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// NewTicketKey is the placeholder target key for create-new proposals.
const NewTicketKey = "NEW"

// Proposal is one suggested ticket change emitted by the LLM workflow,
// subject to human approval. (SessionID, ProposalID) is unique.
type Proposal struct {
	ID            int64
	SessionID     string
	ProposalID    string
	TicketKey     string
	TicketSummary *string
	ChangeKind    string
	FieldName     *string
	CurrentValue  *string
	ProposedValue *string
	Source        *string
	SourceExcerpt *string
	Confidence    string
	Status        ProposalStatus
	ReviewedBy    *string
	ReviewedAt    *time.Time
	ExecutedAt    *time.Time
	ExecutionErr  *string
	ChatMessageID *string
}

// Decided reports whether a reviewer has responded to the proposal.
func (p Proposal) Decided() bool {
	return p.Status != ProposalStatusPending
}
