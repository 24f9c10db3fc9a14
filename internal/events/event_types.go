package events

import (
	"time"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventSessionCompleted  EventType = "session_completed"
	EventSessionFailed     EventType = "session_failed"
	EventProposalDecided   EventType = "proposal_decided"
	EventDocumentsDetected EventType = "documents_detected"
)

// Event represents a lifecycle event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SessionStartedPayload payload.
type SessionStartedPayload struct {
	ChannelID string `json:"channel_id"`
	ItemCount int    `json:"item_count"`
	Command   string `json:"command"`
}

// SessionCompletedPayload payload.
type SessionCompletedPayload struct {
	ApprovedCount int `json:"approved_count"`
	RejectedCount int `json:"rejected_count"`
	ExecutedCount int `json:"executed_count"`
	FailedCount   int `json:"failed_count"`
}

// SessionFailedPayload payload.
type SessionFailedPayload struct {
	Reason string `json:"reason"`
}

// ProposalDecidedPayload payload.
type ProposalDecidedPayload struct {
	ProposalID string                `json:"proposal_id"`
	TicketKey  string                `json:"ticket_key"`
	Status     domain.ProposalStatus `json:"status"`
	ReviewedBy string                `json:"reviewed_by"`
}

// DocumentsDetectedPayload payload.
type DocumentsDetectedPayload struct {
	FileID       string `json:"file_id"`
	FileName     string `json:"file_name"`
	ModifiedTime string `json:"modified_time"`
	NewFileCount int    `json:"new_file_count"`
}
