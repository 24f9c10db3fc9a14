package domain

import "time"

// SessionStatus enumerates lifecycle states for sync sessions.
type SessionStatus string

const (
	SessionStatusPending          SessionStatus = "PENDING"
	SessionStatusProcessing       SessionStatus = "PROCESSING"
	SessionStatusAwaitingApproval SessionStatus = "AWAITING_APPROVAL"
	SessionStatusDispatching      SessionStatus = "DISPATCHING"
	SessionStatusCompleted        SessionStatus = "COMPLETED"
	SessionStatusFailed           SessionStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session is one end-to-end sync cycle from trigger to completion or failure.
// Sessions are never deleted; they are the audit trail.
type Session struct {
	ID             string
	ChannelID      string
	TriggeredBy    string
	TriggeredAt    time.Time
	Status         SessionStatus
	CompletedAt    *time.Time
	ErrorMessage   *string
	TotalProposals int
	ApprovedCount  int
	RejectedCount  int
}
