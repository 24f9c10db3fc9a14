package domain

import "time"

// MarkKind records how a message was flagged for review.
type MarkKind string

const (
	MarkKindReaction MarkKind = "reaction"
	MarkKindCommand  MarkKind = "command"
)

// MarkedItem is a chat message flagged for inclusion in the next sync.
// (ChannelID, MessageID) is unique. Once SessionID is set the item has been
// consumed by a sync and is immutable.
type MarkedItem struct {
	ID          int64
	ChannelID   string
	MessageID   string
	ThreadID    *string
	MessageText *string
	MarkedBy    string
	MarkedAt    time.Time
	MarkKind    MarkKind
	SessionID   *string
}

// Claimed reports whether the item has already been consumed by a sync.
func (m MarkedItem) Claimed() bool {
	return m.SessionID != nil
}
