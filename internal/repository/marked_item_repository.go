package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// MarkInput describes a mark request.
type MarkInput struct {
	ChannelID   string
	MessageID   string
	MarkedBy    string
	Kind        domain.MarkKind
	ThreadID    *string
	MessageText *string
}

// MarkedItemRepository encapsulates marked-item persistence.
type MarkedItemRepository interface {
	Mark(ctx context.Context, input MarkInput) (*domain.MarkedItem, error)
	Unmark(ctx context.Context, channelID, messageID string) (bool, error)
	ListUnclaimed(ctx context.Context, channelID string) ([]domain.MarkedItem, error)
	Claim(ctx context.Context, ids []int64, sessionID string) error
}

type markedItemRepository struct {
	pool *pgxpool.Pool
}

// NewMarkedItemRepository instantiates repository.
func NewMarkedItemRepository(pool *pgxpool.Pool) MarkedItemRepository {
	return &markedItemRepository{pool: pool}
}

// Mark inserts a marked item. Re-marking an already-marked message is a
// no-op: ON CONFLICT leaves the original row intact and the stored row is
// returned either way.
func (r *markedItemRepository) Mark(ctx context.Context, input MarkInput) (*domain.MarkedItem, error) {
	const insert = `
        INSERT INTO marked_items (channel_id, message_id, thread_id, message_text, marked_by, mark_kind)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (channel_id, message_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, insert,
		input.ChannelID,
		input.MessageID,
		input.ThreadID,
		input.MessageText,
		input.MarkedBy,
		input.Kind,
	); err != nil {
		return nil, err
	}

	const query = `
        SELECT id, channel_id, message_id, thread_id, message_text, marked_by,
               marked_at, mark_kind, session_id
        FROM marked_items WHERE channel_id=$1 AND message_id=$2`
	var item domain.MarkedItem
	if err := r.pool.QueryRow(ctx, query, input.ChannelID, input.MessageID).Scan(
		&item.ID,
		&item.ChannelID,
		&item.MessageID,
		&item.ThreadID,
		&item.MessageText,
		&item.MarkedBy,
		&item.MarkedAt,
		&item.MarkKind,
		&item.SessionID,
	); err != nil {
		return nil, err
	}
	return &item, nil
}

// Unmark deletes the item only while it is unclaimed. Returns whether a row
// was removed.
func (r *markedItemRepository) Unmark(ctx context.Context, channelID, messageID string) (bool, error) {
	const query = `
        DELETE FROM marked_items
        WHERE channel_id=$1 AND message_id=$2 AND session_id IS NULL`
	cmd, err := r.pool.Exec(ctx, query, channelID, messageID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// ListUnclaimed returns unconsumed items oldest-first. An empty channelID
// lists across all channels.
func (r *markedItemRepository) ListUnclaimed(ctx context.Context, channelID string) ([]domain.MarkedItem, error) {
	const base = `
        SELECT id, channel_id, message_id, thread_id, message_text, marked_by,
               marked_at, mark_kind, session_id
        FROM marked_items WHERE session_id IS NULL`

	var (
		rows pgx.Rows
		err  error
	)
	if channelID != "" {
		rows, err = r.pool.Query(ctx, base+` AND channel_id=$1 ORDER BY marked_at ASC`, channelID)
	} else {
		rows, err = r.pool.Query(ctx, base+` ORDER BY marked_at ASC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.MarkedItem
	for rows.Next() {
		var item domain.MarkedItem
		if err := rows.Scan(
			&item.ID,
			&item.ChannelID,
			&item.MessageID,
			&item.ThreadID,
			&item.MessageText,
			&item.MarkedBy,
			&item.MarkedAt,
			&item.MarkKind,
			&item.SessionID,
		); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// Claim bulk-assigns the owning session. No-op on empty input.
func (r *markedItemRepository) Claim(ctx context.Context, ids []int64, sessionID string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE marked_items SET session_id=$1 WHERE id = ANY($2)`
	_, err := r.pool.Exec(ctx, query, sessionID, ids)
	return err
}
