package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// SessionRepository encapsulates sync-session persistence.
type SessionRepository interface {
	Create(ctx context.Context, channelID, triggeredBy string) (*domain.Session, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, errMessage string) error
	UpdateCounts(ctx context.Context, id string, total, approved, rejected int) error
	CompareAndSwapStatus(ctx context.Context, id string, from, to domain.SessionStatus) (bool, error)
}

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository instantiates repository.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

func (r *sessionRepository) Create(ctx context.Context, channelID, triggeredBy string) (*domain.Session, error) {
	session := &domain.Session{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		TriggeredBy: triggeredBy,
		Status:      domain.SessionStatusPending,
	}
	const query = `
        INSERT INTO sessions (id, channel_id, triggered_by, status)
        VALUES ($1,$2,$3,$4)
        RETURNING triggered_at`
	if err := r.pool.QueryRow(ctx, query,
		session.ID,
		session.ChannelID,
		session.TriggeredBy,
		session.Status,
	).Scan(&session.TriggeredAt); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	const query = `
        SELECT id, channel_id, triggered_by, triggered_at, status, completed_at,
               error_message, total_proposals, approved_count, rejected_count
        FROM sessions WHERE id=$1`
	var session domain.Session
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.ChannelID,
		&session.TriggeredBy,
		&session.TriggeredAt,
		&session.Status,
		&session.CompletedAt,
		&session.ErrorMessage,
		&session.TotalProposals,
		&session.ApprovedCount,
		&session.RejectedCount,
	); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateStatus transitions a session. Terminal statuses also stamp completed_at.
func (r *sessionRepository) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, errMessage string) error {
	var errVal *string
	if errMessage != "" {
		errVal = &errMessage
	}

	if status.Terminal() {
		const query = `
            UPDATE sessions SET status=$1, completed_at=NOW(), error_message=$2
            WHERE id=$3`
		cmd, err := r.pool.Exec(ctx, query, status, errVal, id)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	}

	const query = `UPDATE sessions SET status=$1 WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *sessionRepository) UpdateCounts(ctx context.Context, id string, total, approved, rejected int) error {
	const query = `
        UPDATE sessions SET total_proposals=$1, approved_count=$2, rejected_count=$3
        WHERE id=$4`
	_, err := r.pool.Exec(ctx, query, total, approved, rejected, id)
	return err
}

// CompareAndSwapStatus atomically transitions from -> to and reports whether
// this caller won the transition. Racing decision handlers use it to ensure
// the aggregate dispatch runs exactly once per session.
func (r *sessionRepository) CompareAndSwapStatus(ctx context.Context, id string, from, to domain.SessionStatus) (bool, error) {
	const query = `UPDATE sessions SET status=$1 WHERE id=$2 AND status=$3`
	cmd, err := r.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}
