package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// ProposalRepository encapsulates proposal persistence.
type ProposalRepository interface {
	Create(ctx context.Context, proposal *domain.Proposal) error
	CreateBatch(ctx context.Context, proposals []*domain.Proposal) error
	ListBySession(ctx context.Context, sessionID string) ([]domain.Proposal, error)
	GetByProposalID(ctx context.Context, sessionID, proposalID string) (*domain.Proposal, error)
	UpdateStatus(ctx context.Context, sessionID, proposalID string, status domain.ProposalStatus, reviewedBy string) error
	SetChatMessageID(ctx context.Context, sessionID, proposalID, chatMessageID string) error
	MarkExecuted(ctx context.Context, sessionID, proposalID, execError string) error
	CountPending(ctx context.Context, sessionID string) (int, error)
	ListApproved(ctx context.Context, sessionID string) ([]domain.Proposal, error)
}

type proposalRepository struct {
	pool *pgxpool.Pool
}

// NewProposalRepository instantiates repository.
func NewProposalRepository(pool *pgxpool.Pool) ProposalRepository {
	return &proposalRepository{pool: pool}
}

const proposalColumns = `
        id, session_id, proposal_id, ticket_key, ticket_summary, change_kind,
        field_name, current_value, proposed_value, source, source_excerpt,
        confidence, status, reviewed_by, reviewed_at, executed_at,
        execution_error, chat_message_id`

func (r *proposalRepository) Create(ctx context.Context, proposal *domain.Proposal) error {
	const query = `
        INSERT INTO proposals (session_id, proposal_id, ticket_key, ticket_summary,
            change_kind, field_name, current_value, proposed_value, source,
            source_excerpt, confidence, status, chat_message_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        RETURNING id`
	return r.pool.QueryRow(ctx, query,
		proposal.SessionID,
		proposal.ProposalID,
		proposal.TicketKey,
		proposal.TicketSummary,
		proposal.ChangeKind,
		proposal.FieldName,
		proposal.CurrentValue,
		proposal.ProposedValue,
		proposal.Source,
		proposal.SourceExcerpt,
		proposal.Confidence,
		proposal.Status,
		proposal.ChatMessageID,
	).Scan(&proposal.ID)
}

// CreateBatch inserts proposals one sync cycle at a time inside a single
// transaction so a partial analysis result is never persisted.
func (r *proposalRepository) CreateBatch(ctx context.Context, proposals []*domain.Proposal) error {
	if len(proposals) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        INSERT INTO proposals (session_id, proposal_id, ticket_key, ticket_summary,
            change_kind, field_name, current_value, proposed_value, source,
            source_excerpt, confidence, status, chat_message_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        RETURNING id`
	for _, proposal := range proposals {
		if err := tx.QueryRow(ctx, query,
			proposal.SessionID,
			proposal.ProposalID,
			proposal.TicketKey,
			proposal.TicketSummary,
			proposal.ChangeKind,
			proposal.FieldName,
			proposal.CurrentValue,
			proposal.ProposedValue,
			proposal.Source,
			proposal.SourceExcerpt,
			proposal.Confidence,
			proposal.Status,
			proposal.ChatMessageID,
		).Scan(&proposal.ID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *proposalRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE session_id=$1 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProposals(rows)
}

func (r *proposalRepository) GetByProposalID(ctx context.Context, sessionID, proposalID string) (*domain.Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE session_id=$1 AND proposal_id=$2`
	var proposal domain.Proposal
	if err := r.pool.QueryRow(ctx, query, sessionID, proposalID).Scan(proposalFields(&proposal)...); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// UpdateStatus records a reviewer decision. reviewed_at is stamped only when
// a reviewer is given; last write wins on repeat decisions.
func (r *proposalRepository) UpdateStatus(ctx context.Context, sessionID, proposalID string, status domain.ProposalStatus, reviewedBy string) error {
	if reviewedBy != "" {
		const query = `
            UPDATE proposals SET status=$1, reviewed_by=$2, reviewed_at=NOW()
            WHERE session_id=$3 AND proposal_id=$4`
		cmd, err := r.pool.Exec(ctx, query, status, reviewedBy, sessionID, proposalID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	}

	const query = `
        UPDATE proposals SET status=$1, reviewed_by=NULL, reviewed_at=NULL
        WHERE session_id=$2 AND proposal_id=$3`
	cmd, err := r.pool.Exec(ctx, query, status, sessionID, proposalID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *proposalRepository) SetChatMessageID(ctx context.Context, sessionID, proposalID, chatMessageID string) error {
	const query = `
        UPDATE proposals SET chat_message_id=$1
        WHERE session_id=$2 AND proposal_id=$3`
	_, err := r.pool.Exec(ctx, query, chatMessageID, sessionID, proposalID)
	return err
}

// MarkExecuted stamps executed_at and sets EXECUTED, or FAILED when an
// execution error is given.
func (r *proposalRepository) MarkExecuted(ctx context.Context, sessionID, proposalID, execError string) error {
	status := domain.ProposalStatusExecuted
	var errVal *string
	if execError != "" {
		status = domain.ProposalStatusFailed
		errVal = &execError
	}
	const query = `
        UPDATE proposals SET status=$1, executed_at=NOW(), execution_error=$2
        WHERE session_id=$3 AND proposal_id=$4`
	_, err := r.pool.Exec(ctx, query, status, errVal, sessionID, proposalID)
	return err
}

func (r *proposalRepository) CountPending(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM proposals WHERE session_id=$1 AND status=$2`
	var count int
	if err := r.pool.QueryRow(ctx, query, sessionID, domain.ProposalStatusPending).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *proposalRepository) ListApproved(ctx context.Context, sessionID string) ([]domain.Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE session_id=$1 AND status=$2 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, sessionID, domain.ProposalStatusApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProposals(rows)
}

func proposalFields(p *domain.Proposal) []any {
	return []any{
		&p.ID,
		&p.SessionID,
		&p.ProposalID,
		&p.TicketKey,
		&p.TicketSummary,
		&p.ChangeKind,
		&p.FieldName,
		&p.CurrentValue,
		&p.ProposedValue,
		&p.Source,
		&p.SourceExcerpt,
		&p.Confidence,
		&p.Status,
		&p.ReviewedBy,
		&p.ReviewedAt,
		&p.ExecutedAt,
		&p.ExecutionErr,
		&p.ChatMessageID,
	}
}

func scanProposals(rows pgx.Rows) ([]domain.Proposal, error) {
	var result []domain.Proposal
	for rows.Next() {
		var proposal domain.Proposal
		if err := rows.Scan(proposalFields(&proposal)...); err != nil {
			return nil, err
		}
		result = append(result, proposal)
	}
	return result, rows.Err()
}
