package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// Stats summarizes store contents for the admin surface.
type Stats struct {
	Sessions           int
	CompletedSessions  int
	PendingMarkedItems int
	TotalProposals     int
	ExecutedProposals  int
}

// StatsRepository aggregates counters across tables.
type StatsRepository interface {
	Stats(ctx context.Context) (*Stats, error)
}

type statsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository instantiates repository.
func NewStatsRepository(pool *pgxpool.Pool) StatsRepository {
	return &statsRepository{pool: pool}
}

func (r *statsRepository) Stats(ctx context.Context) (*Stats, error) {
	const query = `
        SELECT
            (SELECT COUNT(*) FROM sessions),
            (SELECT COUNT(*) FROM sessions WHERE status=$1),
            (SELECT COUNT(*) FROM marked_items WHERE session_id IS NULL),
            (SELECT COUNT(*) FROM proposals),
            (SELECT COUNT(*) FROM proposals WHERE status=$2)`
	var stats Stats
	if err := r.pool.QueryRow(ctx, query,
		domain.SessionStatusCompleted,
		domain.ProposalStatusExecuted,
	).Scan(
		&stats.Sessions,
		&stats.CompletedSessions,
		&stats.PendingMarkedItems,
		&stats.TotalProposals,
		&stats.ExecutedProposals,
	); err != nil {
		return nil, err
	}
	return &stats, nil
}
