package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// ErrCredentialNotFound is returned when no record exists for a user.
var ErrCredentialNotFound = errors.New("credential record not found")

// CredentialRepository stores per-user integration configuration.
type CredentialRepository interface {
	Put(ctx context.Context, record *domain.CredentialRecord) error
	Get(ctx context.Context, userID string) (*domain.CredentialRecord, error)
	List(ctx context.Context, enabledOnly bool) ([]domain.CredentialRecord, error)
	SetEnabled(ctx context.Context, userID string, enabled bool) error
	UpdateTicketConfig(ctx context.Context, userID string, cfg domain.TicketConfig) error
	UpdateDocStoreConfig(ctx context.Context, userID string, cfg domain.DocStoreConfig) error
	UpdateWatermark(ctx context.Context, userID string, mark domain.Watermark) error
}

type credentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository instantiates repository.
func NewCredentialRepository(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepository{pool: pool}
}

const credentialColumns = `
        user_id, name, email, enabled, ticket_config, doc_store_config,
        flow_config, last_processed, created_at, updated_at`

// Put inserts or fully replaces a record, preserving created_at on upsert.
func (r *credentialRepository) Put(ctx context.Context, record *domain.CredentialRecord) error {
	ticketCfg, err := json.Marshal(record.TicketConfig)
	if err != nil {
		return fmt.Errorf("marshal ticket config: %w", err)
	}
	docCfg, err := json.Marshal(record.DocStore)
	if err != nil {
		return fmt.Errorf("marshal doc store config: %w", err)
	}
	flowCfg, err := json.Marshal(record.FlowConfig)
	if err != nil {
		return fmt.Errorf("marshal flow config: %w", err)
	}
	last, err := json.Marshal(record.LastProcessed)
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}

	const query = `
        INSERT INTO credential_records
            (user_id, name, email, enabled, ticket_config, doc_store_config, flow_config, last_processed)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (user_id) DO UPDATE SET
            name=EXCLUDED.name,
            email=EXCLUDED.email,
            enabled=EXCLUDED.enabled,
            ticket_config=EXCLUDED.ticket_config,
            doc_store_config=EXCLUDED.doc_store_config,
            flow_config=EXCLUDED.flow_config,
            last_processed=EXCLUDED.last_processed,
            updated_at=NOW()
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		record.UserID,
		record.Name,
		record.Email,
		record.Enabled,
		ticketCfg,
		docCfg,
		flowCfg,
		last,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
}

func (r *credentialRepository) Get(ctx context.Context, userID string) (*domain.CredentialRecord, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credential_records WHERE user_id=$1`
	record, err := scanCredential(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return record, nil
}

func (r *credentialRepository) List(ctx context.Context, enabledOnly bool) ([]domain.CredentialRecord, error) {
	query := `SELECT ` + credentialColumns + ` FROM credential_records`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY user_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CredentialRecord
	for rows.Next() {
		record, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	return result, rows.Err()
}

func (r *credentialRepository) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	const query = `UPDATE credential_records SET enabled=$1, updated_at=NOW() WHERE user_id=$2`
	cmd, err := r.pool.Exec(ctx, query, enabled, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (r *credentialRepository) UpdateTicketConfig(ctx context.Context, userID string, cfg domain.TicketConfig) error {
	return r.updateColumn(ctx, userID, "ticket_config", cfg)
}

func (r *credentialRepository) UpdateDocStoreConfig(ctx context.Context, userID string, cfg domain.DocStoreConfig) error {
	return r.updateColumn(ctx, userID, "doc_store_config", cfg)
}

// UpdateWatermark persists the last-processed document pointer as a single
// atomic row update.
func (r *credentialRepository) UpdateWatermark(ctx context.Context, userID string, mark domain.Watermark) error {
	return r.updateColumn(ctx, userID, "last_processed", mark)
}

func (r *credentialRepository) updateColumn(ctx context.Context, userID, column string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", column, err)
	}
	query := fmt.Sprintf(`UPDATE credential_records SET %s=$1, updated_at=NOW() WHERE user_id=$2`, column)
	cmd, err := r.pool.Exec(ctx, query, payload, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func scanCredential(row pgx.Row) (*domain.CredentialRecord, error) {
	var (
		record   domain.CredentialRecord
		ticket   []byte
		docStore []byte
		flow     []byte
		last     []byte
	)
	if err := row.Scan(
		&record.UserID,
		&record.Name,
		&record.Email,
		&record.Enabled,
		&ticket,
		&docStore,
		&flow,
		&last,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ticket, &record.TicketConfig); err != nil {
		return nil, fmt.Errorf("decode ticket config: %w", err)
	}
	if err := json.Unmarshal(docStore, &record.DocStore); err != nil {
		return nil, fmt.Errorf("decode doc store config: %w", err)
	}
	if err := json.Unmarshal(flow, &record.FlowConfig); err != nil {
		return nil, fmt.Errorf("decode flow config: %w", err)
	}
	if err := json.Unmarshal(last, &record.LastProcessed); err != nil {
		return nil, fmt.Errorf("decode watermark: %w", err)
	}
	return &record, nil
}
