package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/repository"
)

const cacheTTL = 5 * time.Minute

// Resolver looks up per-user credential records with a Redis read-through
// cache in front of the store. A nil record (no error) means the user has no
// usable configuration; callers treat that as "integration not set up".
type Resolver struct {
	repo   repository.CredentialRepository
	cache  *redis.Client
	logger *zap.Logger
}

// NewResolver constructs a resolver. cache may be nil, in which case every
// lookup hits the store.
func NewResolver(repo repository.CredentialRepository, cache *redis.Client, logger *zap.Logger) *Resolver {
	return &Resolver{repo: repo, cache: cache, logger: logger}
}

func cacheKey(userID string) string {
	return fmt.Sprintf("credential:%s", userID)
}

// Resolve returns the enabled credential record for userID, or nil when the
// user has no record or the record is disabled.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*domain.CredentialRecord, error) {
	if record, ok := r.fromCache(ctx, userID); ok {
		if !record.Enabled {
			return nil, nil
		}
		return record, nil
	}

	record, err := r.repo.Get(ctx, userID)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve credentials for %s: %w", userID, err)
	}

	r.toCache(ctx, record)

	if !record.Enabled {
		return nil, nil
	}
	return record, nil
}

// Save upserts a credential record and drops any cached copy.
func (r *Resolver) Save(ctx context.Context, record *domain.CredentialRecord) error {
	if err := r.repo.Put(ctx, record); err != nil {
		return err
	}
	r.invalidate(ctx, record.UserID)
	return nil
}

// SetEnabled toggles a record and drops any cached copy.
func (r *Resolver) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	if err := r.repo.SetEnabled(ctx, userID, enabled); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

// UpdateTicketConfig replaces a user's ticket credentials.
func (r *Resolver) UpdateTicketConfig(ctx context.Context, userID string, cfg domain.TicketConfig) error {
	if err := r.repo.UpdateTicketConfig(ctx, userID, cfg); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

// UpdateDocStoreConfig replaces a user's document-store overrides.
func (r *Resolver) UpdateDocStoreConfig(ctx context.Context, userID string, cfg domain.DocStoreConfig) error {
	if err := r.repo.UpdateDocStoreConfig(ctx, userID, cfg); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

// UpdateWatermark records the last processed document for userID.
func (r *Resolver) UpdateWatermark(ctx context.Context, userID string, mark domain.Watermark) error {
	if err := r.repo.UpdateWatermark(ctx, userID, mark); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

// ListEnabled returns every enabled record, bypassing the cache. The
// scheduler uses this to enumerate users to poll.
func (r *Resolver) ListEnabled(ctx context.Context) ([]domain.CredentialRecord, error) {
	return r.repo.List(ctx, true)
}

// ListAll returns every record regardless of enablement, bypassing the cache.
func (r *Resolver) ListAll(ctx context.Context) ([]domain.CredentialRecord, error) {
	return r.repo.List(ctx, false)
}

func (r *Resolver) fromCache(ctx context.Context, userID string) (*domain.CredentialRecord, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, err := r.cache.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("credential cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, false
	}
	var record domain.CredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		r.logger.Warn("credential cache entry corrupt", zap.String("user_id", userID), zap.Error(err))
		return nil, false
	}
	return &record, true
}

func (r *Resolver) toCache(ctx context.Context, record *domain.CredentialRecord) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(record.UserID), data, cacheTTL).Err(); err != nil {
		r.logger.Warn("credential cache write failed", zap.String("user_id", record.UserID), zap.Error(err))
	}
}

func (r *Resolver) invalidate(ctx context.Context, userID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKey(userID)).Err(); err != nil {
		r.logger.Warn("credential cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}
