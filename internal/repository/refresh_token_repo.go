package repository

import (
	"context"
	"errors"
	"time"

	"authservice/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefreshTokenRepository provides DB access for refresh tokens.
type RefreshTokenRepository struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	return conn(ctx, r.db).Create(t).Error
}

// GetByHash returns the token regardless of its revoked state.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := conn(ctx, r.db).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Revoke moves the active token with the given hash to the revoked state.
//
// The state change is one conditional UPDATE ... RETURNING, so of two
// concurrent callers presenting the same token only one observes
// Revoked == true. When nothing was updated the row is read to tell a missing
// token from a reused or expired one.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, hash string, reason domain.RevokeReason, now time.Time) (*domain.RevokeOutcome, error) {
	db := conn(ctx, r.db)

	var revoked domain.RefreshToken
	res := db.Model(&revoked).
		Clauses(clause.Returning{}).
		Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", hash, now).
		Updates(map[string]any{
			"revoked_at":    now,
			"revoke_reason": string(reason),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return &domain.RevokeOutcome{Token: &revoked, Revoked: true}, nil
	}

	var t domain.RefreshToken
	if err := db.Where("token_hash = ?", hash).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &domain.RevokeOutcome{}, nil
		}
		return nil, err
	}
	return &domain.RevokeOutcome{Token: &t}, nil
}

// RevokeByUser revokes every token of the user that is not revoked yet.
func (r *RefreshTokenRepository) RevokeByUser(ctx context.Context, userID string, reason domain.RevokeReason, now time.Time) (int64, error) {
	res := conn(ctx, r.db).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{
			"revoked_at":    now,
			"revoke_reason": string(reason),
		})
	return res.RowsAffected, res.Error
}

// EnforceLimit locks the user's active tokens and revokes all but the newest
// max-1, leaving room for one insert. It must run in the same transaction as
// that insert.
func (r *RefreshTokenRepository) EnforceLimit(ctx context.Context, userID string, max int, now time.Time) (int64, error) {
	if max < 1 {
		max = 1
	}
	db := conn(ctx, r.db)

	if err := lockUser(db, userID); err != nil {
		return 0, err
	}

	var active []domain.RefreshToken
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Order("created_at DESC").
		Find(&active).Error
	if err != nil {
		return 0, err
	}
	if len(active) < max {
		return 0, nil
	}

	ids := make([]string, 0, len(active)-max+1)
	for _, t := range active[max-1:] {
		ids = append(ids, t.ID)
	}
	res := db.Model(&domain.RefreshToken{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"revoked_at":    now,
			"revoke_reason": string(domain.RevokeReasonLimitExceeded),
		})
	return res.RowsAffected, res.Error
}

func (r *RefreshTokenRepository) CountActive(ctx context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := conn(ctx, r.db).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Count(&n).Error
	return n, err
}

// DeleteStale removes expired tokens and tokens revoked more than retention ago.
func (r *RefreshTokenRepository) DeleteStale(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	res := conn(ctx, r.db).
		Where("expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)", now, now.Add(-retention)).
		Delete(&domain.RefreshToken{})
	return res.RowsAffected, res.Error
}

// lockUser holds a per-user lock until the surrounding transaction ends.
//
// FOR UPDATE only covers rows that already exist: two logins that both start
// with max-1 active tokens would each lock the same rows, miss the other's
// insert and end with max+1. On Postgres an advisory lock keyed by the user
// closes that gap. SQLite runs on a single connection, so writers are
// already serialised.
func lockUser(db *gorm.DB, userID string) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", userID).Error
}
