package repository

import (
	"context"
	"fmt"
	"time"

	"authservice/internal/domain"

	"gorm.io/gorm"
)

// CredentialRepository provides DB access for password credentials.
type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create returns domain.ErrDuplicate when the user already has a credential.
func (r *CredentialRepository) Create(ctx context.Context, c *domain.Credential) error {
	err := conn(ctx, r.db).Create(c).Error
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", domain.ErrDuplicate, err)
	}
	return err
}

func (r *CredentialRepository) GetByUserID(ctx context.Context, userID string) (*domain.Credential, error) {
	var c domain.Credential
	err := conn(ctx, r.db).Where("user_id = ?", userID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdatePassword replaces the hash and returns gorm.ErrRecordNotFound when the
// user has no credential.
func (r *CredentialRepository) UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	res := conn(ctx, r.db).Model(&domain.Credential{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"password_hash":       passwordHash,
			"password_updated_at": now,
			"updated_at":          now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpgradeHash swaps in a re-hashed form of the same password; it does not
// touch password_updated_at.
func (r *CredentialRepository) UpgradeHash(ctx context.Context, userID, passwordHash string, now time.Time) error {
	return conn(ctx, r.db).Model(&domain.Credential{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"password_hash": passwordHash,
			"updated_at":    now,
		}).Error
}
