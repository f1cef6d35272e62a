package auth

import (
	"context"
	"time"

	"authservice/internal/domain"
	"authservice/internal/pkg/jwt"
)

// CredentialRepositoryInterface lists only the methods the auth service uses.
type CredentialRepositoryInterface interface {
	Create(ctx context.Context, c *domain.Credential) error
	GetByUserID(ctx context.Context, userID string) (*domain.Credential, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error
	UpgradeHash(ctx context.Context, userID, passwordHash string, now time.Time) error
}

// RefreshTokenRepositoryInterface is the refresh token store.
type RefreshTokenRepositoryInterface interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	Revoke(ctx context.Context, hash string, reason domain.RevokeReason, now time.Time) (*domain.RevokeOutcome, error)
	RevokeByUser(ctx context.Context, userID string, reason domain.RevokeReason, now time.Time) (int64, error)
	EnforceLimit(ctx context.Context, userID string, max int, now time.Time) (int64, error)
	CountActive(ctx context.Context, userID string, now time.Time) (int64, error)
}

// TxRunner runs fn in a transaction that the repositories above join through ctx.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
	NeedsRehash(hash string) bool
}

type TokenCodec interface {
	Issue(claims jwt.Claims, ttl time.Duration) (string, error)
	Verify(token string) (*jwt.Claims, error)
}
