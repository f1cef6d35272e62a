package domain

import "time"

// RevokeReason records why a refresh token left the active state.
type RevokeReason string

const (
	RevokeReasonRotated         RevokeReason = "rotated"
	RevokeReasonCompromised     RevokeReason = "compromised"
	RevokeReasonPasswordChanged RevokeReason = "password_changed"
	RevokeReasonLogout          RevokeReason = "logout"
	RevokeReasonLimitExceeded   RevokeReason = "limit_exceeded"
)

// SignalsReuse reports whether presenting a token revoked for this reason
// means someone replayed an already rotated token.
func (r RevokeReason) SignalsReuse() bool {
	return r == RevokeReasonRotated || r == RevokeReasonCompromised
}

// RefreshToken stores refresh tokens for users.
//
// Security notes:
// - We never store the raw token in DB, only its SHA-256 hash (TokenHash).
// - On refresh we rotate tokens: old token is revoked and a new one is issued.
type RefreshToken struct {
	ID     string `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID string `json:"user_id" gorm:"type:varchar(36);index:idx_refresh_tokens_user_created;not null"`

	TokenHash string `json:"-" gorm:"size:64;uniqueIndex:idx_refresh_tokens_token_hash;not null"`

	CreatedAt    time.Time     `json:"created_at" gorm:"index:idx_refresh_tokens_user_created"`
	ExpiresAt    time.Time     `json:"expires_at" gorm:"index;not null"`
	RevokedAt    *time.Time    `json:"revoked_at" gorm:"index"`
	RevokeReason *RevokeReason `json:"revoke_reason" gorm:"size:32"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// RevokedFor returns the recorded reason, or "" when the token is not revoked.
func (t *RefreshToken) RevokedFor() RevokeReason {
	if t.RevokeReason == nil {
		return ""
	}
	return *t.RevokeReason
}

// RevokeOutcome is the result of a conditional revoke by hash.
type RevokeOutcome struct {
	// Token is the row matching the hash, nil when none exists.
	Token *RefreshToken
	// Revoked is true only when this call moved the token out of the active state.
	Revoked bool
}
