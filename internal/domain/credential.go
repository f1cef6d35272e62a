package domain

import "time"

// Credential holds the password hash of a user owned by the users directory.
// There is exactly one credential per user and it is never deleted.
type Credential struct {
	ID                string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID            string    `json:"user_id" gorm:"type:varchar(36);uniqueIndex:idx_credentials_user_id;not null"`
	PasswordHash      string    `json:"-" gorm:"size:255;not null"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	PasswordUpdatedAt time.Time `json:"password_updated_at"`
}

func (Credential) TableName() string { return "credentials" }
