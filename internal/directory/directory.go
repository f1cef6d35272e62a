// Package directory talks to the users service, the owner of user identity
// records. The auth service only needs two lookups from it.
package directory

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("directory: user not found")
	ErrAlreadyExists   = errors.New("directory: user already exists")
	ErrInvalidArgument = errors.New("directory: invalid argument")
	ErrUnavailable     = errors.New("directory: unavailable")
)

// User is the directory's view of a user relevant to authentication.
type User struct {
	ID         string
	IsActive   bool
	IsVerified bool
}

// Eligible reports whether the user may sign in.
func (u *User) Eligible() bool {
	return u.IsActive && u.IsVerified
}

// Client resolves and creates users by email.
type Client interface {
	// GetUserByEmail returns ErrNotFound for unknown emails.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// CreateUserByEmail returns ErrAlreadyExists or ErrInvalidArgument on rejection.
	CreateUserByEmail(ctx context.Context, email string) (*User, error)
}
