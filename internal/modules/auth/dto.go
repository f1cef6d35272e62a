package auth

import "time"

// TokenRequest is the OAuth2 password grant form; username carries the email.
type TokenRequest struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

type RegisterRequest struct {
	Username string `form:"username" json:"username" binding:"required,email"`
	Password string `form:"password" json:"password" binding:"required,min=8"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

type TokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type SelfResponse struct {
	ID             string     `json:"id"`
	LoggedInAt     *time.Time `json:"logged_in_at,omitempty"`
	ActiveSessions int64      `json:"active_sessions"`
}

func toTokenPairResponse(p *TokenPair) TokenPairResponse {
	return TokenPairResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
	}
}
