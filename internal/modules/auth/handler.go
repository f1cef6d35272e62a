package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"authservice/internal/middleware"
	"authservice/internal/pkg/response"
	"authservice/internal/pkg/validator"

	"github.com/gin-gonic/gin"
)

// Handler manages all HTTP interactions for authentication
type Handler struct {
	service *Service
	log     *slog.Logger
}

// NewHandler creates a new auth handler with injected service
func NewHandler(service *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{service: service, log: log}
}

func (h *Handler) RegisterPublicRoutes(r gin.IRouter) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/token", h.Token)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/register", h.Register)
	}
}

// RegisterProtectedRoutes expects protected to already run middleware.JWTAuth.
func (h *Handler) RegisterProtectedRoutes(protected gin.IRouter) {
	authGroup := protected.Group("/auth")
	{
		authGroup.POST("/change-password", h.ChangePassword)
		authGroup.POST("/logout", h.Logout)
		authGroup.GET("/self", h.Self)
	}
}

// Token exchanges an email/password pair for an access and refresh token.
// @Summary		Sign in
// @Tags		Auth
// @Accept		x-www-form-urlencoded
// @Param		username	formData	string	true	"Email"
// @Param		password	formData	string	true	"Password"
// @Success		200	{object}	TokenPairResponse
// @Failure		400,401,403,503	{object}	map[string]interface{}
// @Router		/auth/token [POST]
func (h *Handler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "username and password are required", validator.Details(err))
		return
	}

	pair, err := h.service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, toTokenPairResponse(pair))
}

// Refresh rotates a refresh token. The token is read from the Authorization
// header first, then from the JSON body.
// @Summary		Rotate refresh token
// @Tags		Auth
// @Param		request	body	RefreshRequest	false	"Refresh token when not sent as Bearer"
// @Success		200	{object}	TokenPairResponse
// @Failure		400,401	{object}	map[string]interface{}
// @Router		/auth/refresh [POST]
func (h *Handler) Refresh(c *gin.Context) {
	raw, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		var req RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "refresh token is required")
			return
		}
		raw = req.RefreshToken
	}

	pair, err := h.service.Rotate(c.Request.Context(), raw)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, toTokenPairResponse(pair))
}

// Register creates the user and signs them in.
// @Summary		Register
// @Tags		Auth
// @Param		request	body	RegisterRequest	true	"Email and password (min 8 characters)"
// @Success		201	{object}	TokenPairResponse
// @Failure		400,409,503	{object}	map[string]interface{}
// @Router		/auth/register [POST]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "a valid email and a password of at least 8 characters are required", validator.Details(err))
		return
	}

	identity, err := h.service.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	pair, err := h.service.IssueTokenPair(c.Request.Context(), identity)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, toTokenPairResponse(pair))
}

// ChangePassword replaces the password and revokes every refresh token.
// @Summary		Change password
// @Tags		Auth
// @Security	BearerAuth
// @Param		request	body	ChangePasswordRequest	true	"Old and new password"
// @Success		204
// @Failure		400,401,403,404	{object}	map[string]interface{}
// @Router		/auth/change-password [POST]
func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "old_password and new_password (min 8 characters) are required", validator.Details(err))
		return
	}

	userID := c.GetString(middleware.ContextUserID)
	if err := h.service.ChangePassword(c.Request.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Logout revokes every refresh token of the caller. Access tokens stay valid
// until they expire.
// @Summary		Sign out everywhere
// @Tags		Auth
// @Security	BearerAuth
// @Success		204
// @Router		/auth/logout [POST]
func (h *Handler) Logout(c *gin.Context) {
	if err := h.service.Logout(c.Request.Context(), c.GetString(middleware.ContextUserID)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Self returns the caller's id, when the access token was issued and how
// many refresh tokens are still active.
// @Summary		Current session
// @Tags		Auth
// @Security	BearerAuth
// @Success		200	{object}	SelfResponse
// @Router		/auth/self [GET]
func (h *Handler) Self(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	sessions, err := h.service.ActiveSessions(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := SelfResponse{ID: userID, ActiveSessions: sessions}
	if iat, ok := c.Get(middleware.ContextIssuedAt); ok {
		if t, ok := iat.(time.Time); ok {
			t = t.UTC()
			resp.LoggedInAt = &t
		}
	}

	response.Success(c, http.StatusOK, resp)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		response.Error(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Email or password is incorrect")
	case errors.Is(err, ErrAccountNotEligible):
		response.Error(c, http.StatusForbidden, "ACCOUNT_NOT_ELIGIBLE", "Account is inactive or not verified")
	case errors.Is(err, ErrConflict):
		response.Error(c, http.StatusConflict, "USER_EXISTS", "This email is already registered")
	case errors.Is(err, ErrInvalidArgument):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid email or password")
	case errors.Is(err, ErrUpstreamUnavailable):
		h.log.ErrorContext(c.Request.Context(), "users service unavailable", "error", err)
		response.Error(c, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Users service is unavailable, try again later")
	case errors.Is(err, ErrInvalidRefreshToken):
		response.Error(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token is invalid or expired")
	case errors.Is(err, ErrTokenCompromised):
		response.Error(c, http.StatusUnauthorized, "TOKEN_COMPROMISED", "Refresh token was already used; all sessions were revoked, sign in again")
	case errors.Is(err, ErrSamePassword):
		response.Error(c, http.StatusBadRequest, "SAME_PASSWORD", "New password must differ from the old one")
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, "INVALID_PASSWORD", "Old password is incorrect")
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Credentials not found")
	default:
		_ = c.Error(err)
		h.log.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
