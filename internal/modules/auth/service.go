package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"authservice/internal/directory"
	"authservice/internal/domain"
	"authservice/internal/metrics"
	"authservice/internal/pkg/jwt"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const TokenTypeBearer = "Bearer"

// Config holds the token policy of the service.
type Config struct {
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration
	MaxActiveRefreshTokens int
	// HideIneligibleAccounts makes inactive or unverified accounts
	// indistinguishable from a wrong password.
	HideIneligibleAccounts bool
}

// DefaultConfig returns 5 minute access tokens, 30 day refresh tokens and at
// most 3 active refresh tokens per user.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:         5 * time.Minute,
		RefreshTokenTTL:        30 * 24 * time.Hour,
		MaxActiveRefreshTokens: 3,
	}
}

// Identity is what a successful registration or authentication proves.
type Identity struct {
	UserID string
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
}

// Service contains all business logic for authentication
type Service struct {
	directory     directory.Client
	credentials   CredentialRepositoryInterface
	refreshTokens RefreshTokenRepositoryInterface
	tx            TxRunner
	hasher        SecretHasher
	codec         TokenCodec
	cfg           Config

	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	dummyMu   sync.Mutex
	dummyHash string
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	dir directory.Client,
	credentials CredentialRepositoryInterface,
	refreshTokens RefreshTokenRepositoryInterface,
	tx TxRunner,
	hasher SecretHasher,
	codec TokenCodec,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.MaxActiveRefreshTokens < 1 {
		cfg.MaxActiveRefreshTokens = 1
	}
	s := &Service{
		directory:     dir,
		credentials:   credentials,
		refreshTokens: refreshTokens,
		tx:            tx,
		hasher:        hasher,
		codec:         codec,
		cfg:           cfg,
		log:           slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the user in the directory and stores its password.
//
// The directory record cannot be rolled back: if the credential insert fails
// the user exists without a password and a retry reports ErrConflict.
func (s *Service) Register(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.metrics.Registration(metrics.ResultInvalid)
		return nil, ErrInvalidArgument
	}

	user, err := s.directory.CreateUserByEmail(ctx, email)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrAlreadyExists):
			s.metrics.Registration(metrics.ResultInvalid)
			return nil, ErrConflict
		case errors.Is(err, directory.ErrInvalidArgument):
			s.metrics.Registration(metrics.ResultInvalid)
			return nil, ErrInvalidArgument
		default:
			s.metrics.Registration(metrics.ResultError)
			s.log.ErrorContext(ctx, "create user in directory failed", "error", err)
			return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.metrics.Registration(metrics.ResultError)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.credentials.Create(ctx, &domain.Credential{
			ID:                uuid.NewString(),
			UserID:            user.ID,
			PasswordHash:      hash,
			CreatedAt:         now,
			UpdatedAt:         now,
			PasswordUpdatedAt: now,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			s.metrics.Registration(metrics.ResultInvalid)
			return nil, ErrConflict
		}
		s.metrics.Registration(metrics.ResultError)
		s.log.ErrorContext(ctx, "credential insert failed after directory create", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("create credential: %w", err)
	}

	s.metrics.Registration(metrics.ResultSuccess)
	s.log.InfoContext(ctx, "user registered", "user_id", user.ID)
	return &Identity{UserID: user.ID}, nil
}

// Authenticate checks an email/password pair. Unknown emails, missing
// credentials and wrong passwords all yield ErrInvalidCredentials after the
// same amount of hashing work.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)

	user, err := s.directory.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			s.burnVerify(password)
			s.metrics.Login(metrics.ResultInvalid)
			return nil, ErrInvalidCredentials
		}
		s.metrics.Login(metrics.ResultError)
		s.log.ErrorContext(ctx, "lookup user in directory failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	if !user.Eligible() {
		if s.cfg.HideIneligibleAccounts {
			s.burnVerify(password)
			s.metrics.Login(metrics.ResultInvalid)
			return nil, ErrInvalidCredentials
		}
		s.metrics.Login(metrics.ResultIneligible)
		return nil, ErrAccountNotEligible
	}

	cred, err := s.credentials.GetByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.burnVerify(password)
			s.metrics.Login(metrics.ResultInvalid)
			return nil, ErrInvalidCredentials
		}
		s.metrics.Login(metrics.ResultError)
		return nil, fmt.Errorf("load credential: %w", err)
	}

	if !s.hasher.Verify(password, cred.PasswordHash) {
		s.metrics.Login(metrics.ResultInvalid)
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(cred.PasswordHash) {
		s.upgradeHash(ctx, user.ID, password)
	}

	s.metrics.Login(metrics.ResultSuccess)
	return &Identity{UserID: user.ID}, nil
}

// Login authenticates and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	identity, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.IssueTokenPair(ctx, identity)
}

func (s *Service) IssueAccessToken(identity *Identity) (string, error) {
	token, err := s.codec.Issue(jwt.Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: identity.UserID},
	}, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return token, nil
}

// IssueRefreshToken stores a new refresh token for the user, revoking the
// oldest active ones beyond the limit, and returns the raw value. The raw
// value is not retrievable afterwards.
func (s *Service) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	var (
		raw     string
		evicted int64
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		raw, evicted, err = s.issueRefreshToken(ctx, userID, s.now().UTC())
		return err
	})
	if err != nil {
		return "", err
	}
	s.metrics.Issued()
	s.metrics.Revoked(string(domain.RevokeReasonLimitExceeded), evicted)
	return raw, nil
}

func (s *Service) IssueTokenPair(ctx context.Context, identity *Identity) (*TokenPair, error) {
	access, err := s.IssueAccessToken(identity)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueRefreshToken(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: TokenTypeBearer}, nil
}

// issueRefreshToken must run inside a transaction so the limit check and the
// insert cannot interleave with a concurrent login of the same user.
func (s *Service) issueRefreshToken(ctx context.Context, userID string, now time.Time) (string, int64, error) {
	evicted, err := s.refreshTokens.EnforceLimit(ctx, userID, s.cfg.MaxActiveRefreshTokens, now)
	if err != nil {
		return "", 0, fmt.Errorf("enforce refresh token limit: %w", err)
	}

	raw, hash, err := generateRefreshToken()
	if err != nil {
		return "", 0, fmt.Errorf("generate refresh token: %w", err)
	}

	err = s.refreshTokens.Create(ctx, &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	})
	if err != nil {
		return "", 0, fmt.Errorf("store refresh token: %w", err)
	}
	return raw, evicted, nil
}

type rotateResult int

const (
	rotateInvalid rotateResult = iota
	rotateCompromised
	rotateOK
)

// Rotate exchanges a refresh token for a new pair. Each refresh token is
// single use: presenting one that was already rotated revokes every refresh
// token of its owner and returns ErrTokenCompromised.
func (s *Service) Rotate(ctx context.Context, rawRefreshToken string) (*TokenPair, error) {
	rawRefreshToken = strings.TrimSpace(rawRefreshToken)
	if rawRefreshToken == "" {
		s.metrics.Rotation(metrics.ResultInvalid)
		return nil, ErrInvalidRefreshToken
	}
	hash := hashRefreshToken(rawRefreshToken)
	now := s.now().UTC()

	var (
		result  rotateResult
		userID  string
		pair    *TokenPair
		evicted int64
		revoked int64
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		out, err := s.refreshTokens.Revoke(ctx, hash, domain.RevokeReasonRotated, now)
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}

		switch {
		case out.Token == nil:
			result = rotateInvalid
			return nil
		case out.Revoked:
			userID = out.Token.UserID
		case out.Token.IsRevoked() && out.Token.RevokedFor().SignalsReuse():
			userID = out.Token.UserID
			result = rotateCompromised
			revoked, err = s.refreshTokens.RevokeByUser(ctx, userID, domain.RevokeReasonCompromised, now)
			if err != nil {
				return fmt.Errorf("revoke compromised tokens: %w", err)
			}
			// Commit the revocation; the error is reported after the transaction.
			return nil
		default:
			// Expired, or revoked by logout, password change or the limit.
			result = rotateInvalid
			return nil
		}

		access, err := s.IssueAccessToken(&Identity{UserID: userID})
		if err != nil {
			return err
		}
		refresh, n, err := s.issueRefreshToken(ctx, userID, now)
		if err != nil {
			return err
		}
		evicted = n
		pair = &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: TokenTypeBearer}
		result = rotateOK
		return nil
	})
	if err != nil {
		s.metrics.Rotation(metrics.ResultError)
		return nil, err
	}

	switch result {
	case rotateCompromised:
		s.metrics.Rotation(metrics.ResultCompromised)
		s.metrics.Revoked(string(domain.RevokeReasonCompromised), revoked)
		s.log.WarnContext(ctx, "refresh token reuse detected, all sessions revoked",
			"user_id", userID, "revoked", revoked)
		return nil, ErrTokenCompromised
	case rotateOK:
		s.metrics.Rotation(metrics.ResultSuccess)
		s.metrics.Issued()
		s.metrics.Revoked(string(domain.RevokeReasonRotated), 1)
		s.metrics.Revoked(string(domain.RevokeReasonLimitExceeded), evicted)
		return pair, nil
	default:
		s.metrics.Rotation(metrics.ResultInvalid)
		return nil, ErrInvalidRefreshToken
	}
}

// ChangePassword replaces the password and signs the user out everywhere.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	cred, err := s.credentials.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.ErrorContext(ctx, "credential missing for authenticated user", "user_id", userID)
			return ErrNotFound
		}
		return fmt.Errorf("load credential: %w", err)
	}

	if newPassword == oldPassword {
		return ErrSamePassword
	}
	if !s.hasher.Verify(oldPassword, cred.PasswordHash) {
		return ErrForbidden
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	var revoked int64
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.credentials.UpdatePassword(ctx, userID, hash, now); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("update password: %w", err)
		}
		var err error
		revoked, err = s.refreshTokens.RevokeByUser(ctx, userID, domain.RevokeReasonPasswordChanged, now)
		if err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.Revoked(string(domain.RevokeReasonPasswordChanged), revoked)
	s.log.InfoContext(ctx, "password changed", "user_id", userID, "revoked", revoked)
	return nil
}

// Logout revokes every refresh token of the user. Calling it again is a no-op.
func (s *Service) Logout(ctx context.Context, userID string) error {
	revoked, err := s.refreshTokens.RevokeByUser(ctx, userID, domain.RevokeReasonLogout, s.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	s.metrics.Revoked(string(domain.RevokeReasonLogout), revoked)
	return nil
}

// ActiveSessions counts the user's refresh tokens that can still be rotated.
func (s *Service) ActiveSessions(ctx context.Context, userID string) (int64, error) {
	return s.refreshTokens.CountActive(ctx, userID, s.now().UTC())
}

func (s *Service) VerifyAccessToken(token string) (*jwt.Claims, error) {
	return s.codec.Verify(token)
}

func (s *Service) upgradeHash(ctx context.Context, userID, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.credentials.UpgradeHash(ctx, userID, hash, s.now().UTC())
	}
	if err != nil {
		s.log.WarnContext(ctx, "password hash upgrade failed", "user_id", userID, "error", err)
	}
}

// burnVerify spends the same bcrypt work as a real verification. A failed
// dummy hash is logged and retried on the next call.
func (s *Service) burnVerify(password string) {
	s.dummyMu.Lock()
	if s.dummyHash == "" {
		hash, err := s.hasher.Hash("timing-equalizer")
		if err != nil {
			s.dummyMu.Unlock()
			s.log.Error("dummy password hash failed, login timing is not equalized", "error", err)
			return
		}
		s.dummyHash = hash
	}
	hash := s.dummyHash
	s.dummyMu.Unlock()

	_ = s.hasher.Verify(password, hash)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
