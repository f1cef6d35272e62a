package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"authservice/internal/database"
	"authservice/internal/directory"
	"authservice/internal/domain"
	"authservice/internal/metrics"
	"authservice/internal/pkg/jwt"
	"authservice/internal/pkg/password"
	"authservice/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Mock users directory implementing directory.Client
type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) GetUserByEmail(ctx context.Context, email string) (*directory.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*directory.User), args.Error(1)
}

func (m *mockDirectory) CreateUserByEmail(ctx context.Context, email string) (*directory.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*directory.User), args.Error(1)
}

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return testKey
}

type fixture struct {
	svc     *Service
	dir     *mockDirectory
	db      *gorm.DB
	creds   *repository.CredentialRepository
	tokens  *repository.RefreshTokenRepository
	hasher  *password.Hasher
	codec   *jwt.Service
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Connect(fmt.Sprintf("file:auth_%s?mode=memory&cache=shared", name), nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	hasher, err := password.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	key := signingKey(t)
	codec, err := jwt.New(key, &key.PublicKey)
	require.NoError(t, err)

	f := &fixture{
		dir:     new(mockDirectory),
		db:      db,
		creds:   repository.NewCredentialRepository(db),
		tokens:  repository.NewRefreshTokenRepository(db),
		hasher:  hasher,
		codec:   codec,
		metrics: metrics.New(),
	}
	f.svc = NewService(f.dir, f.creds, f.tokens, repository.NewTxManager(db), hasher, codec, cfg,
		WithMetrics(f.metrics))
	return f
}

// seedUser stores a credential for a directory user and stubs the lookup.
func (f *fixture) seedUser(t *testing.T, email, pass string, active, verified bool) string {
	t.Helper()
	id := uuid.NewString()
	hash, err := f.hasher.Hash(pass)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, f.creds.Create(context.Background(), &domain.Credential{
		ID: uuid.NewString(), UserID: id, PasswordHash: hash,
		CreatedAt: now, UpdatedAt: now, PasswordUpdatedAt: now,
	}))
	f.dir.On("GetUserByEmail", mock.Anything, email).
		Return(&directory.User{ID: id, IsActive: active, IsVerified: verified}, nil)
	return id
}

func (f *fixture) activeCount(t *testing.T, userID string) int64 {
	t.Helper()
	n, err := f.svc.ActiveSessions(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func TestService_Register_Success(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := uuid.NewString()
	f.dir.On("CreateUserByEmail", mock.Anything, "new@example.com").
		Return(&directory.User{ID: id}, nil)

	identity, err := f.svc.Register(context.Background(), "  New@Example.com ", "password123")
	require.NoError(t, err)
	assert.Equal(t, id, identity.UserID)

	cred, err := f.creds.GetByUserID(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, "password123", cred.PasswordHash)
	assert.True(t, f.hasher.Verify("password123", cred.PasswordHash))
	f.dir.AssertExpectations(t)
}

func TestService_Register_DirectoryErrors(t *testing.T) {
	tests := []struct {
		name    string
		dirErr  error
		wantErr error
	}{
		{"exists", directory.ErrAlreadyExists, ErrConflict},
		{"invalid", directory.ErrInvalidArgument, ErrInvalidArgument},
		{"down", fmt.Errorf("%w: connection refused", directory.ErrUnavailable), ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			f.dir.On("CreateUserByEmail", mock.Anything, "a@example.com").Return(nil, tt.dirErr)

			_, err := f.svc.Register(context.Background(), "a@example.com", "password123")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_Register_CredentialAlreadyStored(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.seedUser(t, "dup@example.com", "password123", true, true)
	f.dir.On("CreateUserByEmail", mock.Anything, "dup@example.com").
		Return(&directory.User{ID: id}, nil)

	_, err := f.svc.Register(context.Background(), "dup@example.com", "password123")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestService_Register_EmptyInput(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Register(context.Background(), " ", "password123")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	f.dir.AssertNotCalled(t, "CreateUserByEmail", mock.Anything, mock.Anything)
}

func TestService_Authenticate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.seedUser(t, "ok@example.com", "password123", true, true)
	f.seedUser(t, "inactive@example.com", "password123", false, true)
	f.seedUser(t, "unverified@example.com", "password123", true, false)
	f.dir.On("GetUserByEmail", mock.Anything, "ghost@example.com").Return(nil, directory.ErrNotFound)
	f.dir.On("GetUserByEmail", mock.Anything, "nocred@example.com").
		Return(&directory.User{ID: uuid.NewString(), IsActive: true, IsVerified: true}, nil)
	f.dir.On("GetUserByEmail", mock.Anything, "down@example.com").Return(nil, directory.ErrUnavailable)

	identity, err := f.svc.Authenticate(context.Background(), "OK@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, id, identity.UserID)

	tests := []struct {
		email, password string
		wantErr         error
	}{
		{"ok@example.com", "wrong-password", ErrInvalidCredentials},
		{"ghost@example.com", "password123", ErrInvalidCredentials},
		{"nocred@example.com", "password123", ErrInvalidCredentials},
		{"inactive@example.com", "password123", ErrAccountNotEligible},
		{"unverified@example.com", "password123", ErrAccountNotEligible},
		{"down@example.com", "password123", ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		_, err := f.svc.Authenticate(context.Background(), tt.email, tt.password)
		assert.ErrorIs(t, err, tt.wantErr, tt.email)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LoginCounter(metrics.ResultSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.LoginCounter(metrics.ResultInvalid)))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LoginCounter(metrics.ResultIneligible)))
}

func TestService_Authenticate_HideIneligible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HideIneligibleAccounts = true
	f := newFixture(t, cfg)
	f.seedUser(t, "inactive@example.com", "password123", false, true)

	_, err := f.svc.Authenticate(context.Background(), "inactive@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrAccountNotEligible)
}

func TestService_Authenticate_UpgradesHashCost(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.seedUser(t, "ok@example.com", "password123", true, true)

	stronger, err := password.NewHasher(bcrypt.MinCost + 1)
	require.NoError(t, err)
	svc := NewService(f.dir, f.creds, f.tokens, repository.NewTxManager(f.db), stronger, f.codec, DefaultConfig())

	_, err = svc.Authenticate(context.Background(), "ok@example.com", "password123")
	require.NoError(t, err)

	cred, err := f.creds.GetByUserID(context.Background(), id)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(cred.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
	assert.True(t, stronger.Verify("password123", cred.PasswordHash))
}

func TestService_Login_IssuesVerifiablePair(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.seedUser(t, "ok@example.com", "password123", true, true)

	pair, err := f.svc.Login(context.Background(), "ok@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, TokenTypeBearer, pair.TokenType)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := f.svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID())
	assert.Equal(t, 5*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))

	// Only the hash is stored.
	stored, err := f.tokens.GetByHash(context.Background(), hashRefreshToken(pair.RefreshToken))
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, stored.TokenHash)
	assert.Equal(t, id, stored.UserID)
}

func TestService_Rotate_Success(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := uuid.NewString()

	first, err := f.svc.IssueRefreshToken(context.Background(), id)
	require.NoError(t, err)

	pair, err := f.svc.Rotate(context.Background(), first)
	require.NoError(t, err)
	assert.NotEqual(t, first, pair.RefreshToken)

	claims, err := f.svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID())
	assert.Equal(t, int64(1), f.activeCount(t, id))

	old, err := f.tokens.GetByHash(context.Background(), hashRefreshToken(first))
	require.NoError(t, err)
	assert.Equal(t, domain.RevokeReasonRotated, old.RevokedFor())
}

func TestService_Rotate_ReuseRevokesEverything(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := uuid.NewString()

	first, err := f.svc.IssueRefreshToken(context.Background(), id)
	require.NoError(t, err)
	other, err := f.svc.IssueRefreshToken(context.Background(), id)
	require.NoError(t, err)

	pair, err := f.svc.Rotate(context.Background(), first)
	require.NoError(t, err)

	_, err = f.svc.Rotate(context.Background(), first)
	assert.ErrorIs(t, err, ErrTokenCompromised)
	assert.Equal(t, int64(0), f.activeCount(t, id))

	// Every token of the family is dead, including the one just issued.
	_, err = f.svc.Rotate(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenCompromised)
	_, err = f.svc.Rotate(context.Background(), other)
	assert.ErrorIs(t, err, ErrTokenCompromised)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RotationCounter(metrics.ResultSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.RotationCounter(metrics.ResultCompromised)))
}

func TestService_Rotate_InvalidTokens(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.RefreshTokenTTL = time.Hour
	f := newFixture(t, cfg)
	id := uuid.NewString()

	expired, err := f.svc.IssueRefreshToken(context.Background(), id)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return now.Add(2 * time.Hour) }

	_, err = f.svc.Rotate(context.Background(), expired)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = f.svc.Rotate(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = f.svc.Rotate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestService_Rotate_Concurrent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := uuid.NewString()
	raw, err := f.svc.IssueRefreshToken(context.Background(), id)
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		otherErrs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Rotate(context.Background(), raw)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrTokenCompromised):
			default:
				otherErrs = append(otherErrs, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Empty(t, otherErrs)
}

func TestService_IssueRefreshToken_EnforcesLimit(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := uuid.NewString()
	base := time.Now().UTC()

	var raws []string
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		f.svc.now = func() time.Time { return at }
		raw, err := f.svc.IssueRefreshToken(context.Background(), id)
		require.NoError(t, err)
		raws = append(raws, raw)
	}

	assert.Equal(t, int64(3), f.activeCount(t, id))

	// The oldest was evicted; using it is not a theft signal.
	_, err := f.svc.Rotate(context.Background(), raws[0])
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.Equal(t, int64(3), f.activeCount(t, id))

	_, err = f.svc.Rotate(context.Background(), raws[3])
	assert.NoError(t, err)
}

func TestService_ChangePassword(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.seedUser(t, "ok@example.com", "password123", true, true)

	pair, err := f.svc.Login(context.Background(), "ok@example.com", "password123")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ChangePassword(context.Background(), id, "password123", "password123"), ErrSamePassword)
	assert.ErrorIs(t, f.svc.ChangePassword(context.Background(), id, "wrong-password", "newpassword1"), ErrForbidden)
	assert.ErrorIs(t, f.svc.ChangePassword(context.Background(), uuid.NewString(), "password123", "newpassword1"), ErrNotFound)
	assert.Equal(t, int64(1), f.activeCount(t, id))

	require.NoError(t, f.svc.ChangePassword(context.Background(), id, "password123", "newpassword1"))
	assert.Equal(t, int64(0), f.activeCount(t, id))

	// A token revoked by the password change is invalid, not compromised.
	_, err = f.svc.Rotate(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = f.svc.Authenticate(context.Background(), "ok@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Authenticate(context.Background(), "ok@example.com", "newpassword1")
	assert.NoError(t, err)
}

func TestService_ChangePassword_SamePasswordLeavesCredentialUntouched(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.seedUser(t, "ok@example.com", "password123", true, true)
	before, err := f.creds.GetByUserID(context.Background(), id)
	require.NoError(t, err)

	// Any write would now stamp a different updated_at.
	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	err = f.svc.ChangePassword(context.Background(), id, "password123", "password123")
	assert.ErrorIs(t, err, ErrSamePassword)

	after, err := f.creds.GetByUserID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "updated_at changed")
	assert.True(t, before.PasswordUpdatedAt.Equal(after.PasswordUpdatedAt))
}

// flakyHasher fails the first Hash call and records the hashes Verify sees.
type flakyHasher struct {
	SecretHasher
	hashCalls int
	verified  []string
}

func (h *flakyHasher) Hash(secret string) (string, error) {
	h.hashCalls++
	if h.hashCalls == 1 {
		return "", errors.New("entropy exhausted")
	}
	return h.SecretHasher.Hash(secret)
}

func (h *flakyHasher) Verify(secret, hash string) bool {
	h.verified = append(h.verified, hash)
	return h.SecretHasher.Verify(secret, hash)
}

func TestService_BurnVerify_RetriesFailedDummyHash(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	h := &flakyHasher{SecretHasher: f.hasher}
	svc := NewService(f.dir, f.creds, f.tokens, repository.NewTxManager(f.db), h, f.codec, DefaultConfig())

	svc.burnVerify("whatever")
	assert.Empty(t, h.verified, "no verification against an empty hash")

	svc.burnVerify("whatever")
	svc.burnVerify("whatever")
	require.Len(t, h.verified, 2)
	assert.NotEmpty(t, h.verified[0])
	assert.Equal(t, h.verified[0], h.verified[1])
	assert.Equal(t, 2, h.hashCalls)
}

func TestService_Logout_IsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := uuid.NewString()
	raw, err := f.svc.IssueRefreshToken(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), id))
	require.NoError(t, f.svc.Logout(context.Background(), id))
	assert.Equal(t, int64(0), f.activeCount(t, id))

	_, err = f.svc.Rotate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

// Scenario: a stolen refresh token is used by the attacker first; the
// victim's later attempt triggers the theft response and locks both out.
func TestService_StolenTokenUsedByAttackerFirst(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.seedUser(t, "victim@example.com", "password123", true, true)

	victim, err := f.svc.Login(context.Background(), "victim@example.com", "password123")
	require.NoError(t, err)
	stolen := victim.RefreshToken

	attacker, err := f.svc.Rotate(context.Background(), stolen)
	require.NoError(t, err)

	_, err = f.svc.Rotate(context.Background(), victim.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenCompromised)

	_, err = f.svc.Rotate(context.Background(), attacker.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenCompromised)
}
