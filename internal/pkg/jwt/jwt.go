package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for every verification failure: bad structure,
// wrong algorithm, bad signature or expiry. Callers cannot tell them apart.
var ErrInvalidToken = errors.New("invalid token")

// Service signs and verifies RS256 access tokens. The key material is loaded
// once and never mutated, so a Service is safe for concurrent use.
type Service struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	keyID   string
	now     func() time.Time
}

// Claims carries only the subject (user id) plus iat/exp.
type Claims struct {
	jwtlib.RegisteredClaims
}

func (c *Claims) UserID() string { return c.Subject }

type Option func(*Service)

// WithKeyID stamps the kid header on issued tokens.
func WithKeyID(kid string) Option {
	return func(s *Service) { s.keyID = kid }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(private *rsa.PrivateKey, public *rsa.PublicKey, opts ...Option) (*Service, error) {
	if private == nil || public == nil {
		return nil, errors.New("jwt: both private and public keys are required")
	}
	s := &Service{private: private, public: public, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadKeyPair reads PEM encoded RSA keys (PKCS#1 or PKCS#8 private, PKIX public).
func LoadKeyPair(privatePath, publicPath string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read public key: %w", err)
	}
	private, err := jwtlib.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("parse private key: %w", err)
	}
	public, err := jwtlib.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("parse public key: %w", err)
	}
	if private.PublicKey.N.Cmp(public.N) != 0 || private.PublicKey.E != public.E {
		return nil, nil, errors.New("public key does not match private key")
	}
	return private, public, nil
}

// GenerateKeyPairPEM creates a new RSA keypair encoded as PKCS#8 / PKIX PEM.
func GenerateKeyPairPEM(bits int) (privatePEM, publicPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privatePEM, publicPEM, nil
}

// Issue signs claims after setting iat=now and exp=now+ttl.
func (s *Service) Issue(claims Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("jwt: ttl must be positive")
	}
	now := s.now()
	claims.IssuedAt = jwtlib.NewNumericDate(now)
	claims.ExpiresAt = jwtlib.NewNumericDate(now.Add(ttl))

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	return token.SignedString(s.private)
}

// Verify checks the signature and expiry and returns the claims.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (any, error) {
		return s.public, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodRS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
