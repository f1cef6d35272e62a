package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultPrivateKeyPath = "certs/jwt-private.pem"
	defaultPublicKeyPath  = "certs/jwt-public.pem"
	defaultDatabaseURL    = "file:auth.db"
)

// AuthRuntimeConfig is loaded once at startup and passed to the components
// that need it; nothing reads the environment after that.
type AuthRuntimeConfig struct {
	AppEnv   string `env:"APP_ENV" envDefault:"dev"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat is json or text.
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:auth.db"`

	UsersServiceAddr string        `env:"USERS_SERVICE_ADDR" envDefault:"localhost:50051"`
	DirectoryTimeout time.Duration `env:"DIRECTORY_TIMEOUT" envDefault:"3s"`

	JWTPrivateKeyPath string `env:"JWT_PRIVATE_KEY_PATH" envDefault:"certs/jwt-private.pem"`
	JWTPublicKeyPath  string `env:"JWT_PUBLIC_KEY_PATH" envDefault:"certs/jwt-public.pem"`
	JWTKeyID          string `env:"JWT_KEY_ID"`

	AccessTokenTTL         time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"5m"`
	RefreshTokenTTL        time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	MaxActiveRefreshTokens int           `env:"MAX_ACTIVE_REFRESH_TOKENS" envDefault:"3"`
	RevokedRetention       time.Duration `env:"REVOKED_RETENTION" envDefault:"720h"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`
	// HideIneligibleAccounts reports inactive or unverified accounts as
	// invalid credentials instead of a distinct error.
	HideIneligibleAccounts bool `env:"HIDE_INELIGIBLE_ACCOUNTS" envDefault:"false"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// MetricsToken, when set, is required as a bearer token on /metrics.
	MetricsToken      string   `env:"METRICS_TOKEN"`
	MetricsAllowedIPs []string `env:"METRICS_ALLOWED_IPS" envSeparator:","`
}

// LoadAuthRuntimeConfig reads an optional .env file (ENV_FILE, default ".env")
// and then the process environment.
func LoadAuthRuntimeConfig() (*AuthRuntimeConfig, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return ParseAuthRuntimeConfig()
}

// ParseAuthRuntimeConfig reads the process environment only.
func ParseAuthRuntimeConfig() (*AuthRuntimeConfig, error) {
	cfg := &AuthRuntimeConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *AuthRuntimeConfig) error {
	if cfg.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be > 0")
	}
	if cfg.RefreshTokenTTL <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_TTL must be > 0")
	}
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}
	if cfg.MaxActiveRefreshTokens < 1 {
		return fmt.Errorf("MAX_ACTIVE_REFRESH_TOKENS must be >= 1")
	}
	if cfg.DirectoryTimeout <= 0 {
		return fmt.Errorf("DIRECTORY_TIMEOUT must be > 0")
	}
	if cfg.RevokedRetention < 0 {
		return fmt.Errorf("REVOKED_RETENTION must be >= 0")
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be in [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" || strings.TrimSpace(cfg.JWTPublicKeyPath) == "" {
		return fmt.Errorf("JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.UsersServiceAddr) == "" {
		return fmt.Errorf("USERS_SERVICE_ADDR must not be empty")
	}

	if IsProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.DatabaseURL, defaultDatabaseURL) || !strings.HasPrefix(cfg.DatabaseURL, "postgres") {
			return fmt.Errorf("in prod/release DATABASE_URL must point at PostgreSQL")
		}
		if isEmptyOrDefault(cfg.JWTPrivateKeyPath, defaultPrivateKeyPath) {
			return fmt.Errorf("in prod/release JWT_PRIVATE_KEY_PATH must be set and not default")
		}
		if isEmptyOrDefault(cfg.JWTPublicKeyPath, defaultPublicKeyPath) {
			return fmt.Errorf("in prod/release JWT_PUBLIC_KEY_PATH must be set and not default")
		}
		if cfg.BcryptCost < bcrypt.DefaultCost {
			return fmt.Errorf("in prod/release BCRYPT_COST must be >= %d", bcrypt.DefaultCost)
		}
	}

	return nil
}

func IsProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}
