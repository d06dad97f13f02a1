package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config configures the single operator account.
type Config struct {
	Enabled  bool
	Username string
	// Password is either plaintext or an existing bcrypt hash.
	Password string
	Secret   string
	Expiry   time.Duration
}

// Authenticator checks operator credentials and issues tokens.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *JWTManager
}

// NewAuthenticator builds an authenticator. A disabled authenticator accepts
// every request and refuses logins.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	a := &Authenticator{enabled: cfg.Enabled, username: cfg.Username}
	if a.username == "" {
		a.username = "admin"
	}
	if !cfg.Enabled {
		return a, nil
	}

	if cfg.Password == "" {
		return nil, fmt.Errorf("password is required when auth is enabled")
	}
	if isBcryptHash(cfg.Password) {
		a.passwordHash = []byte(cfg.Password)
	} else {
		hash, err := HashPassword(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		a.passwordHash = []byte(hash)
	}

	tokens, err := NewJWTManager(cfg.Secret, cfg.Expiry)
	if err != nil {
		return nil, err
	}
	a.tokens = tokens
	return a, nil
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a signed token with its
// expiry.
func (a *Authenticator) Authenticate(username, password string) (string, time.Time, error) {
	if !a.enabled {
		return "", time.Time{}, ErrAuthDisabled
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	return a.tokens.GenerateToken(username)
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	if !a.enabled {
		return nil, ErrAuthDisabled
	}
	return a.tokens.ValidateToken(token)
}

// HashPassword creates a bcrypt hash of a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && strings.HasPrefix(s, "$2")
}
