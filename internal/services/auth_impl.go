package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitewatch/internal/auth"
	"sitewatch/internal/middleware"
)

// LoginPayload carries operator credentials.
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is an issued bearer token.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthStatus describes the caller's authentication state.
type AuthStatus struct {
	Enabled       bool    `json:"enabled"`
	Authenticated bool    `json:"authenticated"`
	Username      *string `json:"username,omitempty"`
}

// AuthImplementation implements login and auth status
type AuthImplementation struct {
	authenticator *auth.Authenticator
}

// NewAuthService creates a new auth service implementation
func NewAuthService(authenticator *auth.Authenticator) *AuthImplementation {
	return &AuthImplementation{
		authenticator: authenticator,
	}
}

// Login authenticates a user and returns a JWT token
func (a *AuthImplementation) Login(ctx context.Context, payload *LoginPayload) (*LoginResult, error) {
	token, expiresAt, err := a.authenticator.Authenticate(payload.Username, payload.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return nil, fmt.Errorf("%w: invalid username or password", ErrUnauthorized)
	case errors.Is(err, auth.ErrAuthDisabled):
		return nil, fmt.Errorf("%w: authentication is disabled", ErrBadRequest)
	case err != nil:
		return nil, err
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt}, nil
}

// Status returns the current authentication status
func (a *AuthImplementation) Status(ctx context.Context) (*AuthStatus, error) {
	status := &AuthStatus{Enabled: a.authenticator.IsEnabled()}
	if claims := middleware.GetUserFromContext(ctx); claims != nil {
		status.Authenticated = true
		status.Username = &claims.Username
	}
	return status, nil
}
