package ports

// Package ports defines interfaces (hexagonal ports) for session-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"time"

	domainauth "github.com/target/booking-session/internal/domain/auth"
)

// SignUpInput carries the fields needed to register a new account.
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
}

// SignInInput carries the user's credentials for password sign-in.
type SignInInput struct {
	Email    string
	Password string
}

// SignOutInput carries the tokens the provider should invalidate.
type SignOutInput struct {
	AccessToken  string
	RefreshToken string
}

// ProviderUser is the optional user profile some providers return alongside tokens.
type ProviderUser struct {
	ID          string
	DisplayName string
	Email       string
}

// TokenSet is what an identity provider issues on sign-in and refresh.
type TokenSet struct {
	AccessToken string
	// RefreshToken may be empty on refresh, meaning the previous one stays valid.
	RefreshToken string
	// ExpiresAt may be zero when the provider does not report it; the access token's exp claim is used instead.
	ExpiresAt time.Time
	User      *ProviderUser
}

// IdentityProvider performs account operations against the remote identity service.
// Implementations classify failures with internal/errors codes
// (invalid_credentials, network, unknown).
type IdentityProvider interface {
	// SignUp registers an account. It never establishes a session: the provider
	// requires out-of-band email verification first.
	SignUp(ctx context.Context, in SignUpInput) error

	// SignIn exchanges email and password for a token set.
	SignIn(ctx context.Context, in SignInInput) (TokenSet, error)

	// SignOut invalidates the tokens remotely. Callers treat it as best-effort.
	SignOut(ctx context.Context, in SignOutInput) error

	// Refresh exchanges a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// ClaimsDecoder extracts the identity and role claim from an access credential.
type ClaimsDecoder interface {
	Decode(accessToken string) (domainauth.Claims, error)
}

// KeyValueStore is durable local storage that survives process restarts.
// It holds only the refresh token and the active-role selection.
type KeyValueStore interface {
	// Get returns the stored value or an internal/errors NotFound error.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// SessionRefresher is implemented by the authentication gateway and used by
// background and transport-level refresh triggers.
type SessionRefresher interface {
	RefreshSession(ctx context.Context) error
}

// CredentialSource exposes the current access credential to outbound transports.
type CredentialSource interface {
	AccessToken() (string, bool)
}
