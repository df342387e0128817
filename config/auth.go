package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode selects the identity provider implementation.
type AuthMode string

const (
	// AuthModeREST talks to a JSON identity API (sign-up, sign-in, sign-out, refresh).
	AuthModeREST AuthMode = "rest"
	// AuthModeOAuth uses an OAuth2/OIDC provider with the password and refresh-token grants.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeMock uses the in-process development provider (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "rest", "oauth", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: rest, oauth, mock)", v)
	}
}

// RESTProviderConfig configures the JSON identity API client.
type RESTProviderConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:9000"`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"10s"`
}

// OAuthConfig contains OAuth/OIDC configuration.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"     envDefault:"booking"`
	ClientSecret string `env:"CLIENT_SECRET" envDefault:"booking"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email offline_access"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	// RevocationURL overrides the revocation_endpoint advertised by discovery.
	RevocationURL string `env:"REVOCATION_URL"`
}

// DevAuthConfig controls the development identity provider.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	// SigningKey signs HS256 access tokens. The claims decoder must be given the same key to verify them.
	SigningKey string        `env:"SIGNING_KEY" envDefault:"dev-signing-key"`
	AccessTTL  time.Duration `env:"ACCESS_TTL"  envDefault:"15m"`
	// Users seeds verified accounts as email:password:role[,role] entries separated by ';'.
	Users []string `env:"USERS" envDefault:"student@example.com:student:0;tutor@example.com:tutor:1;multi@example.com:multi:0,1,2" envSeparator:";"`
}

// SessionConfig controls refresh timing and startup restoration.
type SessionConfig struct {
	RefreshInterval  time.Duration `env:"REFRESH_INTERVAL"  envDefault:"15m"`
	RefreshTimeout   time.Duration `env:"REFRESH_TIMEOUT"   envDefault:"30s"`
	HydrationTimeout time.Duration `env:"HYDRATION_TIMEOUT" envDefault:"10s"`
	SignOutTimeout   time.Duration `env:"SIGNOUT_TIMEOUT"   envDefault:"5s"`
	// MaxReplayBytes caps the request body the API transport buffers to re-send after a refresh.
	MaxReplayBytes int64 `env:"MAX_REPLAY_BYTES" envDefault:"1048576"`
}

// Sanitize applies guardrails to session timing values.
func (c *SessionConfig) Sanitize() {
	if c.RefreshInterval < time.Minute {
		c.RefreshInterval = time.Minute
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 30 * time.Second
	}
	if c.HydrationTimeout <= 0 {
		c.HydrationTimeout = 10 * time.Second
	}
	if c.SignOutTimeout <= 0 {
		c.SignOutTimeout = 5 * time.Second
	}
	if c.MaxReplayBytes <= 0 {
		c.MaxReplayBytes = 1 << 20
	}
}

// ClaimsConfig controls how the role claim is read from access tokens.
type ClaimsConfig struct {
	// RoleClaimPath is a JMESPath expression locating the role list in the token payload.
	RoleClaimPath string `env:"ROLE_CLAIM_PATH" envDefault:"roles"`
	// VerifyKey, when set, is the HMAC key used to verify access token signatures.
	VerifyKey string `env:"VERIFY_KEY"`
}

// RoutesConfig names the navigation targets used by the access guard.
type RoutesConfig struct {
	SignIn         string `env:"SIGNIN"          envDefault:"/signin"`
	Home           string `env:"HOME"            envDefault:"/"`
	RoleSelection  string `env:"ROLE_SELECTION"  envDefault:"/select-role"`
	StudentLanding string `env:"STUDENT_LANDING" envDefault:"/student"`
	TutorLanding   string `env:"TUTOR_LANDING"   envDefault:"/tutor"`
	AdminLanding   string `env:"ADMIN_LANDING"   envDefault:"/admin"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which identity provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"rest"`

	// REST configuration (used when Mode=rest).
	REST RESTProviderConfig `envPrefix:"AUTH_REST_"`

	// OAuth configuration (used when Mode=oauth).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	Session SessionConfig `envPrefix:"AUTH_"`
	Claims  ClaimsConfig  `envPrefix:"AUTH_TOKEN_"`
	Routes  RoutesConfig  `envPrefix:"AUTH_ROUTE_"`
}

// Sanitize applies guardrails to authentication configuration values.
func (c *AuthConfig) Sanitize() {
	c.Session.Sanitize()
	c.REST.BaseURL = strings.TrimRight(strings.TrimSpace(c.REST.BaseURL), "/")
	if c.REST.Timeout <= 0 {
		c.REST.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(c.Claims.RoleClaimPath) == "" {
		c.Claims.RoleClaimPath = "roles"
	}
	if c.Mode == AuthModeMock && c.Claims.VerifyKey == "" {
		c.Claims.VerifyKey = c.DevAuth.SigningKey
	}
}
