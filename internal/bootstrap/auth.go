package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/target/booking-session/config"
	"github.com/target/booking-session/internal/adapters/authtransport"
	"github.com/target/booking-session/internal/adapters/devauth"
	"github.com/target/booking-session/internal/adapters/jwtclaims"
	"github.com/target/booking-session/internal/adapters/oidc"
	"github.com/target/booking-session/internal/adapters/restidp"
	domainauth "github.com/target/booking-session/internal/domain/auth"
	"github.com/target/booking-session/internal/observability/statsd"
	"github.com/target/booking-session/internal/ports"
	"github.com/target/booking-session/internal/service"
)

// AuthConfig contains configuration for the session subsystem.
type AuthConfig struct {
	Auth    config.AuthConfig
	Store   ports.KeyValueStore // Required: durable storage for refresh token and active role
	Metrics statsd.Sink
	Logger  *slog.Logger
}

// SessionComponents holds the wired session subsystem.
type SessionComponents struct {
	Service     *service.AuthService
	Guard       *service.AccessGuard
	Credentials *service.CredentialStore
	Identities  *service.IdentityStore
	Scheduler   *service.RefreshScheduler
	// Transport attaches the session credential to outgoing API requests.
	Transport *authtransport.Transport
}

// BuildSession wires the identity provider, claims decoder, stores, gateway,
// guard and refresh scheduler.
func BuildSession(ctx context.Context, cfg AuthConfig) (*SessionComponents, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}

	provider, err := BuildIdentityProvider(ctx, cfg.Auth, cfg.Logger)
	if err != nil {
		return nil, err
	}

	decoder, err := jwtclaims.New(jwtclaims.Options{
		RoleClaimPath: cfg.Auth.Claims.RoleClaimPath,
		VerifyKey:     []byte(cfg.Auth.Claims.VerifyKey),
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build claims decoder: %w", err)
	}

	creds, err := service.NewCredentialStore(service.CredentialStoreOptions{Store: cfg.Store, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}
	ids, err := service.NewIdentityStore(service.IdentityStoreOptions{Store: cfg.Store, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}

	svc, err := service.NewAuthService(service.AuthServiceOptions{
		Provider:         provider,
		Claims:           decoder,
		Credentials:      creds,
		Identities:       ids,
		Logger:           cfg.Logger,
		Metrics:          cfg.Metrics,
		RefreshTimeout:   cfg.Auth.Session.RefreshTimeout,
		HydrationTimeout: cfg.Auth.Session.HydrationTimeout,
		SignOutTimeout:   cfg.Auth.Session.SignOutTimeout,
	})
	if err != nil {
		return nil, err
	}

	guard, err := service.NewAccessGuard(service.AccessGuardOptions{
		Identities: ids,
		Routes:     RoutesFromConfig(cfg.Auth.Routes),
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	scheduler, err := service.NewRefreshScheduler(service.RefreshSchedulerOptions{
		Refresher:   svc,
		Credentials: creds,
		Interval:    cfg.Auth.Session.RefreshInterval,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	transport, err := authtransport.New(authtransport.Options{
		Base:        http.DefaultTransport,
		Credentials: creds,
		Refresher:   svc,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,

		MaxReplayBytes: cfg.Auth.Session.MaxReplayBytes,
	})
	if err != nil {
		return nil, err
	}

	return &SessionComponents{
		Service:     svc,
		Guard:       guard,
		Credentials: creds,
		Identities:  ids,
		Scheduler:   scheduler,
		Transport:   transport,
	}, nil
}

// BuildIdentityProvider creates the identity provider for the configured auth mode.
//
//nolint:ireturn // the provider is chosen at runtime.
func BuildIdentityProvider(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (ports.IdentityProvider, error) {
	switch cfg.Mode {
	case config.AuthModeMock:
		return buildDevAuthProvider(cfg, logger)
	case config.AuthModeOAuth:
		return buildOAuthProvider(ctx, cfg, logger)
	case config.AuthModeREST, "":
		prov, err := restidp.New(restidp.Options{
			BaseURL: cfg.REST.BaseURL,
			Timeout: cfg.REST.Timeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build identity API client: %w", err)
		}
		return prov, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

func buildDevAuthProvider(cfg config.AuthConfig, logger *slog.Logger) (*devauth.Provider, error) {
	users, err := devauth.ParseSeedUsers(cfg.DevAuth.Users)
	if err != nil {
		return nil, fmt.Errorf("parse dev auth users: %w", err)
	}
	prov, err := devauth.NewProvider(devauth.Config{
		SigningKey: []byte(cfg.DevAuth.SigningKey),
		AccessTTL:  cfg.DevAuth.AccessTTL,
		Users:      users,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build dev auth provider: %w", err)
	}
	if logger != nil {
		logger.Warn("development identity provider enabled", "seeded_users", len(users))
	}
	return prov, nil
}

func buildOAuthProvider(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (*oidc.Provider, error) {
	oauth := cfg.OAuth
	if oauth.DiscoveryURL == "" || oauth.ClientID == "" {
		return nil, fmt.Errorf("oauth mode requires OAUTH_DISCOVERY_URL and OAUTH_CLIENT_ID (discovery_url_empty=%t client_id_empty=%t)",
			oauth.DiscoveryURL == "", oauth.ClientID == "")
	}

	prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
		ClientID:      oauth.ClientID,
		ClientSecret:  oauth.ClientSecret,
		Scope:         oauth.Scope,
		DiscoveryURL:  oauth.DiscoveryURL,
		RevocationURL: oauth.RevocationURL,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build OIDC provider: %w", err)
	}
	return prov, nil
}

// RoutesFromConfig maps route configuration onto guard navigation targets.
func RoutesFromConfig(c config.RoutesConfig) domainauth.Routes {
	return domainauth.Routes{
		SignIn:        c.SignIn,
		Home:          c.Home,
		RoleSelection: c.RoleSelection,
		Landing: map[domainauth.Role]string{
			domainauth.RoleStudent: c.StudentLanding,
			domainauth.RoleTutor:   c.TutorLanding,
			domainauth.RoleAdmin:   c.AdminLanding,
		},
	}
}
