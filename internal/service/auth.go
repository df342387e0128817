package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/observability/metrics"
	"github.com/target/booking-session/internal/observability/statsd"
	"github.com/target/booking-session/internal/ports"
)

const (
	defaultRefreshTimeout   = 30 * time.Second
	defaultHydrationTimeout = 10 * time.Second
	defaultSignOutTimeout   = 5 * time.Second

	refreshFlightKey = "refresh"
)

var (
	errNoRefreshCredential = errors.New("no refresh credential")
	errRefreshSuperseded   = errors.New("session changed while refresh was in flight")
)

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Provider    ports.IdentityProvider // Required: remote identity provider
	Claims      ports.ClaimsDecoder    // Required: access credential decoder
	Credentials *CredentialStore       // Required
	Identities  *IdentityStore         // Required
	Logger      *slog.Logger           // Optional: structured logger
	Metrics     statsd.Sink            // Optional: metrics sink (StatsD-compatible)

	RefreshTimeout   time.Duration // Optional: bound on a single provider refresh call
	HydrationTimeout time.Duration // Optional: bound on startup restoration
	SignOutTimeout   time.Duration // Optional: bound on remote sign-out
	Now              func() time.Time
}

// AuthService is the authentication gateway. It is the only writer of the
// credential store and of the identity held by the identity store.
//
// Every sign-in and every clear advances a generation counter. A refresh
// captures the generation when it starts and commits only if it is unchanged,
// so a late response can never restore a session that was signed out.
type AuthService struct {
	provider    ports.IdentityProvider
	claims      ports.ClaimsDecoder
	credentials *CredentialStore
	identities  *IdentityStore
	logger      *slog.Logger
	metrics     statsd.Sink

	refreshTimeout   time.Duration
	hydrationTimeout time.Duration
	signOutTimeout   time.Duration
	now              func() time.Time

	mu         sync.Mutex
	generation uint64
	flight     singleflight.Group
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	switch {
	case opts.Provider == nil:
		return nil, errors.New("IdentityProvider is required")
	case opts.Claims == nil:
		return nil, errors.New("ClaimsDecoder is required")
	case opts.Credentials == nil:
		return nil, errors.New("CredentialStore is required")
	case opts.Identities == nil:
		return nil, errors.New("IdentityStore is required")
	}

	svc := &AuthService{
		provider:         opts.Provider,
		claims:           opts.Claims,
		credentials:      opts.Credentials,
		identities:       opts.Identities,
		logger:           componentLogger(opts.Logger, "auth_service"),
		metrics:          opts.Metrics,
		refreshTimeout:   opts.RefreshTimeout,
		hydrationTimeout: opts.HydrationTimeout,
		signOutTimeout:   opts.SignOutTimeout,
		now:              opts.Now,
	}
	if svc.refreshTimeout <= 0 {
		svc.refreshTimeout = defaultRefreshTimeout
	}
	if svc.hydrationTimeout <= 0 {
		svc.hydrationTimeout = defaultHydrationTimeout
	}
	if svc.signOutTimeout <= 0 {
		svc.signOutTimeout = defaultSignOutTimeout
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// MustNewAuthService constructs a new AuthService and panics on error.
func MustNewAuthService(opts AuthServiceOptions) *AuthService {
	svc, err := NewAuthService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create AuthService: %v", err))
	}
	return svc
}

// SignUp registers an account with the identity provider. No session is
// established; the provider requires email verification first.
func (s *AuthService) SignUp(ctx context.Context, in ports.SignUpInput) error {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" {
		return apperrors.ValidationField("email", "email is required")
	}
	if in.Password == "" {
		return apperrors.ValidationField("password", "password is required")
	}

	start := s.now()
	err := s.provider.SignUp(ctx, in)
	if err != nil {
		err = apperrors.Classify(err, "sign up failed")
	}
	s.emit("signup", start, err)
	return err
}

// SignInResult is returned by a successful sign-in.
type SignInResult struct {
	Identity      *domainauth.Identity
	Credentials   domainauth.Credentials
	ActiveRole    domainauth.Role
	HasActiveRole bool
}

// SignIn exchanges email and password for a session. The identity's roles come
// from the access credential's role claim. The active role is set only when the
// identity has exactly one role.
func (s *AuthService) SignIn(ctx context.Context, in ports.SignInInput) (*SignInResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" || in.Password == "" {
		return nil, apperrors.InvalidCredentials("email and password are required")
	}

	start := s.now()
	result, err := s.signIn(ctx, in)
	s.emit("signin", start, err)
	if err != nil {
		s.logger.InfoContext(ctx, "sign in failed", "code", apperrors.GetCode(err))
		return nil, err
	}
	s.logger.InfoContext(ctx, "signed in",
		"user_id", result.Identity.ID,
		"roles", result.Identity.Roles,
		"active_role_resolved", result.HasActiveRole,
	)
	return result, nil
}

func (s *AuthService) signIn(ctx context.Context, in ports.SignInInput) (*SignInResult, error) {
	tokens, err := s.provider.SignIn(ctx, in)
	if err != nil {
		return nil, apperrors.Classify(err, "sign in failed")
	}

	identity, creds, err := s.sessionFromTokens(tokens, "")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceLocked()
	s.credentials.Set(ctx, creds)
	role, ok := s.identities.Establish(ctx, identity)
	metrics.EmitSessionActive(s.metrics, true)

	return &SignInResult{
		Identity:      identity,
		Credentials:   creds,
		ActiveRole:    role,
		HasActiveRole: ok,
	}, nil
}

// SignOut clears the local session immediately and then asks the provider to
// invalidate the tokens. Remote failures are logged and absorbed. Calling it
// without a session is a no-op apart from the clear.
func (s *AuthService) SignOut(ctx context.Context) {
	start := s.now()

	s.mu.Lock()
	creds, had := s.credentials.Get()
	s.clearLocked(ctx)
	s.mu.Unlock()

	if !had || (creds.AccessToken == "" && creds.RefreshToken == "") {
		s.emit("signout", start, nil)
		return
	}

	remoteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.signOutTimeout)
	defer cancel()

	err := s.provider.SignOut(remoteCtx, ports.SignOutInput{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "remote sign out failed; local session already cleared", "error", err)
	}
	s.emit("signout", start, nil)
	s.logger.InfoContext(ctx, "signed out")
}

// RefreshSession exchanges the refresh credential for a new access credential.
// Concurrent callers share a single provider call and observe the same result.
// The shared call is not bound to any one caller: a caller whose ctx ends stops
// waiting while the refresh completes for the others.
//
// On failure the local session is cleared and a refresh_failed error returned.
func (s *AuthService) RefreshSession(ctx context.Context) error {
	trigger := metrics.TriggerFrom(ctx)
	ch := s.flight.DoChan(refreshFlightKey, func() (any, error) {
		return nil, s.refresh(context.WithoutCancel(ctx), trigger)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "stopped waiting for session refresh")
		}
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "stopped waiting for session refresh")
	}
}

func (s *AuthService) refresh(ctx context.Context, trigger string) (err error) {
	start := s.now()
	attempt := uuid.NewString()
	logger := s.logger.With("refresh_attempt", attempt, "trigger", trigger)
	defer func() {
		result := metrics.ResultSuccess
		if errors.Is(err, errRefreshSuperseded) {
			result = metrics.ResultStale
		} else if err != nil {
			result = metrics.ResultError
		}
		metrics.EmitSession(s.metrics, metrics.SessionMetric{
			Operation: "refresh",
			Trigger:   trigger,
			Result:    result,
			Duration:  s.now().Sub(start),
			Err:       err,
		})
	}()

	s.mu.Lock()
	gen := s.generation
	creds, _ := s.credentials.Get()
	s.mu.Unlock()

	if creds.RefreshToken == "" {
		s.clearIfCurrent(ctx, gen)
		logger.InfoContext(ctx, "session refresh failed: no refresh credential")
		return apperrors.RefreshFailed(errNoRefreshCredential)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	tokens, err := s.provider.Refresh(callCtx, creds.RefreshToken)
	if err != nil {
		s.clearIfCurrent(ctx, gen)
		logger.WarnContext(ctx, "session refresh failed; session cleared", "error", err)
		return apperrors.RefreshFailed(err)
	}

	identity, next, err := s.sessionFromTokens(tokens, creds.RefreshToken)
	if err != nil {
		s.clearIfCurrent(ctx, gen)
		logger.WarnContext(ctx, "refreshed credential unusable; session cleared", "error", err)
		return apperrors.RefreshFailed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		logger.InfoContext(ctx, "discarding superseded refresh result")
		return apperrors.RefreshFailed(errRefreshSuperseded)
	}
	s.credentials.Set(ctx, next)
	s.identities.SetIdentity(ctx, identity)
	metrics.EmitSessionActive(s.metrics, true)
	logger.DebugContext(ctx, "session refreshed", "expires_at", next.AccessTokenExpiry)
	return nil
}

// Hydrate restores persisted state at startup: the refresh credential and the
// active role, followed by at most one session restore. The identity store is
// marked hydrated when Hydrate returns, whatever the outcome.
func (s *AuthService) Hydrate(ctx context.Context) error {
	defer s.identities.MarkHydrated()

	ctx, cancel := context.WithTimeout(ctx, s.hydrationTimeout)
	defer cancel()

	var errs []error
	if err := s.credentials.Hydrate(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.identities.Hydrate(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		s.logger.WarnContext(ctx, "hydration incomplete", "error", errors.Join(errs...))
	}

	if !s.credentials.HasRefreshToken() {
		s.logger.DebugContext(ctx, "no persisted session to restore")
		return errors.Join(errs...)
	}

	if err := s.RefreshSession(metrics.WithTrigger(ctx, metrics.TriggerRestore)); err != nil {
		s.logger.InfoContext(ctx, "persisted session could not be restored", "error", err)
		errs = append(errs, err)
		return errors.Join(errs...)
	}
	s.logger.InfoContext(ctx, "persisted session restored")
	return errors.Join(errs...)
}

// SelectRole records the user's explicit choice among their authorized roles.
func (s *AuthService) SelectRole(ctx context.Context, r domainauth.Role) error {
	start := s.now()
	err := s.identities.SelectActiveRole(ctx, r)
	s.emit("role_select", start, err)
	return err
}

// SessionSnapshot is a read-only view of the session for presentation layers.
type SessionSnapshot struct {
	Hydrated          bool                 `json:"hydrated"`
	Authenticated     bool                 `json:"authenticated"`
	Identity          *domainauth.Identity `json:"identity,omitempty"`
	ActiveRole        *domainauth.Role     `json:"active_role,omitempty"`
	AccessTokenExpiry *time.Time           `json:"access_token_expiry,omitempty"`
	HasRefreshToken   bool                 `json:"has_refresh_token"`
}

// Snapshot returns the current session state. Tokens are never included.
func (s *AuthService) Snapshot() SessionSnapshot {
	ids := s.identities.Snapshot()
	snap := SessionSnapshot{
		Hydrated:        ids.Hydrated,
		Authenticated:   ids.Identity != nil,
		Identity:        ids.Identity,
		HasRefreshToken: s.credentials.HasRefreshToken(),
	}
	if ids.HasActiveRole {
		r := ids.ActiveRole
		snap.ActiveRole = &r
	}
	if creds, ok := s.credentials.Get(); ok && !creds.AccessTokenExpiry.IsZero() {
		exp := creds.AccessTokenExpiry
		snap.AccessTokenExpiry = &exp
	}
	return snap
}

// sessionFromTokens decodes the access credential and builds the identity and
// credential pair. An empty refresh token in tokens falls back to prevRefresh.
func (s *AuthService) sessionFromTokens(
	tokens ports.TokenSet,
	prevRefresh string,
) (*domainauth.Identity, domainauth.Credentials, error) {
	if tokens.AccessToken == "" {
		return nil, domainauth.Credentials{}, apperrors.New(apperrors.ErrCodeUnknown, "provider returned no access credential")
	}

	claims, err := s.claims.Decode(tokens.AccessToken)
	if err != nil {
		return nil, domainauth.Credentials{}, apperrors.Wrap(err, apperrors.ErrCodeUnknown, "decode access credential")
	}

	identity := claims.Identity()
	if u := tokens.User; u != nil {
		if identity.ID == "" {
			identity.ID = u.ID
		}
		if identity.Email == "" {
			identity.Email = u.Email
		}
		if identity.DisplayName == "" {
			identity.DisplayName = u.DisplayName
		}
	}

	expiry := tokens.ExpiresAt
	if expiry.IsZero() {
		expiry = claims.ExpiresAt
	}
	refresh := tokens.RefreshToken
	if refresh == "" {
		refresh = prevRefresh
	}

	return identity, domainauth.Credentials{
		AccessToken:       tokens.AccessToken,
		AccessTokenExpiry: expiry,
		RefreshToken:      refresh,
	}, nil
}

// clearIfCurrent clears the session unless a sign-in or clear happened since gen.
func (s *AuthService) clearIfCurrent(ctx context.Context, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.clearLocked(ctx)
	}
}

func (s *AuthService) clearLocked(ctx context.Context) {
	s.advanceLocked()
	s.credentials.Clear(ctx)
	s.identities.Clear(ctx)
	metrics.EmitSessionActive(s.metrics, false)
}

// advanceLocked starts a new generation. Callers joining the refresh flight
// after this point start a fresh provider call.
func (s *AuthService) advanceLocked() {
	s.generation++
	s.flight.Forget(refreshFlightKey)
}

func (s *AuthService) emit(op string, start time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitSession(s.metrics, metrics.SessionMetric{
		Operation: op,
		Result:    result,
		Duration:  s.now().Sub(start),
		Err:       err,
	})
}
