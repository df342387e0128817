package service

import (
	"context"
	"errors"
	"log/slog"

	domainauth "github.com/target/booking-session/internal/domain/auth"
)

// AccessGuardOptions groups dependencies for AccessGuard.
type AccessGuardOptions struct {
	Identities *IdentityStore    // Required
	Routes     domainauth.Routes // Required: sign-in, home and role-selection paths
	Logger     *slog.Logger      // Optional: structured logger
}

// ViewRequirement describes who may see a view.
type ViewRequirement struct {
	AllowedRoles         []domainauth.Role
	AllowUnauthenticated bool
}

// AccessGuard evaluates view access against the current identity store state.
// It never performs network I/O and never returns an error.
type AccessGuard struct {
	identities *IdentityStore
	routes     domainauth.Routes
	logger     *slog.Logger
}

// NewAccessGuard constructs a new AccessGuard.
func NewAccessGuard(opts AccessGuardOptions) (*AccessGuard, error) {
	if opts.Identities == nil {
		return nil, errors.New("IdentityStore is required")
	}
	if opts.Routes.SignIn == "" || opts.Routes.Home == "" || opts.Routes.RoleSelection == "" {
		return nil, errors.New("sign-in, home and role-selection routes are required")
	}
	return &AccessGuard{
		identities: opts.Identities,
		routes:     opts.Routes,
		logger:     componentLogger(opts.Logger, "access_guard"),
	}, nil
}

// Routes returns the configured navigation targets.
func (g *AccessGuard) Routes() domainauth.Routes {
	return g.routes
}

// Check decides whether a protected view may render.
func (g *AccessGuard) Check(ctx context.Context, req ViewRequirement) domainauth.Decision {
	snap := g.identities.Snapshot()
	in := guardInput(snap)
	in.AllowedRoles = req.AllowedRoles
	in.AllowUnauthenticated = req.AllowUnauthenticated

	d := domainauth.Decide(in, g.routes)
	g.recordResolved(ctx, snap, d)
	return d
}

// CheckRedirectIfAuthenticated decides whether a page meant for signed-out
// users (such as sign-in) should send an authenticated user elsewhere.
func (g *AccessGuard) CheckRedirectIfAuthenticated(ctx context.Context) domainauth.Decision {
	snap := g.identities.Snapshot()
	d := domainauth.DecideRedirectIfAuthenticated(guardInput(snap), g.routes)
	g.recordResolved(ctx, snap, d)
	return d
}

func guardInput(snap IdentitySnapshot) domainauth.GuardInput {
	return domainauth.GuardInput{
		Hydrated:      snap.Hydrated,
		Authenticated: snap.Identity != nil,
		Identity:      snap.Identity,
		ActiveRole:    snap.ActiveRole,
		HasActiveRole: snap.HasActiveRole,
	}
}

// recordResolved keeps a role the guard auto-resolved in memory so later
// decisions agree with what was rendered. It is dropped when the session
// changed since snap was taken.
func (g *AccessGuard) recordResolved(ctx context.Context, snap IdentitySnapshot, d domainauth.Decision) {
	if !d.HasResolvedRole {
		return
	}
	if !g.identities.ResolveActiveRole(snap, d.ResolvedRole) {
		g.logger.DebugContext(ctx, "auto-resolved role not recorded; session changed", "role", d.ResolvedRole)
	}
}
