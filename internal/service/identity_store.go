package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

// ActiveRoleKey is the durable storage key holding the active-role selection.
const ActiveRoleKey = "active_role"

// IdentityStoreOptions groups dependencies for IdentityStore.
type IdentityStoreOptions struct {
	Store  ports.KeyValueStore // Required: durable storage for the active role
	Logger *slog.Logger        // Optional: structured logger
}

// IdentitySnapshot is a consistent view of the identity store.
type IdentitySnapshot struct {
	Identity      *domainauth.Identity
	ActiveRole    domainauth.Role
	HasActiveRole bool
	Hydrated      bool

	// state is the store state this view was read from.
	state *identityState
}

type identityState struct {
	identity *domainauth.Identity
	role     domainauth.Role
	hasRole  bool
}

// IdentityStore holds the authenticated identity and the active role.
// Only the active role is persisted. Identity and role are swapped together so
// readers never observe one cleared without the other.
type IdentityStore struct {
	store  ports.KeyValueStore
	logger *slog.Logger

	mu       sync.Mutex
	state    atomic.Pointer[identityState]
	hydrated atomic.Bool
}

// NewIdentityStore constructs a new IdentityStore.
func NewIdentityStore(opts IdentityStoreOptions) (*IdentityStore, error) {
	if opts.Store == nil {
		return nil, errors.New("KeyValueStore is required")
	}
	s := &IdentityStore{
		store:  opts.Store,
		logger: componentLogger(opts.Logger, "identity_store"),
	}
	s.state.Store(&identityState{})
	return s, nil
}

// Snapshot returns identity, active role and hydration state from a single read.
func (s *IdentityStore) Snapshot() IdentitySnapshot {
	st := s.state.Load()
	return IdentitySnapshot{
		Identity:      cloneIdentity(st.identity),
		ActiveRole:    st.role,
		HasActiveRole: st.hasRole,
		Hydrated:      s.hydrated.Load(),
		state:         st,
	}
}

// Identity returns a copy of the current identity.
func (s *IdentityStore) Identity() (*domainauth.Identity, bool) {
	st := s.state.Load()
	if st.identity == nil {
		return nil, false
	}
	return cloneIdentity(st.identity), true
}

// ActiveRole returns the active role, if one is selected.
func (s *IdentityStore) ActiveRole() (domainauth.Role, bool) {
	st := s.state.Load()
	return st.role, st.hasRole
}

// HasRole reports whether the current identity is authorized for r.
func (s *IdentityStore) HasRole(r domainauth.Role) bool {
	return s.state.Load().identity.HasRole(r)
}

// SetIdentity replaces the identity and keeps the active role when it is still a
// member of the new role set. A role that is not a member is a role invariant
// violation: it is logged and dropped. A nil identity clears the store.
func (s *IdentityStore) SetIdentity(ctx context.Context, id *domainauth.Identity) {
	if id == nil {
		s.Clear(ctx)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	next := &identityState{identity: cloneIdentity(id), role: cur.role, hasRole: cur.hasRole}
	if next.hasRole && !id.HasRole(next.role) {
		s.logger.WarnContext(ctx, "role invariant violation: active role not authorized for identity, dropping",
			"role", next.role,
			"authorized_roles", id.Roles,
		)
		next.role, next.hasRole = 0, false
		s.deletePersisted(ctx)
	}
	s.state.Store(next)
}

// Establish installs a freshly signed-in identity. The active role is reset: it
// is set to the sole authorized role, or left absent when there are several.
func (s *IdentityStore) Establish(ctx context.Context, id *domainauth.Identity) (domainauth.Role, bool) {
	if id == nil {
		s.Clear(ctx)
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := &identityState{identity: cloneIdentity(id)}
	next.role, next.hasRole = id.Roles.Only()
	s.state.Store(next)

	if next.hasRole {
		s.persistRole(ctx, next.role)
	} else {
		s.deletePersisted(ctx)
	}
	return next.role, next.hasRole
}

// SetActiveRole selects r as the active role. With an identity present, r must
// be one of its authorized roles; otherwise a role_invariant error is returned
// and state is unchanged. Without an identity the value is accepted and checked
// when the identity is loaded.
func (s *IdentityStore) SetActiveRole(ctx context.Context, r domainauth.Role) error {
	if !r.Valid() {
		return unknownRole(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if cur.identity == nil {
		s.logger.DebugContext(ctx, "active role set before identity loaded, pending validation", "role", r)
	}
	return s.activateLocked(ctx, cur, r)
}

// SelectActiveRole records an explicit choice for the signed-in identity. The
// identity check and the commit happen under one lock, so a concurrent clear
// either wins (unauthorized) or erases the choice.
func (s *IdentityStore) SelectActiveRole(ctx context.Context, r domainauth.Role) error {
	if !r.Valid() {
		return unknownRole(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if cur.identity == nil {
		return apperrors.New(apperrors.ErrCodeUnauthorized, "no active session")
	}
	return s.activateLocked(ctx, cur, r)
}

// ResolveActiveRole records r in memory only, and only if the store still holds
// the state basis was read from and that state has an identity authorized for
// r and no active role. It never waits on the store lock and never touches
// durable storage. It reports whether r was recorded.
func (s *IdentityStore) ResolveActiveRole(basis IdentitySnapshot, r domainauth.Role) bool {
	cur := basis.state
	if cur == nil || cur.identity == nil || cur.hasRole || !cur.identity.HasRole(r) {
		return false
	}
	return s.state.CompareAndSwap(cur, &identityState{identity: cur.identity, role: r, hasRole: true})
}

func (s *IdentityStore) activateLocked(ctx context.Context, cur *identityState, r domainauth.Role) error {
	if cur.identity != nil && !cur.identity.HasRole(r) {
		s.logger.WarnContext(ctx, "role invariant violation: refusing to activate unauthorized role",
			"role", r,
			"authorized_roles", cur.identity.Roles,
		)
		return apperrors.RoleInvariantf("role %s is not authorized for this identity", r)
	}
	if cur.hasRole && cur.role == r {
		return nil
	}
	s.state.Store(&identityState{identity: cur.identity, role: r, hasRole: true})
	s.persistRole(ctx, r)
	return nil
}

func unknownRole(r domainauth.Role) error {
	return apperrors.ValidationField("role", fmt.Sprintf("unknown role %d", int(r)))
}

// Clear resets identity and active role together.
func (s *IdentityStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Store(&identityState{})
	s.deletePersisted(ctx)
}

// Hydrate restores the persisted active role. A stored value that does not
// name a known role is discarded.
func (s *IdentityStore) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.store.Get(ctx, ActiveRoleKey)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("load active role: %w", err)
	}

	role, ok := domainauth.ParseRole(raw)
	if !ok {
		s.logger.WarnContext(ctx, "discarding unreadable persisted active role", "value", raw)
		s.deletePersisted(ctx)
		return nil
	}

	cur := s.state.Load()
	if cur.hasRole || cur.identity != nil {
		return nil
	}
	s.state.Store(&identityState{role: role, hasRole: true})
	return nil
}

// Hydrated reports whether startup restoration has finished.
func (s *IdentityStore) Hydrated() bool {
	return s.hydrated.Load()
}

// MarkHydrated records that startup restoration has finished, successfully or not.
func (s *IdentityStore) MarkHydrated() {
	s.hydrated.Store(true)
}

func (s *IdentityStore) persistRole(ctx context.Context, r domainauth.Role) {
	if err := s.store.Set(ctx, ActiveRoleKey, strconv.Itoa(int(r))); err != nil {
		s.logger.WarnContext(ctx, "persist active role failed", "error", err)
	}
}

func (s *IdentityStore) deletePersisted(ctx context.Context) {
	if err := s.store.Delete(ctx, ActiveRoleKey); err != nil {
		s.logger.WarnContext(ctx, "delete persisted active role failed", "error", err)
	}
}

func cloneIdentity(id *domainauth.Identity) *domainauth.Identity {
	if id == nil {
		return nil
	}
	out := *id
	out.Roles = slices.Clone(id.Roles)
	return &out
}
