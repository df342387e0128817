package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

// RefreshTokenKey is the durable storage key holding the refresh credential.
const RefreshTokenKey = "refresh_token"

// CredentialStoreOptions groups dependencies for CredentialStore.
type CredentialStoreOptions struct {
	Store  ports.KeyValueStore // Required: durable storage for the refresh credential
	Logger *slog.Logger        // Optional: structured logger
}

// CredentialStore holds the current bearer pair. The access token lives only in
// memory; the refresh token is written through to durable storage.
//
// Reads are lock-free snapshots. Writes are serialized so the durable copy
// follows the same order as the in-memory one.
type CredentialStore struct {
	store  ports.KeyValueStore
	logger *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[domainauth.Credentials]
}

var _ ports.CredentialSource = (*CredentialStore)(nil)

// NewCredentialStore constructs a new CredentialStore.
func NewCredentialStore(opts CredentialStoreOptions) (*CredentialStore, error) {
	if opts.Store == nil {
		return nil, errors.New("KeyValueStore is required")
	}
	return &CredentialStore{
		store:  opts.Store,
		logger: componentLogger(opts.Logger, "credential_store"),
	}, nil
}

// Get returns the current credentials, if any.
func (s *CredentialStore) Get() (domainauth.Credentials, bool) {
	c := s.current.Load()
	if c == nil {
		return domainauth.Credentials{}, false
	}
	return *c, true
}

// AccessToken returns the in-memory access credential.
func (s *CredentialStore) AccessToken() (string, bool) {
	c := s.current.Load()
	if c == nil || c.AccessToken == "" {
		return "", false
	}
	return c.AccessToken, true
}

// HasRefreshToken reports whether a refresh credential is held.
func (s *CredentialStore) HasRefreshToken() bool {
	c := s.current.Load()
	return c != nil && c.RefreshToken != ""
}

// Set replaces the credentials. Persistence failures are logged; the in-memory
// value is authoritative for the lifetime of the process.
func (s *CredentialStore) Set(ctx context.Context, c domainauth.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := c
	s.current.Store(&next)

	if prev != nil && prev.RefreshToken == c.RefreshToken {
		return
	}
	if c.RefreshToken == "" {
		s.deletePersisted(ctx)
		return
	}
	if err := s.store.Set(ctx, RefreshTokenKey, c.RefreshToken); err != nil {
		s.logger.WarnContext(ctx, "persist refresh credential failed", "error", err)
	}
}

// Clear removes the credentials from memory and durable storage.
func (s *CredentialStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Store(nil)
	s.deletePersisted(ctx)
}

// Hydrate loads the persisted refresh credential. It never overrides credentials
// that were set after process start.
func (s *CredentialStore) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.store.Get(ctx, RefreshTokenKey)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("load refresh credential: %w", err)
	}
	if token == "" || s.current.Load() != nil {
		return nil
	}
	s.current.Store(&domainauth.Credentials{RefreshToken: token})
	s.logger.DebugContext(ctx, "refresh credential restored")
	return nil
}

func (s *CredentialStore) deletePersisted(ctx context.Context) {
	if err := s.store.Delete(ctx, RefreshTokenKey); err != nil {
		s.logger.WarnContext(ctx, "delete persisted refresh credential failed", "error", err)
	}
}

func componentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return logger.With("component", component)
}
