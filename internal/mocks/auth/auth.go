package auth

// Package auth contains simple hand-written test doubles for session ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider = (*MockIdentityProvider)(nil)
	_ ports.ClaimsDecoder    = (*MapClaimsDecoder)(nil)
	_ ports.KeyValueStore    = (*MemoryKVStore)(nil)
)

// MockIdentityProvider simulates the remote identity service with deterministic tokens.
// Each successful sign-in or refresh issues "access-N"/"refresh-N" with N incrementing.
type MockIdentityProvider struct {
	SignUpFunc  func(ctx context.Context, in ports.SignUpInput) error
	SignInFunc  func(ctx context.Context, in ports.SignInInput) (ports.TokenSet, error)
	SignOutFunc func(ctx context.Context, in ports.SignOutInput) error
	RefreshFunc func(ctx context.Context, refreshToken string) (ports.TokenSet, error)

	// TTL is applied to issued tokens. Zero means one hour.
	TTL time.Duration

	SignUpCalls  atomic.Int32
	SignInCalls  atomic.Int32
	SignOutCalls atomic.Int32
	RefreshCalls atomic.Int32

	seq atomic.Int64
}

// NewMockIdentityProvider creates a MockIdentityProvider with sensible defaults.
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{TTL: time.Hour}
}

func (m *MockIdentityProvider) SignUp(ctx context.Context, in ports.SignUpInput) error {
	m.SignUpCalls.Add(1)
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, in)
	}
	return nil
}

func (m *MockIdentityProvider) SignIn(ctx context.Context, in ports.SignInInput) (ports.TokenSet, error) {
	m.SignInCalls.Add(1)
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, in)
	}
	if in.Password == "" {
		return ports.TokenSet{}, apperrors.InvalidCredentials("invalid email or password")
	}
	return m.issue(), nil
}

func (m *MockIdentityProvider) SignOut(ctx context.Context, in ports.SignOutInput) error {
	m.SignOutCalls.Add(1)
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, in)
	}
	return nil
}

func (m *MockIdentityProvider) Refresh(ctx context.Context, refreshToken string) (ports.TokenSet, error) {
	m.RefreshCalls.Add(1)
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	if refreshToken == "" {
		return ports.TokenSet{}, apperrors.InvalidCredentials("refresh token required")
	}
	return m.issue(), nil
}

func (m *MockIdentityProvider) issue() ports.TokenSet {
	n := m.seq.Add(1)
	ttl := m.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return ports.TokenSet{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		ExpiresAt:    time.Now().Add(ttl),
	}
}

// MapClaimsDecoder decodes access tokens by looking them up in a table.
// Tokens missing from the table decode to Default when it is set.
type MapClaimsDecoder struct {
	mu      sync.RWMutex
	tokens  map[string]domainauth.Claims
	Default *domainauth.Claims
}

// NewMapClaimsDecoder returns a decoder that resolves every unknown token to def.
func NewMapClaimsDecoder(def domainauth.Claims) *MapClaimsDecoder {
	return &MapClaimsDecoder{tokens: map[string]domainauth.Claims{}, Default: &def}
}

// Put registers claims for a specific token.
func (d *MapClaimsDecoder) Put(token string, claims domainauth.Claims) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tokens == nil {
		d.tokens = map[string]domainauth.Claims{}
	}
	d.tokens[token] = claims
}

func (d *MapClaimsDecoder) Decode(accessToken string) (domainauth.Claims, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.tokens[accessToken]; ok {
		return c, nil
	}
	if d.Default != nil {
		return *d.Default, nil
	}
	return domainauth.Claims{}, apperrors.Validation("malformed access token")
}

// MemoryKVStore is an in-memory key-value store for unit tests.
type MemoryKVStore struct {
	mu   sync.Mutex
	data map[string]string

	// SetErr, when non-nil, is returned from every Set call.
	SetErr error
}

// NewMemoryKVStore creates a new in-memory store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{data: make(map[string]string)}
}

func (m *MemoryKVStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", apperrors.NotFound("key not found: " + key)
	}
	return v, nil
}

func (m *MemoryKVStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *MemoryKVStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Snapshot returns a copy of the stored values.
func (m *MemoryKVStore) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
