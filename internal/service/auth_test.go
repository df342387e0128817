package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/mocks"
	authmocks "github.com/target/booking-session/internal/mocks/auth"
	"github.com/target/booking-session/internal/ports"
)

type sessionFixture struct {
	svc     *AuthService
	decoder *authmocks.MapClaimsDecoder
	kv      *authmocks.MemoryKVStore
	creds   *CredentialStore
	ids     *IdentityStore
}

func newSessionFixture(t *testing.T, provider ports.IdentityProvider, roles ...domainauth.Role) *sessionFixture {
	t.Helper()

	kv := authmocks.NewMemoryKVStore()
	creds, err := NewCredentialStore(CredentialStoreOptions{Store: kv})
	require.NoError(t, err)
	ids, err := NewIdentityStore(IdentityStoreOptions{Store: kv})
	require.NoError(t, err)

	decoder := authmocks.NewMapClaimsDecoder(domainauth.Claims{
		Subject:     "user-1",
		Email:       "ada@example.com",
		DisplayName: "Ada Lovelace",
		Roles:       domainauth.NewRoleSet(roles...),
	})

	svc, err := NewAuthService(AuthServiceOptions{
		Provider:       provider,
		Claims:         decoder,
		Credentials:    creds,
		Identities:     ids,
		RefreshTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	return &sessionFixture{svc: svc, decoder: decoder, kv: kv, creds: creds, ids: ids}
}

func (f *sessionFixture) signIn(t *testing.T) *SignInResult {
	t.Helper()
	res, err := f.svc.SignIn(context.Background(), ports.SignInInput{Email: "ada@example.com", Password: "pw"})
	require.NoError(t, err)
	return res
}

func (f *sessionFixture) assertSignedOut(t *testing.T) {
	t.Helper()
	_, ok := f.creds.Get()
	assert.False(t, ok, "credential store not empty")
	snap := f.ids.Snapshot()
	assert.Nil(t, snap.Identity, "identity not cleared")
	assert.False(t, snap.HasActiveRole, "active role not cleared")
	assert.Empty(t, f.kv.Snapshot(), "durable storage not cleared")
}

func TestNewAuthService_RequiresDependencies(t *testing.T) {
	kv := authmocks.NewMemoryKVStore()
	creds, _ := NewCredentialStore(CredentialStoreOptions{Store: kv})
	ids, _ := NewIdentityStore(IdentityStoreOptions{Store: kv})
	provider := authmocks.NewMockIdentityProvider()
	decoder := authmocks.NewMapClaimsDecoder(domainauth.Claims{})

	tests := []struct {
		name string
		opts AuthServiceOptions
	}{
		{"missing provider", AuthServiceOptions{Claims: decoder, Credentials: creds, Identities: ids}},
		{"missing decoder", AuthServiceOptions{Provider: provider, Credentials: creds, Identities: ids}},
		{"missing credentials", AuthServiceOptions{Provider: provider, Claims: decoder, Identities: ids}},
		{"missing identities", AuthServiceOptions{Provider: provider, Claims: decoder, Credentials: creds}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAuthService(tt.opts)
			assert.Error(t, err)
		})
	}

	assert.Panics(t, func() { MustNewAuthService(AuthServiceOptions{}) })
}

func TestAuthService_SignIn_SingleRoleAutoResolves(t *testing.T) {
	f := newSessionFixture(t, authmocks.NewMockIdentityProvider(), domainauth.RoleTutor)

	res := f.signIn(t)

	assert.True(t, res.HasActiveRole)
	assert.Equal(t, domainauth.RoleTutor, res.ActiveRole)
	assert.Equal(t, "user-1", res.Identity.ID)
	assert.Equal(t, "access-1", res.Credentials.AccessToken)

	token, ok := f.creds.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "access-1", token)

	// Only the refresh token and active role reach durable storage.
	assert.Equal(t, map[string]string{RefreshTokenKey: "refresh-1", ActiveRoleKey: "1"}, f.kv.Snapshot())
}

func TestAuthService_SignIn_MultipleRolesLeaveActiveRoleAbsent(t *testing.T) {
	f := newSessionFixture(t, authmocks.NewMockIdentityProvider(), domainauth.RoleStudent, domainauth.RoleTutor)
	require.NoError(t, f.kv.Set(context.Background(), ActiveRoleKey, "0"))

	res := f.signIn(t)

	assert.False(t, res.HasActiveRole)
	_, ok := f.ids.ActiveRole()
	assert.False(t, ok)
	assert.Equal(t, domainauth.RoleSet{domainauth.RoleStudent, domainauth.RoleTutor}, res.Identity.Roles)
	assert.NotContains(t, f.kv.Snapshot(), ActiveRoleKey)
}

func TestAuthService_SignIn_Failures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checkFn func(error) bool
	}{
		{"invalid credentials", apperrors.InvalidCredentials("nope"), apperrors.IsInvalidCredentials},
		{"network", context.DeadlineExceeded, apperrors.IsNetwork},
		{"unknown", errors.New("teapot"), func(err error) bool { return apperrors.GetCode(err) == apperrors.ErrCodeUnknown }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := authmocks.NewMockIdentityProvider()
			provider.SignInFunc = func(context.Context, ports.SignInInput) (ports.TokenSet, error) {
				return ports.TokenSet{}, tt.err
			}
			f := newSessionFixture(t, provider, domainauth.RoleStudent)

			_, err := f.svc.SignIn(context.Background(), ports.SignInInput{Email: "a@b.c", Password: "pw"})
			require.Error(t, err)
			assert.True(t, tt.checkFn(err), "unexpected code %q", apperrors.GetCode(err))
			f.assertSignedOut(t)
		})
	}
}

func TestAuthService_SignIn_MissingInput(t *testing.T) {
	provider := authmocks.NewMockIdentityProvider()
	f := newSessionFixture(t, provider, domainauth.RoleStudent)

	_, err := f.svc.SignIn(context.Background(), ports.SignInInput{Email: "  "})
	assert.True(t, apperrors.IsInvalidCredentials(err))
	assert.Zero(t, provider.SignInCalls.Load())
}

func TestAuthService_SignIn_UndecodableCredential(t *testing.T) {
	provider := authmocks.NewMockIdentityProvider()
	f := newSessionFixture(t, provider, domainauth.RoleStudent)
	f.decoder.Default = nil

	_, err := f.svc.SignIn(context.Background(), ports.SignInInput{Email: "a@b.c", Password: "pw"})
	assert.Equal(t, apperrors.ErrCodeUnknown, apperrors.GetCode(err))
	f.assertSignedOut(t)
}

func TestAuthService_SignIn_FillsIdentityFromProviderUser(t *testing.T) {
	provider := authmocks.NewMockIdentityProvider()
	provider.SignInFunc = func(context.Context, ports.SignInInput) (ports.TokenSet, error) {
		return ports.TokenSet{
			AccessToken:  "opaque",
			RefreshToken: "r",
			User:         &ports.ProviderUser{ID: "p-1", Email: "p@example.com", DisplayName: "From Provider"},
		}, nil
	}
	f := newSessionFixture(t, provider)
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	f.decoder.Put("opaque", domainauth.Claims{Roles: domainauth.NewRoleSet(domainauth.RoleStudent), ExpiresAt: exp})

	res := f.signIn(t)
	assert.Equal(t, "p-1", res.Identity.ID)
	assert.Equal(t, "p@example.com", res.Identity.Email)
	assert.Equal(t, "From Provider", res.Identity.DisplayName)
	assert.Equal(t, exp, res.Credentials.AccessTokenExpiry, "expiry falls back to the exp claim")
}

func TestAuthService_SignUp_DoesNotEstablishSession(t *testing.T) {
	provider := authmocks.NewMockIdentityProvider()
	f := newSessionFixture(t, provider, domainauth.RoleStudent)

	require.NoError(t, f.svc.SignUp(context.Background(), ports.SignUpInput{Email: "new@example.com", Password: "pw"}))
	assert.EqualValues(t, 1, provider.SignUpCalls.Load())
	f.assertSignedOut(t)

	err := f.svc.SignUp(context.Background(), ports.SignUpInput{Email: "new@example.com"})
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "password", apperrors.GetField(err))
}

func TestAuthService_SignOut_Idempotent(t *testing.T) {
	provider := authmocks.NewMockIdentityProvider()
	provider.SignOutFunc = func(context.Context, ports.SignOutInput) error {
		return apperrors.Network(errors.New("connection refused"), "sign out failed")
	}
	f := newSessionFixture(t, provider, domainauth.RoleStudent, domainauth.RoleAdmin)
	ctx := context.Background()

	// Unauthenticated.
	f.svc.SignOut(ctx)
	f.assertSignedOut(t)
	assert.Zero(t, provider.SignOutCalls.Load(), "nothing to invalidate remotely")

	// Authenticated with a failing remote call.
	f.signIn(t)
	require.NoError(t, f.svc.SelectRole(ctx, domainauth.RoleAdmin))
	f.svc.SignOut(ctx)
	f.assertSignedOut(t)
	assert.EqualValues(t, 1, provider.SignOutCalls.Load())

	// Repeated.
	for range 3 {
		f.svc.SignOut(ctx)
		f.assertSignedOut(t)
	}
}

func TestAuthService_SignOut_SendsTokensToProvider(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockIdentityProvider(ctrl)
	f := newSessionFixture(t, provider, domainauth.RoleStudent)

	provider.EXPECT().
		SignIn(gomock.Any(), ports.SignInInput{Email: "ada@example.com", Password: "pw"}).
		Return(ports.TokenSet{AccessToken: "a1", RefreshToken: "r1"}, nil)
	provider.EXPECT().
		SignOut(gomock.Any(), ports.SignOutInput{AccessToken: "a1", RefreshToken: "r1"}).
		Return(nil)

	f.signIn(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A cancelled caller context does not stop remote invalidation.
	f.svc.SignOut(ctx)
	f.assertSignedOut(t)
}

func TestAuthService_RefreshSession_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	provider := authmocks.NewMockIdentityProvider()
	provider.RefreshFunc = func(ctx context.Context, refreshToken string) (ports.TokenSet, error) {
		entered <- struct{}{}
		<-release
		return ports.TokenSet{AccessToken: "access-new", RefreshToken: "refresh-new"}, nil
	}
	f := newSessionFixture(t, provider, domainauth.RoleStudent)
	f.signIn(t)

	const callers = 16
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.svc.RefreshSession(context.Background())
		}()
	}

	<-entered
	// Give the remaining callers time to join the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, provider.RefreshCalls.Load())
	for _, err := range errs {
		assert.NoError(t, err)
	}
	token, _ := f.creds.AccessToken()
	assert.Equal(t, "access-new", token)
	assert.Equal(t, "refresh-new", f.kv.Snapshot()[RefreshTokenKey])
}

func TestAuthService_RefreshSession_FailureSharedAndClears(t *testing.T) {
	release := make(chan struct{})
	providerErr := apperrors.InvalidCredentials("refresh token expired")

	provider := authmocks.NewMockIdentityProvider()
	provider.RefreshFunc = func(context.Context, string) (ports.TokenSet, error) {
		<-release
		return ports.TokenSet{}, providerErr
	}
	f := newSessionFixture(t, provider, domainauth.RoleTutor)
	f.signIn(t)

	const callers = 8
	errs := make(chan error, callers)
	for range callers {
		go func() { errs <- f.svc.RefreshSession(context.Background()) }()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	var first error
	for range callers {
		err := <-errs
		require.Error(t, err)
		assert.True(t, apperrors.IsRefreshFailed(err))
		assert.ErrorIs(t, err, providerErr)
		if first == nil {
			first = err
		}
		assert.Same(t, first, err, "all callers observe the same outcome")
	}
	assert.EqualValues(t, 1, provider.RefreshCalls.Load())
	f.assertSignedOut(t)
}

func TestAuthService_RefreshSession_NoRefreshTokenClears(t *testing.T) {
	provider := authmocks.NewMockIdentityProvider()
	f := newSessionFixture(t, provider, domainauth.RoleTutor)

	require.NoError(t, f.ids.SetActiveRole(context.Background(), domainauth.RoleTutor))

	err := f.svc.RefreshSession(context.Background())
	assert.True(t, apperrors.IsRefreshFailed(err))
	assert.Zero(t, provider.RefreshCalls.Load())
	f.assertSignedOut(t)
}

func TestAuthService_RefreshSession_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	provider := authmocks.NewMockIdentityProvider()
	provider.RefreshFunc = func(_ context.Context, rt string) (ports.TokenSet, error) {
		assert.Equal(t, "refresh-1", rt)
		return ports.TokenSet{AccessToken: "access-rotated"}, nil
	}
	f := newSessionFixture(t, provider, domainauth.RoleStudent)
	f.signIn(t)

	require.NoError(t, f.svc.RefreshSession(context.Background()))

	creds, _ := f.creds.Get()
	assert.Equal(t, "access-rotated", creds.AccessToken)
	assert.Equal(t, "refresh-1", creds.RefreshToken)
}

func TestAuthService_RefreshSession_RoleChangesKeepInvariant(t *testing.T) {
	provider := authmocks.NewMockIdentityProvider()
	f := newSessionFixture(t, provider, domainauth.RoleStudent, domainauth.RoleAdmin)
	f.signIn(t)
	require.NoError(t, f.svc.SelectRole(context.Background(), domainauth.RoleAdmin))

	// The admin role is revoked upstream; the next access credential no longer carries it.
	f.decoder.Put("access-2", domainauth.Claims{Subject: "user-1", Roles: domainauth.NewRoleSet(domainauth.RoleStudent)})
	require.NoError(t, f.svc.RefreshSession(context.Background()))

	_, ok := f.ids.ActiveRole()
	assert.False(t, ok)
	assertRoleInvariant(t, f.ids)
}

func TestAuthService_RefreshSession_StaleResultDiscardedAfterSignOut(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	provider := authmocks.NewMockIdentityProvider()
	provider.RefreshFunc = func(context.Context, string) (ports.TokenSet, error) {
		close(entered)
		<-release
		return ports.TokenSet{AccessToken: "late-access", RefreshToken: "late-refresh"}, nil
	}
	f := newSessionFixture(t, provider, domainauth.RoleStudent)
	f.signIn(t)

	done := make(chan error, 1)
	go func() { done <- f.svc.RefreshSession(context.Background()) }()

	<-entered
	f.svc.SignOut(context.Background())
	close(release)

	err := <-done
	assert.True(t, apperrors.IsRefreshFailed(err))
	assert.ErrorIs(t, err, errRefreshSuperseded)
	f.assertSignedOut(t)
}

func TestAuthService_RefreshSession_StaleResultDoesNotOverwriteNewSignIn(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	provider := authmocks.NewMockIdentityProvider()
	provider.RefreshFunc = func(context.Context, string) (ports.TokenSet, error) {
		close(entered)
		<-release
		return ports.TokenSet{AccessToken: "late-access", RefreshToken: "late-refresh"}, nil
	}
	f := newSessionFixture(t, provider, domainauth.RoleStudent)
	f.signIn(t)

	done := make(chan error, 1)
	go func() { done <- f.svc.RefreshSession(context.Background()) }()

	<-entered
	f.svc.SignOut(context.Background())
	res := f.signIn(t)
	close(release)
	<-done

	creds, ok := f.creds.Get()
	require.True(t, ok)
	assert.Equal(t, res.Credentials.AccessToken, creds.AccessToken)
	assert.NotEqual(t, "late-refresh", f.kv.Snapshot()[RefreshTokenKey])
}

func TestAuthService_RefreshSession_NewSessionDoesNotJoinStaleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	provider := authmocks.NewMockIdentityProvider()
	provider.RefreshFunc = func(_ context.Context, refreshToken string) (ports.TokenSet, error) {
		if provider.RefreshCalls.Load() == 1 {
			close(entered)
			<-release
			return ports.TokenSet{AccessToken: "late-access", RefreshToken: "late-refresh"}, nil
		}
		return ports.TokenSet{AccessToken: "fresh-access", RefreshToken: refreshToken}, nil
	}
	f := newSessionFixture(t, provider, domainauth.RoleStudent)
	f.signIn(t)

	stale := make(chan error, 1)
	go func() { stale <- f.svc.RefreshSession(context.Background()) }()
	<-entered

	f.svc.SignOut(context.Background())
	f.signIn(t)

	// The new session gets its own provider call while the old one is stuck.
	require.NoError(t, f.svc.RefreshSession(context.Background()))
	assert.EqualValues(t, 2, provider.RefreshCalls.Load())

	close(release)
	assert.ErrorIs(t, <-stale, errRefreshSuperseded)

	creds, ok := f.creds.Get()
	require.True(t, ok)
	assert.Equal(t, "fresh-access", creds.AccessToken)
	assert.NotEqual(t, "late-refresh", f.kv.Snapshot()[RefreshTokenKey])
}

func TestAuthService_RefreshSession_CallerCancellationDoesNotAbortRefresh(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})

	provider := authmocks.NewMockIdentityProvider()
	provider.RefreshFunc = func(ctx context.Context, _ string) (ports.TokenSet, error) {
		defer close(finished)
		<-release
		if err := ctx.Err(); err != nil {
			return ports.TokenSet{}, err
		}
		return ports.TokenSet{AccessToken: "access-after-cancel"}, nil
	}
	f := newSessionFixture(t, provider, domainauth.RoleStudent)
	f.signIn(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.RefreshSession(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-done
	assert.True(t, apperrors.IsCanceled(err))

	close(release)
	<-finished
	require.Eventually(t, func() bool {
		token, _ := f.creds.AccessToken()
		return token == "access-after-cancel"
	}, time.Second, 10*time.Millisecond)
}

func TestAuthService_Hydrate(t *testing.T) {
	ctx := context.Background()

	t.Run("restores persisted session and role", func(t *testing.T) {
		provider := authmocks.NewMockIdentityProvider()
		f := newSessionFixture(t, provider, domainauth.RoleStudent, domainauth.RoleTutor)
		require.NoError(t, f.kv.Set(ctx, RefreshTokenKey, "persisted"))
		require.NoError(t, f.kv.Set(ctx, ActiveRoleKey, "1"))

		assert.False(t, f.ids.Hydrated())
		require.NoError(t, f.svc.Hydrate(ctx))

		snap := f.svc.Snapshot()
		assert.True(t, snap.Hydrated)
		assert.True(t, snap.Authenticated)
		require.NotNil(t, snap.ActiveRole)
		assert.Equal(t, domainauth.RoleTutor, *snap.ActiveRole)
		assert.EqualValues(t, 1, provider.RefreshCalls.Load())
	})

	t.Run("nothing persisted", func(t *testing.T) {
		provider := authmocks.NewMockIdentityProvider()
		f := newSessionFixture(t, provider, domainauth.RoleStudent)

		require.NoError(t, f.svc.Hydrate(ctx))
		assert.True(t, f.ids.Hydrated())
		assert.Zero(t, provider.RefreshCalls.Load())
		assert.False(t, f.svc.Snapshot().Authenticated)
	})

	t.Run("failed restore still completes hydration", func(t *testing.T) {
		provider := authmocks.NewMockIdentityProvider()
		provider.RefreshFunc = func(context.Context, string) (ports.TokenSet, error) {
			return ports.TokenSet{}, apperrors.InvalidCredentials("expired")
		}
		f := newSessionFixture(t, provider, domainauth.RoleStudent)
		require.NoError(t, f.kv.Set(ctx, RefreshTokenKey, "expired"))
		require.NoError(t, f.kv.Set(ctx, ActiveRoleKey, "0"))

		err := f.svc.Hydrate(ctx)
		assert.True(t, apperrors.IsRefreshFailed(err))
		assert.True(t, f.ids.Hydrated())
		f.assertSignedOut(t)
		assert.EqualValues(t, 1, provider.RefreshCalls.Load(), "restore is not retried")
	})
}

func TestAuthService_SelectRole(t *testing.T) {
	f := newSessionFixture(t, authmocks.NewMockIdentityProvider(), domainauth.RoleStudent, domainauth.RoleTutor)
	ctx := context.Background()

	err := f.svc.SelectRole(ctx, domainauth.RoleStudent)
	assert.True(t, apperrors.IsUnauthorized(err))

	f.signIn(t)
	assert.True(t, apperrors.IsRoleInvariant(f.svc.SelectRole(ctx, domainauth.RoleAdmin)))
	require.NoError(t, f.svc.SelectRole(ctx, domainauth.RoleStudent))

	snap := f.svc.Snapshot()
	require.NotNil(t, snap.ActiveRole)
	assert.Equal(t, domainauth.RoleStudent, *snap.ActiveRole)
	assert.True(t, snap.HasRefreshToken)
	assert.NotNil(t, snap.AccessTokenExpiry)
}
