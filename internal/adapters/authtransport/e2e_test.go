package authtransport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/booking-session/internal/adapters/authtransport"
	domainauth "github.com/target/booking-session/internal/domain/auth"
	authmocks "github.com/target/booking-session/internal/mocks/auth"
	"github.com/target/booking-session/internal/ports"
	"github.com/target/booking-session/internal/service"
)

// Sign in with a single-role identity, let the access credential expire, and
// call a protected endpoint: the transport refreshes and retries transparently.
func TestSessionRecoversFromExpiredCredential(t *testing.T) {
	ctx := context.Background()

	var current atomic.Value
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+current.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"bookings":[{"id":1}]}`))
	}))
	defer api.Close()

	provider := authmocks.NewMockIdentityProvider()
	kv := authmocks.NewMemoryKVStore()
	creds, err := service.NewCredentialStore(service.CredentialStoreOptions{Store: kv})
	require.NoError(t, err)
	ids, err := service.NewIdentityStore(service.IdentityStoreOptions{Store: kv})
	require.NoError(t, err)
	svc, err := service.NewAuthService(service.AuthServiceOptions{
		Provider:    provider,
		Claims:      authmocks.NewMapClaimsDecoder(domainauth.Claims{Subject: "u-1", Roles: domainauth.NewRoleSet(domainauth.RoleStudent)}),
		Credentials: creds,
		Identities:  ids,
	})
	require.NoError(t, err)

	res, err := svc.SignIn(ctx, ports.SignInInput{Email: "s@example.com", Password: "pw"})
	require.NoError(t, err)
	require.True(t, res.HasActiveRole)
	assert.Equal(t, domainauth.RoleStudent, res.ActiveRole)

	// The API has rotated past access-1; the next valid credential is access-2.
	current.Store("access-2")

	tr, err := authtransport.New(authtransport.Options{Credentials: creds, Refresher: svc})
	require.NoError(t, err)
	client, err := authtransport.NewClient(authtransport.ClientOptions{BaseURL: api.URL, Transport: tr, Timeout: 5 * time.Second})
	require.NoError(t, err)

	var out struct {
		Bookings []struct{ ID int } `json:"bookings"`
	}
	require.NoError(t, client.DoJSON(ctx, http.MethodGet, "/bookings", nil, &out))
	require.Len(t, out.Bookings, 1)

	assert.EqualValues(t, 1, provider.RefreshCalls.Load())
	token, _ := creds.AccessToken()
	assert.Equal(t, "access-2", token)
	assert.True(t, svc.Snapshot().Authenticated)
}

// A credential that stays invalid after refresh surfaces as unauthorized after
// a single retry.
func TestSessionPermanentlyRejectedCredential(t *testing.T) {
	ctx := context.Background()

	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	provider := authmocks.NewMockIdentityProvider()
	kv := authmocks.NewMemoryKVStore()
	creds, _ := service.NewCredentialStore(service.CredentialStoreOptions{Store: kv})
	ids, _ := service.NewIdentityStore(service.IdentityStoreOptions{Store: kv})
	svc := service.MustNewAuthService(service.AuthServiceOptions{
		Provider:    provider,
		Claims:      authmocks.NewMapClaimsDecoder(domainauth.Claims{Subject: "u-1"}),
		Credentials: creds,
		Identities:  ids,
	})
	_, err := svc.SignIn(ctx, ports.SignInInput{Email: "s@example.com", Password: "pw"})
	require.NoError(t, err)

	tr, _ := authtransport.New(authtransport.Options{Credentials: creds, Refresher: svc})
	client, _ := authtransport.NewClient(authtransport.ClientOptions{BaseURL: api.URL, Transport: tr})

	err = client.DoJSON(ctx, http.MethodGet, "/bookings", nil, nil)
	require.Error(t, err)
	assert.EqualValues(t, 2, hits.Load())
	assert.EqualValues(t, 1, provider.RefreshCalls.Load())
}
