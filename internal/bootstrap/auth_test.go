package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/booking-session/config"
	"github.com/target/booking-session/internal/adapters/devauth"
	"github.com/target/booking-session/internal/adapters/restidp"
	domainauth "github.com/target/booking-session/internal/domain/auth"
	authmocks "github.com/target/booking-session/internal/mocks/auth"
	"github.com/target/booking-session/internal/ports"
	"github.com/target/booking-session/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mockAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		Mode: config.AuthModeMock,
		DevAuth: config.DevAuthConfig{
			SigningKey: "k",
			Users:      []string{"student@example.com:pw:0", "multi@example.com:pw:0,2"},
		},
		Claims: config.ClaimsConfig{RoleClaimPath: "roles", VerifyKey: "k"},
		Routes: config.RoutesConfig{
			SignIn:         "/signin",
			Home:           "/",
			RoleSelection:  "/select-role",
			StudentLanding: "/student",
			TutorLanding:   "/tutor",
			AdminLanding:   "/admin",
		},
	}
}

func TestBuildIdentityProviderModes(t *testing.T) {
	ctx := context.Background()

	prov, err := BuildIdentityProvider(ctx, mockAuthConfig(), discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &devauth.Provider{}, prov)

	prov, err = BuildIdentityProvider(ctx, config.AuthConfig{
		Mode: config.AuthModeREST,
		REST: config.RESTProviderConfig{BaseURL: "https://id.example.com"},
	}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &restidp.Provider{}, prov)

	_, err = BuildIdentityProvider(ctx, config.AuthConfig{Mode: config.AuthModeREST}, discardLogger())
	assert.Error(t, err)

	_, err = BuildIdentityProvider(ctx, config.AuthConfig{Mode: config.AuthModeOAuth}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAUTH_DISCOVERY_URL")

	bad := mockAuthConfig()
	bad.DevAuth.Users = []string{"not-an-entry"}
	_, err = BuildIdentityProvider(ctx, bad, discardLogger())
	assert.Error(t, err)
}

func TestBuildSessionWiresMockMode(t *testing.T) {
	ctx := context.Background()
	kv := authmocks.NewMemoryKVStore()

	session, err := BuildSession(ctx, AuthConfig{Auth: mockAuthConfig(), Store: kv, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, session.Service.Hydrate(ctx))

	d := session.Guard.Check(ctx, service.ViewRequirement{AllowedRoles: []domainauth.Role{domainauth.RoleStudent}})
	assert.Equal(t, domainauth.DecisionRedirect, d.Kind)
	assert.Equal(t, "/signin", d.Path)

	res, err := session.Service.SignIn(ctx, ports.SignInInput{Email: "student@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, res.HasActiveRole)
	assert.Equal(t, domainauth.RoleStudent, res.ActiveRole)

	d = session.Guard.Check(ctx, service.ViewRequirement{AllowedRoles: []domainauth.Role{domainauth.RoleStudent}})
	assert.Equal(t, domainauth.DecisionAllow, d.Kind)
	assert.True(t, session.Credentials.HasRefreshToken())
	assert.NotEmpty(t, kv.Snapshot())
}

func TestBuildSessionRequiresStore(t *testing.T) {
	_, err := BuildSession(context.Background(), AuthConfig{Auth: mockAuthConfig()})
	assert.Error(t, err)
}

func TestRoutesFromConfig(t *testing.T) {
	r := RoutesFromConfig(mockAuthConfig().Routes)
	assert.Equal(t, "/tutor", r.LandingFor(domainauth.RoleTutor))
	assert.Equal(t, "/select-role", r.RoleSelection)
}
