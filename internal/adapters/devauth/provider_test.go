package devauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/target/booking-session/internal/adapters/jwtclaims"
	domainauth "github.com/target/booking-session/internal/domain/auth"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

var testKey = []byte("dev-key")

func newTestProvider(t *testing.T, users ...SeedUser) *Provider {
	t.Helper()
	p, err := NewProvider(Config{SigningKey: testKey, Users: users, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	return p
}

func TestParseSeedUsers(t *testing.T) {
	users, err := ParseSeedUsers([]string{"ada@example.com:pw:0,tutor", " ", "bob@example.com:p:w:2"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ada", users[0].DisplayName)
	assert.Equal(t, []domainauth.Role{domainauth.RoleStudent, domainauth.RoleTutor}, users[0].Roles)
	assert.Equal(t, "p", users[1].Password)

	_, err = ParseSeedUsers([]string{"missing-parts"})
	require.Error(t, err)
	_, err = ParseSeedUsers([]string{"a@b.c:pw:wizard"})
	require.Error(t, err)
}

func TestProvider_SignInIssuesDecodableToken(t *testing.T) {
	p := newTestProvider(t, SeedUser{Email: "ada@example.com", Password: "secret", DisplayName: "Ada",
		Roles: []domainauth.Role{domainauth.RoleTutor, domainauth.RoleAdmin}})

	ts, err := p.SignIn(context.Background(), ports.SignInInput{Email: "ADA@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.NotEmpty(t, ts.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(defaultAccessTTL), ts.ExpiresAt, 5*time.Second)

	dec, err := jwtclaims.New(jwtclaims.Options{VerifyKey: testKey})
	require.NoError(t, err)
	claims, err := dec.Decode(ts.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, ts.User.ID, claims.Subject)
	assert.Equal(t, domainauth.RoleSet{domainauth.RoleTutor, domainauth.RoleAdmin}, claims.Roles)
}

func TestProvider_SignInWrongPassword(t *testing.T) {
	p := newTestProvider(t, SeedUser{Email: "ada@example.com", Password: "secret"})

	_, err := p.SignIn(context.Background(), ports.SignInInput{Email: "ada@example.com", Password: "nope"})
	assert.True(t, apperrors.IsInvalidCredentials(err))

	_, err = p.SignIn(context.Background(), ports.SignInInput{Email: "who@example.com", Password: "secret"})
	assert.True(t, apperrors.IsInvalidCredentials(err))
}

func TestProvider_SignUpRequiresVerification(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.SignUp(ctx, ports.SignUpInput{Email: "new@example.com", Password: "secret1"}))

	_, err := p.SignIn(ctx, ports.SignInInput{Email: "new@example.com", Password: "secret1"})
	assert.True(t, apperrors.IsInvalidCredentials(err))

	require.NoError(t, p.Verify("new@example.com"))
	ts, err := p.SignIn(ctx, ports.SignInInput{Email: "new@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "new", ts.User.DisplayName)

	assert.True(t, apperrors.IsConflict(p.SignUp(ctx, ports.SignUpInput{Email: "new@example.com", Password: "secret1"})))
	assert.True(t, apperrors.IsValidation(p.SignUp(ctx, ports.SignUpInput{Email: "bad", Password: "secret1"})))
	assert.True(t, apperrors.IsValidation(p.SignUp(ctx, ports.SignUpInput{Email: "x@example.com", Password: "123"})))
}

func TestProvider_RefreshRotates(t *testing.T) {
	p := newTestProvider(t, SeedUser{Email: "ada@example.com", Password: "secret", Roles: []domainauth.Role{domainauth.RoleStudent}})
	ctx := context.Background()

	first, err := p.SignIn(ctx, ports.SignInInput{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)

	second, err := p.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = p.Refresh(ctx, first.RefreshToken)
	assert.True(t, apperrors.IsInvalidCredentials(err), "rotated token must not be reusable")
}

func TestProvider_SignOutRevokes(t *testing.T) {
	p := newTestProvider(t, SeedUser{Email: "ada@example.com", Password: "secret"})
	ctx := context.Background()

	ts, err := p.SignIn(ctx, ports.SignInInput{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx, ports.SignOutInput{AccessToken: ts.AccessToken, RefreshToken: ts.RefreshToken}))

	_, err = p.Refresh(ctx, ts.RefreshToken)
	assert.True(t, apperrors.IsInvalidCredentials(err))
}

func TestProvider_SetRolesAppliesOnRefresh(t *testing.T) {
	p := newTestProvider(t, SeedUser{Email: "ada@example.com", Password: "secret", Roles: []domainauth.Role{domainauth.RoleStudent}})
	ctx := context.Background()
	dec, err := jwtclaims.New(jwtclaims.Options{})
	require.NoError(t, err)

	ts, err := p.SignIn(ctx, ports.SignInInput{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	require.NoError(t, p.SetRoles("ada@example.com", domainauth.RoleAdmin))

	ts, err = p.Refresh(ctx, ts.RefreshToken)
	require.NoError(t, err)
	claims, err := dec.Decode(ts.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleSet{domainauth.RoleAdmin}, claims.Roles)
}

func TestNewProviderRequiresKey(t *testing.T) {
	_, err := NewProvider(Config{})
	require.Error(t, err)
}
