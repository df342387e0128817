package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in     string
		want   Role
		wantOK bool
	}{
		{"0", RoleStudent, true},
		{"1", RoleTutor, true},
		{" 2 ", RoleAdmin, true},
		{"tutor", RoleTutor, true},
		{"ADMIN", RoleAdmin, true},
		{"3", Role(3), false},
		{"-1", Role(-1), false},
		{"professor", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		if tt.wantOK {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestRoleSet(t *testing.T) {
	s := NewRoleSet(RoleAdmin, RoleStudent, RoleAdmin)

	assert.Equal(t, RoleSet{RoleStudent, RoleAdmin}, s)
	assert.True(t, s.Contains(RoleAdmin))
	assert.False(t, s.Contains(RoleTutor))
	assert.Equal(t, 2, s.Len())

	_, ok := s.Only()
	assert.False(t, ok)

	only, ok := NewRoleSet(RoleTutor).Only()
	assert.True(t, ok)
	assert.Equal(t, RoleTutor, only)

	assert.Equal(t, RoleSet{RoleAdmin}, s.Intersect([]Role{RoleTutor, RoleAdmin}))
	assert.Empty(t, RoleSet(nil).Intersect([]Role{RoleStudent}))
}

func TestCredentials_IsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, Credentials{}.IsExpired(now), "missing access token counts as expired")
	assert.True(t, Credentials{AccessToken: "a", AccessTokenExpiry: now}.IsExpired(now))
	assert.False(t, Credentials{AccessToken: "a", AccessTokenExpiry: now.Add(time.Minute)}.IsExpired(now))
	assert.False(t, Credentials{AccessToken: "a"}.IsExpired(now), "unknown expiry is trusted until the API says otherwise")
}

func TestClaims_Identity(t *testing.T) {
	c := Claims{Subject: "s-1", Email: "a@b.c", DisplayName: "Ada", Roles: RoleSet{RoleTutor, RoleStudent}}
	id := c.Identity()

	assert.Equal(t, "s-1", id.ID)
	assert.Equal(t, RoleSet{RoleStudent, RoleTutor}, id.Roles)
	assert.True(t, id.HasRole(RoleTutor))

	var nilID *Identity
	assert.False(t, nilID.HasRole(RoleStudent))
}
