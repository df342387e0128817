package restidp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	return p
}

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var m map[string]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

func TestSignInParsesTokenResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/signin", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get(requestIDHeader))
		body := decodeBody(t, r)
		assert.Equal(t, "ada@example.com", body["email"])
		assert.Equal(t, "pw", body["password"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","expires_in":600,
			"user":{"id":"u1","email":"ada@example.com","display_name":"Ada"}}`))
	})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	ts, err := p.SignIn(context.Background(), ports.SignInInput{Email: "ada@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "a1", ts.AccessToken)
	assert.Equal(t, "r1", ts.RefreshToken)
	assert.Equal(t, fixed.Add(10*time.Minute), ts.ExpiresAt)
	require.NotNil(t, ts.User)
	assert.Equal(t, "Ada", ts.User.DisplayName)
}

func TestSignInClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"bad request", http.StatusBadRequest, apperrors.IsInvalidCredentials},
		{"unauthorized", http.StatusUnauthorized, apperrors.IsInvalidCredentials},
		{"forbidden", http.StatusForbidden, apperrors.IsInvalidCredentials},
		{"rate limited", http.StatusTooManyRequests, apperrors.IsNetwork},
		{"server error", http.StatusBadGateway, apperrors.IsNetwork},
		{"teapot", http.StatusTeapot, func(err error) bool { return apperrors.GetCode(err) == apperrors.ErrCodeUnknown }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			})
			_, err := p.SignIn(context.Background(), ports.SignInInput{Email: "a@b.c", Password: "x"})
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
}

func TestSignInUnreachableIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := New(Options{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = p.SignIn(context.Background(), ports.SignInInput{Email: "a@b.c", Password: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))
}

func TestRefreshMissingAccessTokenIsUnknown(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		assert.Equal(t, "r1", decodeBody(t, r)["refresh_token"])
		_, _ = w.Write([]byte(`{"refresh_token":"r2"}`))
	})
	_, err := p.Refresh(context.Background(), "r1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnknown, apperrors.GetCode(err))
}

func TestRefreshKeepsEmptyRefreshToken(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "a2", "expires_at": exp})
	})
	ts, err := p.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", ts.AccessToken)
	assert.Empty(t, ts.RefreshToken)
	assert.True(t, ts.ExpiresAt.Equal(exp))
}

func TestSignOutSendsBearer(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/signout", r.URL.Path)
		assert.Equal(t, "Bearer a1", r.Header.Get("Authorization"))
		assert.Equal(t, "r1", decodeBody(t, r)["refresh_token"])
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, p.SignOut(context.Background(), ports.SignOutInput{AccessToken: "a1", RefreshToken: "r1"}))
}

func TestSignUpClassifiesFailures(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["email"] == "taken@example.com" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		if body["password"] == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"password required"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	ctx := context.Background()

	require.NoError(t, p.SignUp(ctx, ports.SignUpInput{Email: "new@example.com", Password: "pw"}))

	err := p.SignUp(ctx, ports.SignUpInput{Email: "taken@example.com", Password: "pw"})
	assert.True(t, apperrors.IsConflict(err))

	err = p.SignUp(ctx, ports.SignUpInput{Email: "new@example.com"})
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "password required")
}

func TestProviderKeepsCookies(t *testing.T) {
	var sawCookie bool
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/signin" {
			http.SetCookie(w, &http.Cookie{Name: "affinity", Value: "node-1", Path: "/"})
			_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r"}`))
			return
		}
		c, err := r.Cookie("affinity")
		sawCookie = err == nil && c.Value == "node-1"
		_, _ = w.Write([]byte(`{"access_token":"a2"}`))
	})
	ctx := context.Background()
	_, err := p.SignIn(ctx, ports.SignInInput{Email: "a@b.c", Password: "x"})
	require.NoError(t, err)
	_, err = p.Refresh(ctx, "r")
	require.NoError(t, err)
	assert.True(t, sawCookie)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url"})
	require.Error(t, err)
}
