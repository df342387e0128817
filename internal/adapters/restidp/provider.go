// Package restidp implements ports.IdentityProvider against a JSON/HTTP identity API.
package restidp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20
	requestIDHeader = "X-Request-ID"
)

// Options configures a Provider.
type Options struct {
	BaseURL    string        // Required: identity API root, e.g. https://id.example.com
	Timeout    time.Duration // Optional: defaults to 15s
	HTTPClient *http.Client  // Optional: overrides the default client (cookie jar is added when absent)
	Logger     *slog.Logger
}

// Provider talks to the identity API:
//
//	POST /auth/signup   {email, password, display_name}
//	POST /auth/signin   {email, password}       -> token response
//	POST /auth/refresh  {refresh_token}         -> token response
//	POST /auth/signout  {refresh_token} + Bearer access token
type Provider struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.IdentityProvider = (*Provider)(nil)

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	} `json:"user,omitempty"`
}

// New constructs a Provider.
func New(opts Options) (*Provider, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid identity API base URL %q", opts.BaseURL)
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	if client.Jar == nil {
		jar, jarErr := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if jarErr != nil {
			return nil, fmt.Errorf("create cookie jar: %w", jarErr)
		}
		c := *client
		c.Jar = jar
		client = &c
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Provider{
		base:   base,
		client: client,
		logger: logger.With("component", "rest_identity_provider"),
		now:    time.Now,
	}, nil
}

// SignUp registers an account. The API answers 2xx without tokens; the account
// must be verified out of band before sign-in succeeds.
func (p *Provider) SignUp(ctx context.Context, in ports.SignUpInput) error {
	body := map[string]string{
		"email":        in.Email,
		"password":     in.Password,
		"display_name": in.DisplayName,
	}
	return p.post(ctx, "/auth/signup", "", body, nil, classifySignUp)
}

// SignIn exchanges email and password for tokens.
func (p *Provider) SignIn(ctx context.Context, in ports.SignInInput) (ports.TokenSet, error) {
	var out tokenResponse
	body := map[string]string{"email": in.Email, "password": in.Password}
	if err := p.post(ctx, "/auth/signin", "", body, &out, classifyCredential); err != nil {
		return ports.TokenSet{}, err
	}
	return p.tokenSet(out)
}

// SignOut invalidates the session remotely.
func (p *Provider) SignOut(ctx context.Context, in ports.SignOutInput) error {
	body := map[string]string{"refresh_token": in.RefreshToken}
	return p.post(ctx, "/auth/signout", in.AccessToken, body, nil, classifyGeneric)
}

// Refresh exchanges a refresh token for new tokens.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (ports.TokenSet, error) {
	var out tokenResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := p.post(ctx, "/auth/refresh", "", body, &out, classifyCredential); err != nil {
		return ports.TokenSet{}, err
	}
	return p.tokenSet(out)
}

func (p *Provider) tokenSet(out tokenResponse) (ports.TokenSet, error) {
	if out.AccessToken == "" {
		return ports.TokenSet{}, apperrors.New(apperrors.ErrCodeUnknown, "identity API returned no access token")
	}
	ts := ports.TokenSet{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    out.ExpiresAt,
	}
	if ts.ExpiresAt.IsZero() && out.ExpiresIn > 0 {
		ts.ExpiresAt = p.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	if out.User != nil {
		ts.User = &ports.ProviderUser{
			ID:          out.User.ID,
			Email:       out.User.Email,
			DisplayName: out.User.DisplayName,
		}
	}
	return ts, nil
}

type classifier func(status int, msg string) error

func (p *Provider) post(ctx context.Context, path, bearer string, in, out any, classify classifier) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode request")
	}

	u := *p.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "build request")
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, reqID)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WarnContext(ctx, "identity API request failed", "path", path, "request_id", reqID, "error", err)
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "identity API request canceled")
		}
		return apperrors.Network(err, "identity API unreachable")
	}
	defer resp.Body.Close()

	p.logger.DebugContext(ctx, "identity API response",
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration_ms", p.now().Sub(start).Milliseconds(),
	)

	body := io.LimitReader(resp.Body, maxResponseBody)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp.StatusCode, errorMessage(body, resp.StatusCode))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, body)
		return nil
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnknown, "decode identity API response")
	}
	return nil
}

func errorMessage(r io.Reader, status int) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return http.StatusText(status)
}

func transient(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// classifyCredential maps sign-in and refresh failures. Rejections of the
// supplied credential are invalid_credentials.
func classifyCredential(status int, msg string) error {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return apperrors.InvalidCredentials(msg)
	case transient(status):
		return apperrors.Network(fmt.Errorf("status %d", status), msg)
	default:
		return apperrors.Newf(apperrors.ErrCodeUnknown, "%d: %s", status, msg)
	}
}

func classifySignUp(status int, msg string) error {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.Validation(msg)
	case status == http.StatusConflict:
		return apperrors.New(apperrors.ErrCodeConflict, msg)
	case transient(status):
		return apperrors.Network(fmt.Errorf("status %d", status), msg)
	default:
		return apperrors.Newf(apperrors.ErrCodeUnknown, "%d: %s", status, msg)
	}
}

func classifyGeneric(status int, msg string) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return apperrors.New(apperrors.ErrCodeUnauthorized, msg)
	case transient(status):
		return apperrors.Network(fmt.Errorf("status %d", status), msg)
	default:
		return apperrors.Newf(apperrors.ErrCodeUnknown, "%d: %s", status, msg)
	}
}
