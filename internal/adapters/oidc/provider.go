package oidc

// Package oidc implements ports.IdentityProvider against an OpenID Connect
// provider using the resource owner password grant.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

// Provider implements ports.IdentityProvider using OIDC/OAuth2.
type Provider struct {
	config        *oauth2.Config
	revocationURL string
	httpClient    *http.Client
	logger        *slog.Logger

	// go-oidc provider and verifier
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

var _ ports.IdentityProvider = (*Provider)(nil)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	DiscoveryURL string
	// RevocationURL overrides the discovered revocation_endpoint.
	RevocationURL string
	HTTPClient    *http.Client // Optional, defaults to a 30s client
	Logger        *slog.Logger
}

// DiscoveryDocument represents the parts of the OIDC discovery document the provider reads.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
}

// NewProvider creates a new OIDC provider. It performs discovery against ctx.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Provider{
		revocationURL: config.RevocationURL,
		httpClient:    httpClient,
		logger:        logger.With("component", "oidc_identity_provider"),
	}

	// Initialize go-oidc provider and verifier (single discovery fetch)
	ctx = gooidc.ClientContext(ctx, httpClient)
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID})

	if p.revocationURL == "" {
		var doc DiscoveryDocument
		if claimsErr := op.Claims(&doc); claimsErr == nil {
			p.revocationURL = doc.RevocationEndpoint
		}
	}

	p.config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Scopes:       strings.Fields(config.Scope),
		Endpoint:     op.Endpoint(),
	}

	return p, nil
}

// SignUp is not offered by OIDC providers; accounts are provisioned upstream.
func (p *Provider) SignUp(context.Context, ports.SignUpInput) error {
	return apperrors.Validation("sign-up is not supported by the OIDC identity provider")
}

// SignIn performs the password grant.
func (p *Provider) SignIn(ctx context.Context, in ports.SignInInput) (ports.TokenSet, error) {
	ctx = p.clientContext(ctx)
	tok, err := p.config.PasswordCredentialsToken(ctx, in.Email, in.Password)
	if err != nil {
		return ports.TokenSet{}, classifyTokenError(err, "password grant failed")
	}
	return p.tokenSet(ctx, tok)
}

// Refresh exchanges the refresh token. The upstream library keeps the old
// refresh token when the response omits one.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (ports.TokenSet, error) {
	if refreshToken == "" {
		return ports.TokenSet{}, apperrors.InvalidCredentials("refresh token is required")
	}
	ctx = p.clientContext(ctx)
	tok, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return ports.TokenSet{}, classifyTokenError(err, "refresh grant failed")
	}
	return p.tokenSet(ctx, tok)
}

// SignOut revokes the refresh token (RFC 7009) when a revocation endpoint is
// known. Without one it is a no-op.
func (p *Provider) SignOut(ctx context.Context, in ports.SignOutInput) error {
	if p.revocationURL == "" {
		p.logger.DebugContext(ctx, "no revocation endpoint; skipping remote sign-out")
		return nil
	}
	if in.RefreshToken != "" {
		if err := p.revoke(ctx, in.RefreshToken, "refresh_token"); err != nil {
			return err
		}
	}
	if in.AccessToken != "" {
		return p.revoke(ctx, in.AccessToken, "access_token")
	}
	return nil
}

func (p *Provider) revoke(ctx context.Context, token, hint string) error {
	form := url.Values{"token": {token}, "token_type_hint": {hint}}
	if p.config.ClientSecret == "" {
		form.Set("client_id", p.config.ClientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "build revocation request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.config.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(p.config.ClientSecret))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.Classify(err, "revocation request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return apperrors.Network(fmt.Errorf("status %d", resp.StatusCode), "revocation endpoint unavailable")
		}
		return apperrors.Newf(apperrors.ErrCodeUnknown, "revocation rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) tokenSet(ctx context.Context, tok *oauth2.Token) (ports.TokenSet, error) {
	ts := ports.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	user, err := p.extractFromIDToken(ctx, tok)
	if err != nil {
		return ports.TokenSet{}, apperrors.Wrap(err, apperrors.ErrCodeUnknown, "id_token rejected")
	}
	ts.User = user
	return ts, nil
}

// idTokenClaims covers the profile claims read from the ID token.
type idTokenClaims struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// extractFromIDToken verifies the id_token when the openid scope was requested
// and the provider returned one.
func (p *Provider) extractFromIDToken(ctx context.Context, tok *oauth2.Token) (*ports.ProviderUser, error) {
	if !p.hasOpenIDScope() {
		return nil, nil
	}
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		// Refresh responses commonly omit the id_token.
		return nil, nil //nolint:nilerr // absence is not an error here
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	var claims idTokenClaims
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return nil, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	return mapIDTokenClaims(claims), nil
}

// mapIDTokenClaims maps raw id token claims into a provider user.
func mapIDTokenClaims(c idTokenClaims) *ports.ProviderUser {
	return &ports.ProviderUser{
		ID:          c.Sub,
		Email:       c.Email,
		DisplayName: firstNonEmpty(c.Name, c.PreferredUsername),
	}
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// classifyTokenError maps OAuth2 token endpoint failures onto the error taxonomy.
func classifyTokenError(err error, msg string) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch {
		case re.ErrorCode == "invalid_grant", re.ErrorCode == "invalid_request",
			re.ErrorCode == "unauthorized_client", re.ErrorCode == "access_denied":
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidCredentials, msg)
		case re.Response != nil && re.Response.StatusCode >= 500:
			return apperrors.Network(err, msg)
		case re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest ||
			re.Response.StatusCode == http.StatusUnauthorized):
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidCredentials, msg)
		}
		return apperrors.Wrap(err, apperrors.ErrCodeUnknown, msg)
	}
	return apperrors.Classify(err, msg)
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// hasOpenIDScope reports whether the configured scopes include "openid".
func (p *Provider) hasOpenIDScope() bool {
	return slices.Contains(p.config.Scopes, "openid")
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
