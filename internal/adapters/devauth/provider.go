package devauth

// Package devauth provides a simple, config-driven IdentityProvider for local development.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

const (
	defaultAccessTTL = 15 * time.Minute
	issuer           = "booking-devauth"
)

// SeedUser is a verified account installed at construction.
type SeedUser struct {
	Email       string
	Password    string
	DisplayName string
	Roles       []domainauth.Role
}

// Config controls the dev auth provider behavior.
// SigningKey is required; Users may be empty.
type Config struct {
	SigningKey []byte
	AccessTTL  time.Duration // default 15m when zero
	Users      []SeedUser
	Logger     *slog.Logger
	// BcryptCost defaults to bcrypt.DefaultCost; tests lower it.
	BcryptCost int
}

type account struct {
	id          string
	email       string
	displayName string
	hash        []byte
	roles       []domainauth.Role
	verified    bool
}

// Provider implements ports.IdentityProvider in memory.
// Access tokens are HS256 JWTs carrying a numeric "roles" array. Refresh tokens
// are opaque and rotate on every use.
type Provider struct {
	key       []byte
	accessTTL time.Duration
	cost      int
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	accounts map[string]*account // by lower-cased email
	refresh  map[string]string   // refresh token -> email
}

var _ ports.IdentityProvider = (*Provider)(nil)

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("dev auth: SigningKey is required")
	}
	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = defaultAccessTTL
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Provider{
		key:       append([]byte(nil), cfg.SigningKey...),
		accessTTL: ttl,
		cost:      cost,
		logger:    logger.With("component", "devauth"),
		now:       time.Now,
		accounts:  make(map[string]*account),
		refresh:   make(map[string]string),
	}
	for _, u := range cfg.Users {
		if err := p.addAccount(u, true); err != nil {
			return nil, fmt.Errorf("dev auth: seed %s: %w", u.Email, err)
		}
	}
	return p, nil
}

// ParseSeedUsers parses "email:password:role[,role]" entries. Roles may be
// numeric or named.
func ParseSeedUsers(entries []string) ([]SeedUser, error) {
	out := make([]SeedUser, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		parts := strings.SplitN(e, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid dev user %q: want email:password:roles", e)
		}
		u := SeedUser{Email: parts[0], Password: parts[1]}
		u.DisplayName, _, _ = strings.Cut(parts[0], "@")
		for raw := range strings.SplitSeq(parts[2], ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			r, ok := domainauth.ParseRole(raw)
			if !ok {
				return nil, fmt.Errorf("invalid role %q for dev user %s", raw, parts[0])
			}
			u.Roles = append(u.Roles, r)
		}
		out = append(out, u)
	}
	return out, nil
}

// SignUp creates an unverified account. Sign-in is refused until Verify is called.
func (p *Provider) SignUp(_ context.Context, in ports.SignUpInput) error {
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return apperrors.ValidationField("email", "invalid email address")
	}
	if len(in.Password) < 6 {
		return apperrors.ValidationField("password", "password must be at least 6 characters")
	}
	display := in.DisplayName
	if display == "" {
		display, _, _ = strings.Cut(in.Email, "@")
	}
	err := p.addAccount(SeedUser{
		Email:       in.Email,
		Password:    in.Password,
		DisplayName: display,
		Roles:       []domainauth.Role{domainauth.RoleStudent},
	}, false)
	if err == nil {
		p.logger.Info("dev account registered; verification pending", "email", in.Email)
	}
	return err
}

// Verify marks an account verified, standing in for the out-of-band email step.
func (p *Provider) Verify(email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[normalize(email)]
	if !ok {
		return apperrors.NotFound("account not found")
	}
	a.verified = true
	return nil
}

// SetRoles replaces an account's roles. Tokens issued afterwards carry the new set.
func (p *Provider) SetRoles(email string, roles ...domainauth.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[normalize(email)]
	if !ok {
		return apperrors.NotFound("account not found")
	}
	a.roles = append([]domainauth.Role(nil), roles...)
	return nil
}

// SignIn checks the password and issues tokens.
func (p *Provider) SignIn(_ context.Context, in ports.SignInInput) (ports.TokenSet, error) {
	p.mu.Lock()
	a, ok := p.accounts[normalize(in.Email)]
	p.mu.Unlock()
	if !ok {
		return ports.TokenSet{}, apperrors.InvalidCredentials("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(in.Password)); err != nil {
		return ports.TokenSet{}, apperrors.InvalidCredentials("invalid email or password")
	}
	if !a.verified {
		return ports.TokenSet{}, apperrors.InvalidCredentials("account email not verified")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueLocked(a)
}

// SignOut revokes the refresh token.
func (p *Provider) SignOut(_ context.Context, in ports.SignOutInput) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.refresh, in.RefreshToken)
	return nil
}

// Refresh rotates the refresh token and issues a new access token.
func (p *Provider) Refresh(_ context.Context, refreshToken string) (ports.TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email, ok := p.refresh[refreshToken]
	if !ok {
		return ports.TokenSet{}, apperrors.InvalidCredentials("refresh token expired or revoked")
	}
	delete(p.refresh, refreshToken)

	a, ok := p.accounts[email]
	if !ok {
		return ports.TokenSet{}, apperrors.InvalidCredentials("account no longer exists")
	}
	return p.issueLocked(a)
}

// RevokeAll drops every refresh token, as a server-side session purge would.
func (p *Provider) RevokeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.refresh)
}

func (p *Provider) issueLocked(a *account) (ports.TokenSet, error) {
	now := p.now()
	exp := now.Add(p.accessTTL)

	roles := make([]int, 0, len(a.roles))
	for _, r := range a.roles {
		roles = append(roles, int(r))
	}
	claims := jwt.MapClaims{
		"iss":   issuer,
		"sub":   a.id,
		"email": a.email,
		"name":  a.displayName,
		"roles": roles,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return ports.TokenSet{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "sign access token")
	}

	refresh, err := randomString(32)
	if err != nil {
		return ports.TokenSet{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "generate refresh token")
	}
	p.refresh[refresh] = a.email

	return ports.TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		User: &ports.ProviderUser{
			ID:          a.id,
			Email:       a.email,
			DisplayName: a.displayName,
		},
	}, nil
}

func (p *Provider) addAccount(u SeedUser, verified bool) error {
	key := normalize(u.Email)
	if key == "" || u.Password == "" {
		return apperrors.Validation("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), p.cost)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "hash password")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[key]; exists {
		return apperrors.New(apperrors.ErrCodeConflict, "account already exists")
	}
	p.accounts[key] = &account{
		id:          uuid.NewString(),
		email:       key,
		displayName: u.DisplayName,
		hash:        hash,
		roles:       append([]domainauth.Role(nil), u.Roles...),
		verified:    verified,
	}
	return nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
