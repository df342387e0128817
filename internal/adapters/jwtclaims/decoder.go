// Package jwtclaims decodes access tokens issued as JWTs into session claims.
package jwtclaims

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	jmespath "github.com/jmespath-community/go-jmespath"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

// DefaultRoleClaimPath locates the role list at the top level of the payload.
const DefaultRoleClaimPath = "roles"

var errInvalidRoleClaim = errors.New("invalid role claim")

// Options configures a Decoder.
type Options struct {
	// RoleClaimPath is a JMESPath expression selecting the role list. Defaults to "roles".
	RoleClaimPath string
	// VerifyKey enables HMAC signature verification when non-empty.
	VerifyKey []byte
	Logger    *slog.Logger
}

// Decoder implements ports.ClaimsDecoder for JWT access tokens.
//
// Role claims are decoded strictly: the claim must be an array whose every
// element is an integer, or a string holding an integer, naming a known role.
// Anything else yields an empty role set.
type Decoder struct {
	rolePath jmespath.JMESPath
	rawPath  string
	key      []byte
	parser   *jwt.Parser
	logger   *slog.Logger
}

var _ ports.ClaimsDecoder = (*Decoder)(nil)

// New constructs a Decoder.
func New(opts Options) (*Decoder, error) {
	path := strings.TrimSpace(opts.RoleClaimPath)
	if path == "" {
		path = DefaultRoleClaimPath
	}
	compiled, err := jmespath.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile role claim path %q: %w", path, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	parserOpts := []jwt.ParserOption{jwt.WithoutClaimsValidation()}
	if len(opts.VerifyKey) > 0 {
		parserOpts = append(parserOpts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	}

	return &Decoder{
		rolePath: compiled,
		rawPath:  path,
		key:      opts.VerifyKey,
		parser:   jwt.NewParser(parserOpts...),
		logger:   logger.With("component", "jwt_claims"),
	}, nil
}

// Decode parses the access token and extracts identity and role claims. Expiry
// is reported, not enforced; an expired token still decodes.
func (d *Decoder) Decode(accessToken string) (domainauth.Claims, error) {
	mc := jwt.MapClaims{}
	var err error
	if len(d.key) > 0 {
		_, err = d.parser.ParseWithClaims(accessToken, mc, func(*jwt.Token) (any, error) {
			return d.key, nil
		})
	} else {
		_, _, err = d.parser.ParseUnverified(accessToken, mc)
	}
	if err != nil {
		return domainauth.Claims{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "malformed access token")
	}

	claims := domainauth.Claims{
		Email:       stringClaim(mc, "email"),
		DisplayName: firstNonEmpty(stringClaim(mc, "name"), stringClaim(mc, "preferred_username")),
	}
	claims.Subject, _ = mc.GetSubject()
	if exp, _ := mc.GetExpirationTime(); exp != nil {
		claims.ExpiresAt = exp.Time
	}

	roles, err := d.roles(mc)
	if err != nil {
		d.logger.Warn("role claim rejected; treating identity as having no roles",
			"subject", claims.Subject,
			"path", d.rawPath,
			"error", err,
		)
		roles = domainauth.RoleSet{}
	}
	claims.Roles = roles
	return claims, nil
}

func (d *Decoder) roles(mc jwt.MapClaims) (domainauth.RoleSet, error) {
	raw, err := d.rolePath.Search(map[string]any(mc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRoleClaim, err)
	}
	if raw == nil {
		return domainauth.RoleSet{}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", errInvalidRoleClaim, raw)
	}

	roles := make([]domainauth.Role, 0, len(list))
	for i, v := range list {
		r, err := parseRoleValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", errInvalidRoleClaim, i, err)
		}
		roles = append(roles, r)
	}
	return domainauth.NewRoleSet(roles...), nil
}

func parseRoleValue(v any) (domainauth.Role, error) {
	var n int64
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || x < math.MinInt32 || x > math.MaxInt32 {
			return 0, fmt.Errorf("non-integer %v", x)
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("non-integer %q", x.String())
		}
		n = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("non-numeric string %q", x)
		}
		n = i
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}

	r := domainauth.Role(n)
	if !r.Valid() {
		return 0, fmt.Errorf("unknown role %d", n)
	}
	return r, nil
}

func stringClaim(mc jwt.MapClaims, key string) string {
	s, _ := mc[key].(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
