package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	"github.com/target/booking-session/internal/ports"
	"github.com/target/booking-session/internal/service"
)

// SessionService defines the session operations the HTTP layer needs.
type SessionService interface {
	SignUp(ctx context.Context, in ports.SignUpInput) error
	SignIn(ctx context.Context, in ports.SignInInput) (*service.SignInResult, error)
	SignOut(ctx context.Context)
	RefreshSession(ctx context.Context) error
	SelectRole(ctx context.Context, r domainauth.Role) error
	Snapshot() service.SessionSnapshot
}

// AuthHandlers provides HTTP handlers for session operations.
type AuthHandlers struct {
	Svc    SessionService
	Guard  *service.AccessGuard
	Logger *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// SignUp registers an account. No session is created.
// POST /auth/signup.
func (h *AuthHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	err := h.Svc.SignUp(r.Context(), ports.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "verification_pending"})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Identity           *domainauth.Identity `json:"identity"`
	ActiveRole         *domainauth.Role     `json:"active_role,omitempty"`
	NeedsRoleSelection bool                 `json:"needs_role_selection"`
	Next               string               `json:"next,omitempty"`
}

// SignIn exchanges credentials for a session.
// POST /auth/signin.
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	res, err := h.Svc.SignIn(r.Context(), ports.SignInInput{Email: req.Email, Password: req.Password})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	out := signInResponse{Identity: res.Identity}
	if res.HasActiveRole {
		role := res.ActiveRole
		out.ActiveRole = &role
	} else {
		out.NeedsRoleSelection = res.Identity.Roles.Len() > 1
	}
	if h.Guard != nil {
		if d := h.Guard.CheckRedirectIfAuthenticated(r.Context()); d.Kind == domainauth.DecisionRedirect {
			out.Next = d.Path
		}
	}
	WriteJSON(w, http.StatusOK, out)
}

// SignOut clears the session. Always succeeds.
// POST /auth/signout.
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	h.Svc.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Refresh forces a session refresh and returns the resulting snapshot.
// POST /auth/refresh.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.RefreshSession(r.Context()); err != nil {
		h.logger().InfoContext(r.Context(), "manual refresh failed", "error", err)
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Svc.Snapshot())
}

type roleRequest struct {
	Role json.RawMessage `json:"role"`
}

// SelectRole activates one of the identity's roles. The role may be given as
// its number or its name.
// POST /auth/role.
func (h *AuthHandlers) SelectRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	role, err := parseRoleJSON(req.Role)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: err})
		return
	}
	if err := h.Svc.SelectRole(r.Context(), role); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Svc.Snapshot())
}

// Session returns the current session snapshot.
// GET /auth/session.
func (h *AuthHandlers) Session(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, h.Svc.Snapshot())
}

type guardResponse struct {
	Decision     string           `json:"decision"`
	Path         string           `json:"path,omitempty"`
	ResolvedRole *domainauth.Role `json:"resolved_role,omitempty"`
}

// GuardCheck evaluates a view requirement without rendering anything.
// GET /auth/guard?roles=0,1&allow_unauthenticated=true.
func (h *AuthHandlers) GuardCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roles, err := parseRoleList(q.Get("roles"))
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: err})
		return
	}
	allowAnon, _ := strconv.ParseBool(q.Get("allow_unauthenticated"))

	d := h.Guard.Check(r.Context(), service.ViewRequirement{AllowedRoles: roles, AllowUnauthenticated: allowAnon})
	out := guardResponse{Decision: d.Kind.String(), Path: d.Path}
	if d.HasResolvedRole {
		role := d.ResolvedRole
		out.ResolvedRole = &role
	}
	WriteJSON(w, http.StatusOK, out)
}

func parseRoleJSON(raw json.RawMessage) (domainauth.Role, error) {
	if len(raw) == 0 {
		return 0, errors.New("role is required")
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		r := domainauth.Role(n)
		if !r.Valid() {
			return 0, fmt.Errorf("unknown role %d", n)
		}
		return r, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.New("role must be a number or a name")
	}
	r, ok := domainauth.ParseRole(s)
	if !ok {
		return 0, fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func parseRoleList(s string) ([]domainauth.Role, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []domainauth.Role
	for part := range strings.SplitSeq(s, ",") {
		r, ok := domainauth.ParseRole(part)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", part)
		}
		out = append(out, r)
	}
	return out, nil
}
