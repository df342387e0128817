package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	"github.com/target/booking-session/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth  SessionService       // Required
	Guard *service.AccessGuard // Required
	// APIProxy serves /api/*; nil disables the proxy.
	APIProxy http.Handler
	Logger   *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	authHandlers := &AuthHandlers{Svc: services.Auth, Guard: services.Guard, Logger: logger}
	registerAuthRoutes(mux, authHandlers)
	registerViewRoutes(mux, services)

	if services.APIProxy != nil {
		mux.Handle(APIPrefix+"/", RequireRoles(services.Guard)(services.APIProxy))
	}

	mux.Handle("GET /healthz", healthHandler(services.Auth))
	mux.Handle("HEAD /healthz", healthHandler(services.Auth))
	mux.Handle("GET /readyz", readyHandler(services.Auth))

	return Recover(logger)(Logging(logger)(mux))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("POST /auth/signup", h.SignUp)
	mux.HandleFunc("POST /auth/signin", h.SignIn)
	mux.HandleFunc("POST /auth/signout", h.SignOut)
	mux.HandleFunc("POST /auth/refresh", h.Refresh)
	mux.HandleFunc("POST /auth/role", h.SelectRole)
	mux.HandleFunc("GET /auth/session", h.Session)
	mux.HandleFunc("GET /auth/guard", h.GuardCheck)
}

func registerViewRoutes(mux *http.ServeMux, s RouterServices) {
	routes := s.Guard.Routes()
	authenticated := RequireRoles(s.Guard)

	mux.Handle(viewPattern(routes.SignIn), RedirectIfAuthenticated(s.Guard)(viewHandler("signin", s.Auth)))
	mux.Handle(viewPattern(routes.RoleSelection), authenticated(viewHandler("select-role", s.Auth)))
	mux.Handle(viewPattern(routes.Home), authenticated(viewHandler("home", s.Auth)))

	for _, role := range domainauth.AllRoles {
		path := routes.LandingFor(role)
		if path == routes.Home {
			continue
		}
		mux.Handle(viewPattern(path), RequireRoles(s.Guard, role)(viewHandler(role.String(), s.Auth)))
	}
}
