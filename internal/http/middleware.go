package httpx

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	domainauth "github.com/target/booking-session/internal/domain/auth"
	"github.com/target/booking-session/internal/service"
)

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush lets streamed proxy responses pass through the logging wrapper.
func (w *respWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles gates next behind the access guard. With no roles any
// authenticated user passes.
func RequireRoles(guard *service.AccessGuard, roles ...domainauth.Role) func(http.Handler) http.Handler {
	req := service.ViewRequirement{AllowedRoles: roles}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d := guard.Check(r.Context(), req); !applyDecision(w, r, d) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RedirectIfAuthenticated sends signed-in users away from pages meant for
// signed-out users, such as sign-in.
func RedirectIfAuthenticated(guard *service.AccessGuard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d := guard.CheckRedirectIfAuthenticated(r.Context()); !applyDecision(w, r, d) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// applyDecision writes the response for non-Allow decisions and reports
// whether the request may proceed.
func applyDecision(w http.ResponseWriter, r *http.Request, d domainauth.Decision) bool {
	switch d.Kind {
	case domainauth.DecisionAllow:
		return true
	case domainauth.DecisionRedirect:
		http.Redirect(w, r, d.Path, http.StatusSeeOther)
		return false
	default:
		w.Header().Set("Retry-After", strconv.Itoa(1))
		w.Header().Set("Cache-Control", "no-store")
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": d.Kind.String()})
		return false
	}
}
