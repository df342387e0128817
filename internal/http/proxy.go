package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	apperrors "github.com/target/booking-session/internal/errors"
)

// APIPrefix is the local mount point of the protected API proxy.
const APIPrefix = "/api"

// NewAPIProxy forwards requests under /api/ to base through rt, which is
// expected to be the authenticated transport. Client-supplied credentials are
// stripped; the session's bearer is the only one sent upstream.
func NewAPIProxy(base *url.URL, rt http.RoundTripper, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api_proxy")

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, APIPrefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(base)
			pr.SetXForwarded()
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WarnContext(r.Context(), "upstream API request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
			WriteError(w, ErrorParams{
				Code:    http.StatusBadGateway,
				ErrCode: string(apperrors.ErrCodeNetwork),
				Err:     errors.New("upstream API unavailable"),
			})
		},
	}
}
