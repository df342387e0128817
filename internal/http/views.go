package httpx

import (
	"net/http"

	"github.com/target/booking-session/internal/service"
)

type viewResponse struct {
	View    string                  `json:"view"`
	Session service.SessionSnapshot `json:"session"`
}

// viewHandler is the mount point for a client-rendered view. Access control is
// applied by the wrapping guard middleware; the handler only reports state.
func viewHandler(name string, svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		WriteJSON(w, http.StatusOK, viewResponse{View: name, Session: svc.Snapshot()})
	}
}

// viewPattern builds a GET pattern for path; "/" matches only the root.
func viewPattern(path string) string {
	if path == "/" {
		return "GET /{$}"
	}
	return "GET " + path
}
