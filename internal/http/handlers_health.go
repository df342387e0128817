package httpx

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Hydrated bool   `json:"hydrated"`
}

// healthHandler reports liveness. It always answers 200 and includes whether
// the persisted session has been restored yet.
func healthHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, r, http.StatusOK, healthResponse{Status: "ok", Hydrated: svc.Snapshot().Hydrated})
	}
}

// readyHandler answers 503 until session restore has finished.
func readyHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !svc.Snapshot().Hydrated {
			w.Header().Set("Retry-After", "1")
			writeHealth(w, r, http.StatusServiceUnavailable, healthResponse{Status: "restoring"})
			return
		}
		writeHealth(w, r, http.StatusOK, healthResponse{Status: "ready", Hydrated: true})
	}
}

func writeHealth(w http.ResponseWriter, r *http.Request, status int, body healthResponse) {
	w.Header().Set("Cache-Control", "no-store")
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		return
	}
	WriteJSON(w, status, body)
}
