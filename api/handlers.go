package api

import (
	"io"
	"net/http"
)

// RootMessage is the body served at GET /
const RootMessage = "Task Tracker API is running"

// rootHandler reports that the service is up. It reads nothing from the request.
func (a *API) rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, RootMessage); err != nil {
		a.logger.Debugw("Failed to write root response", "error", err)
	}
}

// notFoundHandler is the default matcher: every request no route claims
func (a *API) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	markUnmatched(r)
	a.respondJSON(w, errorResponse{Error: "Not Found"}, http.StatusNotFound)
}
