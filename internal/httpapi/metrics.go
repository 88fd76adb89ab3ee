package httpapi

import (
	"net/http"

	"github.com/marcus-qen/actionserver/internal/obs"
)

// handleMetrics handles GET /metrics, exposed unauthenticated since it
// carries no action inputs/outputs, only aggregate counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	obs.Handler(s.registry).ServeHTTP(w, r)
}
