package httpapi

import (
	"net/http"
	"strconv"
	"time"
)

// handleShutdown handles POST /api/shutdown?timeout=N, only registered
// when cfg.ShutdownAPIEnabled is set. It signals Run to begin graceful
// shutdown and optionally waits up to timeout seconds before responding.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	timeout := 0
	if v := r.URL.Query().Get("timeout"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			timeout = n
		}
	}

	select {
	case s.shutdownCh <- struct{}{}:
	default:
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting_down"})

	if timeout > 0 {
		time.Sleep(time.Duration(timeout) * time.Second)
	}
}
