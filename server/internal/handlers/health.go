package handlers

import (
	"log/slog"
	"net/http"
)

// Version is stamped at build time via -ldflags
var Version = "dev"

// healthResponse is the body of GET /healthz
type healthResponse struct {
	Status string `json:"status"`
}

// Health reports whether the service can reach its database
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.log.Error("health check failed", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// VersionInfo reports the running build version
func (h *Handler) VersionInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}
