package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/makt28/mandown/internal/config"
)

var startTime = time.Now()

// HealthHandler serves the /healthz endpoint. The store is pinged with a
// one-row page read.
type HealthHandler struct {
	cfgMgr  *config.Manager
	sites   SiteLister
	version string
}

func NewHealthHandler(cfgMgr *config.Manager, sites SiteLister, version string) *HealthHandler {
	return &HealthHandler{cfgMgr: cfgMgr, sites: sites, version: version}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfgMgr.Get()
	resp := map[string]interface{}{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"storage_driver": cfg.Storage.Driver,
		"poll_interval":  cfg.Monitor.PollInterval,
	}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := h.sites.ListSitesPage(ctx, 0, 1); err != nil {
		resp["status"] = "degraded"
		resp["storage_error"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
