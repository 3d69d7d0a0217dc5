package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/makt28/mandown/internal/store"
)

const maxPageLimit = 1000

// SiteLister reads sites page by page.
type SiteLister interface {
	ListSitesPage(ctx context.Context, skip, limit int) ([]store.Site, error)
}

// Poller can be asked to start a cycle early.
type Poller interface {
	Trigger() bool
}

// AdminHandlers serve the admin JSON API.
type AdminHandlers struct {
	sites  SiteLister
	poller Poller
}

func NewAdminHandlers(sites SiteLister, poller Poller) *AdminHandlers {
	return &AdminHandlers{sites: sites, poller: poller}
}

// ListSites returns one page of sites. Query parameters skip and limit
// default to 0 and 100.
func (h *AdminHandlers) ListSites(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		respondError(w, "skip must be an integer", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		respondError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	sites, err := h.sites.ListSitesPage(r.Context(), skip, limit)
	if errors.Is(err, store.ErrInvalidPage) {
		respondError(w, "skip must be >= 0 and limit > 0", http.StatusBadRequest)
		return
	}
	if err != nil {
		respondError(w, "failed to list sites", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sites": sites,
		"skip":  skip,
		"limit": limit,
	})
}

// TriggerPoll wakes the scheduler.
func (h *AdminHandlers) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"triggered": h.poller.Trigger(),
	})
}

func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "message": msg})
}
