// ABOUTME: Admin handlers for querying, summarizing and pruning the request log
// ABOUTME: Filters map directly onto store.RequestLogFilter

package admin

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/2389/odoo-bridge/internal/store"
)

// LogEntryResponse is one request log entry.
type LogEntryResponse struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	Timestamp   time.Time `json:"timestamp"`
	APIKeyID    string    `json:"api_key_id,omitempty"`
	FrontDoor   string    `json:"front_door"`
	Operation   string    `json:"operation"`
	TargetModel string    `json:"target_model,omitempty"`
	Status      string    `json:"status"`
	LatencyMS   int64     `json:"latency_ms"`
	ErrorKind   string    `json:"error_kind,omitempty"`
}

// PruneRequest is the optional body of POST /admin/logs/prune. Without it
// the configured retention policy applies.
type PruneRequest struct {
	OlderThan  string `json:"older_than,omitempty"` // Go duration, e.g. "168h"
	MaxEntries int    `json:"max_entries,omitempty" validate:"gte=0"`
}

func (a *API) handleListLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseLogFilter(r.URL.Query())
	if err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := a.logs.ListRequestLogs(r.Context(), f)
	if err != nil {
		a.logger.Error("failed to list request logs", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}

	out := make([]LogEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogEntryResponse(e))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"entries": out, "count": len(out)})
}

func parseLogFilter(q url.Values) (store.RequestLogFilter, error) {
	var f store.RequestLogFilter
	optional := func(name string) *string {
		if v := q.Get(name); v != "" {
			return &v
		}
		return nil
	}
	f.APIKeyID = optional("api_key_id")
	f.Operation = optional("operation")
	f.TargetModel = optional("model")
	f.Status = optional("status")

	for name, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("%s must be an RFC3339 timestamp", name)
		}
		*dst = &t
	}

	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%s must be a non-negative integer", name)
		}
		*dst = n
	}
	return f, nil
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			a.sendJSONError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	stats, err := a.logs.RequestLogStats(r.Context(), a.now().Add(-window))
	if err != nil {
		a.logger.Error("failed to aggregate request logs", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to aggregate logs")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"window": window.String(), "stats": stats})
}

func (a *API) handlePruneLogs(w http.ResponseWriter, r *http.Request) {
	if a.pruner == nil {
		a.sendJSONError(w, http.StatusServiceUnavailable, "request logging is disabled")
		return
	}

	var req PruneRequest
	if err := a.decodeBody(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		removed int
		err     error
	)
	if req.OlderThan == "" && req.MaxEntries == 0 {
		removed, err = a.pruner.Prune(r.Context())
	} else {
		var p store.PrunePolicy
		if req.OlderThan != "" {
			d, perr := time.ParseDuration(req.OlderThan)
			if perr != nil || d <= 0 {
				a.sendJSONError(w, http.StatusBadRequest, "older_than must be a positive duration")
				return
			}
			p.OlderThan = a.now().Add(-d)
		}
		p.MaxEntries = req.MaxEntries
		removed, err = a.pruner.PruneWith(r.Context(), p)
	}
	if err != nil {
		a.logger.Error("failed to prune request logs", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to prune logs")
		return
	}

	a.logger.Info("admin pruned request logs", "removed", removed, "admin", actor(r))
	a.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
