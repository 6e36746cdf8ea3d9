package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/gatekeeper/internal/audit"
	"github.com/org/gatekeeper/internal/storage"
)

// HealthHandler handles GET /health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"tracked_identities": s.ledger.Size(),
	})
}

// AuditLogHandler handles GET /audit. Requires a valid access token (see
// tokenAuthMiddleware). Filters: identity, outcome, since (RFC 3339), limit,
// offset.
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AuditFilter{
		Outcome: q.Get("outcome"),
		Limit:   100,
	}
	if id := q.Get("identity"); id != "" {
		filter.IdentityHash = audit.HashIdentity(id)
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeReason(w, http.StatusBadRequest, "MALFORMED")
			return
		}
		filter.Since = &ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeReason(w, http.StatusBadRequest, "MALFORMED")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeReason(w, http.StatusBadRequest, "MALFORMED")
			return
		}
		filter.Offset = n
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeReason(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
