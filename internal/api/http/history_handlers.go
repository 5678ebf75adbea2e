package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prepdesk/prepdesk/internal/auth"
	"github.com/prepdesk/prepdesk/internal/history"
	"github.com/prepdesk/prepdesk/internal/score"
)

// GET /history?refresh=1
func ListHistoryHandler(h *history.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		studentID := auth.SubjectFromContext(r.Context())
		force := r.URL.Query().Get("refresh") == "1"
		recs, cached, err := h.Records(r.Context(), studentID, force)
		if err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(struct {
			Records []history.Record `json:"records"`
			Cached  bool             `json:"cached"`
		}{recs, cached})
	}
}

// GET /history/pending
func ListPendingHandler(h *history.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := h.Pending(r.Context(), auth.SubjectFromContext(r.Context()))
		if err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(recs)
	}
}

// POST /history/pending/{recordID}/retry
func RetryPendingHandler(h *history.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := h.RetryOne(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "recordID"))
		if err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(rec)
	}
}

// GET /history/export?format=csv|xlsx
func ExportHistoryHandler(h *history.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, _, err := h.Records(r.Context(), auth.SubjectFromContext(r.Context()), false)
		if err != nil {
			fail(w, err)
			return
		}
		switch r.URL.Query().Get("format") {
		case "xlsx":
			data, err := history.ExportXLSX(recs, score.PassThreshold)
			if err != nil {
				fail(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			w.Header().Set("Content-Disposition", `attachment; filename="history.xlsx"`)
			_, _ = w.Write(data)
		case "", "csv":
			data, err := history.ExportCSV(recs, score.PassThreshold)
			if err != nil {
				fail(w, err)
				return
			}
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", `attachment; filename="history.csv"`)
			_, _ = w.Write(data)
		default:
			http.Error(w, "unknown format", 400)
		}
	}
}

// PUT /history/live  { "enabled": true }
func LiveToggleHandler(h *history.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		studentID := auth.SubjectFromContext(r.Context())
		if req.Enabled {
			if err := h.EnableLive(r.Context(), studentID); err != nil {
				fail(w, err)
				return
			}
		} else {
			h.DisableLive(studentID)
		}
		_ = json.NewEncoder(w).Encode(req)
	}
}
