package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prepdesk/prepdesk/internal/auth"
	"github.com/prepdesk/prepdesk/internal/history"
	"github.com/prepdesk/prepdesk/internal/question"
	"github.com/prepdesk/prepdesk/internal/session"
)

func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, question.ErrNoQuestions):
		// Cannot load test; the client offers a retry action.
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, history.ErrSubmitFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, history.ErrNotFound):
		http.Error(w, err.Error(), 404)
	case errors.Is(err, session.ErrState), errors.Is(err, session.ErrStale), errors.Is(err, session.ErrPaused):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), 400)
	}
}

// ownSession resolves the session and checks it belongs to the caller.
// Foreign sessions look like missing ones.
func ownSession(m *session.Manager, w http.ResponseWriter, r *http.Request) *session.Controller {
	c, ok := m.Get(chi.URLParam(r, "sessionID"))
	if !ok || c.StudentID() != auth.SubjectFromContext(r.Context()) {
		http.Error(w, "session not found", 404)
		return nil
	}
	return c
}

// POST /sessions  { config }
func CreateSessionHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg question.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		c := m.Create(auth.SubjectFromContext(r.Context()))
		if err := c.Configure(cfg); err != nil {
			m.Drop(c.ID())
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// POST /sessions/{sessionID}/start
func StartSessionHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ownSession(m, w, r)
		if c == nil {
			return
		}
		if err := c.Start(r.Context()); err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// GET /sessions/{sessionID}
func GetSessionHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ownSession(m, w, r)
		if c == nil {
			return
		}
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// POST /sessions/{sessionID}/answer  { "question": 0, "option": 2 }
func AnswerHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ownSession(m, w, r)
		if c == nil {
			return
		}
		var req struct {
			Question int `json:"question"`
			Option   int `json:"option"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if err := c.SelectOption(req.Question, req.Option); err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// POST /sessions/{sessionID}/advance
func AdvanceHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ownSession(m, w, r)
		if c == nil {
			return
		}
		idx, err := c.Advance()
		if err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"current": idx})
	}
}

// POST /sessions/{sessionID}/mark  { "question": 3 }
func MarkHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ownSession(m, w, r)
		if c == nil {
			return
		}
		var req struct {
			Question int `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if err := c.MarkForReview(req.Question); err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// POST /sessions/{sessionID}/pause
func PauseHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ownSession(m, w, r)
		if c == nil {
			return
		}
		if err := c.Pause(); err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// POST /sessions/{sessionID}/resume
func ResumeHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ownSession(m, w, r)
		if c == nil {
			return
		}
		if err := c.Resume(); err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// POST /sessions/{sessionID}/submit
func SubmitSessionHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ownSession(m, w, r)
		if c == nil {
			return
		}
		if err := c.Complete(r.Context()); err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// DELETE /sessions/{sessionID}: the student navigated away; nothing is
// submitted.
func DropSessionHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ownSession(m, w, r)
		if c == nil {
			return
		}
		m.Drop(c.ID())
		w.WriteHeader(http.StatusNoContent)
	}
}
