// Package session runs timed test sessions: a finite-state controller per
// attempt, a single scheduler authority for its clocks, and the telemetry the
// scorer and history pipeline consume.
package session

import (
	"time"

	"github.com/prepdesk/prepdesk/internal/history"
	"github.com/prepdesk/prepdesk/internal/question"
	"github.com/prepdesk/prepdesk/internal/score"
)

type State string

const (
	StateConfiguring State = "configuring"
	StateActive      State = "active"
	StateCompleting  State = "completing"
	StateCompleted   State = "completed"
)

// Session is the mutable state of one test attempt. It is created when the
// student opens the test screen, mutated only by its Controller, and
// discarded once a record is produced or the student navigates away.
type Session struct {
	ID        string          `json:"id"`
	StudentID string          `json:"student_id"`
	Config    question.Config `json:"config"`

	State     State               `json:"state"`
	Questions []question.Question `json:"questions,omitempty"`
	Current   int                 `json:"current"`

	Selections map[int]int  `json:"selections"`
	Dwell      map[int]int  `json:"dwell"`
	Marked     map[int]bool `json:"marked"`

	TimeLimitSec int  `json:"time_limit_sec"`
	RemainingSec int  `json:"remaining_sec"`
	PausedSec    int  `json:"paused_sec"`
	Edits        int  `json:"edits"`
	Paused       bool `json:"paused"`

	StartedAt time.Time `json:"started_at,omitempty"`

	Result    *score.Result   `json:"result,omitempty"`
	Record    *history.Record `json:"record,omitempty"`
	SubmitErr string          `json:"submit_error,omitempty"`
}

func newSession(id, studentID string) *Session {
	return &Session{
		ID:         id,
		StudentID:  studentID,
		State:      StateConfiguring,
		Selections: map[int]int{},
		Dwell:      map[int]int{},
		Marked:     map[int]bool{},
	}
}

// snapshot copies the session so handlers can serialize it without holding
// the controller lock.
func (s *Session) snapshot() Session {
	out := *s
	out.Selections = make(map[int]int, len(s.Selections))
	for k, v := range s.Selections {
		out.Selections[k] = v
	}
	out.Dwell = make(map[int]int, len(s.Dwell))
	for k, v := range s.Dwell {
		out.Dwell[k] = v
	}
	out.Marked = make(map[int]bool, len(s.Marked))
	for k, v := range s.Marked {
		out.Marked[k] = v
	}
	return out
}
