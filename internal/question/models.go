package question

import (
	"errors"

	"github.com/prepdesk/prepdesk/internal/answer"
)

type Mode string

const (
	ModePractice   Mode = "practice"
	ModeAssessment Mode = "assessment"
)

// DefaultTimeSec is the per-question time allocation when the question bank
// does not specify one.
const DefaultTimeSec = 60

// Question is a normalized multiple-choice question. CorrectIndex is -1 when
// no canonical answer could be derived; such questions are still served but
// can never be marked correct.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	ImageURL      string   `json:"image_url,omitempty"`
	Options       []string `json:"options"`
	CorrectIndex  int      `json:"correct_index"`
	CorrectLetter string   `json:"correct_letter"`
	Explanation   string   `json:"explanation,omitempty"`
	TimeSec       int      `json:"time_sec"`
	Subject       string   `json:"subject"`
}

// Raw is the wire shape delivered by the question store. The correct-answer
// fields are deliberately untyped: their shape varies by bank vintage and is
// resolved only through the answer package.
type Raw struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	ImageURL    string   `json:"image_url,omitempty"`
	Options     []string `json:"options"`
	Correct     any      `json:"correct,omitempty"`
	Answer      any      `json:"answer,omitempty"`
	AnswerIndex any      `json:"answerIndex,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	TimeSec     int      `json:"time_sec,omitempty"`
	Subject     string   `json:"subject,omitempty"`
}

// FromRaw normalizes a wire question. subject is the configured owning
// subject, used when the record carries no tag of its own.
func FromRaw(r Raw, subject string) Question {
	c := answer.NormalizeFields(r.Correct, r.Answer, r.AnswerIndex)
	q := Question{
		ID:            r.ID,
		Prompt:        r.Prompt,
		ImageURL:      r.ImageURL,
		Options:       r.Options,
		CorrectIndex:  c.Index,
		CorrectLetter: c.Letter,
		Explanation:   r.Explanation,
		TimeSec:       r.TimeSec,
		Subject:       r.Subject,
	}
	if q.TimeSec <= 0 {
		q.TimeSec = DefaultTimeSec
	}
	if q.Subject == "" {
		q.Subject = subject
	}
	return q
}

// SubjectTopics names one subject and its selected topics. Configurations
// keep subjects as an ordered slice: the fallback assembly path iterates and
// truncates in stable configuration order.
type SubjectTopics struct {
	Subject string   `json:"subject"`
	Topics  []string `json:"topics"`
}

// Config is an immutable test configuration. It is validated once, before a
// session starts, and never mutated afterwards.
type Config struct {
	Subjects      []SubjectTopics `json:"subjects"`
	QuestionCount int             `json:"question_count"`
	TimeLimitSec  int             `json:"time_limit_sec,omitempty"`
	Mode          Mode            `json:"mode"`
	MultiSubject  bool            `json:"multi_subject"`
}

func (c Config) TotalTopics() int {
	n := 0
	for _, st := range c.Subjects {
		n += len(st.Topics)
	}
	return n
}

func (c Config) Validate() error {
	if len(c.Subjects) == 0 {
		return errors.New("at least one subject is required")
	}
	for _, st := range c.Subjects {
		if st.Subject == "" {
			return errors.New("subject name is required")
		}
	}
	if c.Mode != ModePractice && c.Mode != ModeAssessment {
		return errors.New("mode must be practice or assessment")
	}
	if c.MultiSubject && c.QuestionCount <= 0 {
		return errors.New("question count is required for multi-subject tests")
	}
	if !c.MultiSubject && len(c.Subjects) > 1 {
		return errors.New("multiple subjects require a multi-subject test")
	}
	if c.QuestionCount < 0 || c.TimeLimitSec < 0 {
		return errors.New("question count and time limit must not be negative")
	}
	return nil
}
