// Package score grades a finished test session.
package score

import (
	"math"

	"github.com/prepdesk/prepdesk/internal/question"
)

// PassThreshold is the percentage score at or above which a test is passed.
const PassThreshold = 70

// Outcome is the per-question result. Selected is -1 when the question was
// never answered.
type Outcome struct {
	QuestionID string `json:"question_id"`
	Selected   int    `json:"selected"`
	Correct    bool   `json:"correct"`
}

type Result struct {
	Score        int       `json:"score"`
	Pass         bool      `json:"pass"`
	CorrectCount int       `json:"correct_count"`
	Total        int       `json:"total"`
	Outcomes     []Outcome `json:"outcomes"`
}

// Grade scores selections against the canonical correct indices. Unanswered
// questions and questions without a derivable canonical answer count as
// incorrect; neither is an error.
func Grade(questions []question.Question, selections map[int]int) Result {
	outcomes := make([]Outcome, 0, len(questions))
	correct := 0
	for i, q := range questions {
		sel, answered := selections[i]
		if !answered {
			sel = -1
		}
		ok := answered && q.CorrectIndex >= 0 && sel == q.CorrectIndex
		if ok {
			correct++
		}
		outcomes = append(outcomes, Outcome{QuestionID: q.ID, Selected: sel, Correct: ok})
	}
	r := Result{CorrectCount: correct, Total: len(questions), Outcomes: outcomes}
	if r.Total > 0 {
		r.Score = int(math.Round(100 * float64(correct) / float64(r.Total)))
	}
	r.Pass = r.Score >= PassThreshold
	return r
}
