package question

import (
	"context"
	"fmt"
	"log/slog"
)

// ErrNoQuestions means no questions could be obtained for a configuration.
// It is fatal to session start; no partial session is created.
var ErrNoQuestions = fmt.Errorf("no questions available")

// Assembly floor for a single-subject test: 30 minutes.
const minSingleLimitSec = 30 * 60

// Source fetches questions from the upstream question store.
type Source interface {
	FetchQuestions(ctx context.Context, subject string, topics []string, count int, mode Mode) ([]Raw, error)
	FetchCombinedQuestions(ctx context.Context, groups []SubjectTopics, count, timeLimitSec int, mode Mode) ([]Raw, error)
}

// Assembly is an ordered question set plus its effective time limit.
type Assembly struct {
	Questions    []Question
	TimeLimitSec int
}

type Aggregator struct {
	src Source
	log *slog.Logger
}

func NewAggregator(src Source, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{src: src, log: log}
}

// Assemble turns a configuration into an ordered question set. Multi-subject
// tests try one combined request first and fall back to per-subject fetches
// with proportional allocation only if the combined call fails.
func (a *Aggregator) Assemble(ctx context.Context, cfg Config) (Assembly, error) {
	if err := cfg.Validate(); err != nil {
		return Assembly{}, err
	}
	if !cfg.MultiSubject || len(cfg.Subjects) == 1 {
		return a.assembleSingle(ctx, cfg)
	}
	asm, err := a.assembleCombined(ctx, cfg)
	if err == nil {
		return asm, nil
	}
	a.log.Warn("combined question fetch failed, assembling per subject", "err", err)
	return a.assembleFallback(ctx, cfg)
}

func (a *Aggregator) assembleSingle(ctx context.Context, cfg Config) (Assembly, error) {
	st := cfg.Subjects[0]
	raws, err := a.src.FetchQuestions(ctx, st.Subject, st.Topics, cfg.QuestionCount, cfg.Mode)
	if err != nil {
		return Assembly{}, fmt.Errorf("%w: subject %s: %v", ErrNoQuestions, st.Subject, err)
	}
	if len(raws) == 0 {
		return Assembly{}, fmt.Errorf("%w: subject %s returned nothing", ErrNoQuestions, st.Subject)
	}
	qs := a.normalize(raws, st.Subject)
	if cfg.QuestionCount > 0 && len(qs) > cfg.QuestionCount {
		qs = qs[:cfg.QuestionCount]
	}
	limit := 0
	for _, q := range qs {
		limit += q.TimeSec
	}
	if limit < minSingleLimitSec {
		limit = minSingleLimitSec
	}
	return Assembly{Questions: qs, TimeLimitSec: limit}, nil
}

func (a *Aggregator) assembleCombined(ctx context.Context, cfg Config) (Assembly, error) {
	raws, err := a.src.FetchCombinedQuestions(ctx, cfg.Subjects, cfg.QuestionCount, cfg.TimeLimitSec, cfg.Mode)
	if err != nil {
		return Assembly{}, fmt.Errorf("combined fetch: %w", err)
	}
	if len(raws) == 0 {
		return Assembly{}, fmt.Errorf("combined fetch returned nothing")
	}
	qs := a.normalize(raws, "")
	if len(qs) > cfg.QuestionCount {
		qs = qs[:cfg.QuestionCount]
	}
	return Assembly{Questions: qs, TimeLimitSec: cfg.effectiveLimit()}, nil
}

// assembleFallback fetches each subject separately with an allocation
// proportional to its share of the configured topics (ceiling rounding).
// Subjects contribute in configuration order and the concatenation is
// truncated from the tail, so over-allocation always cuts the last subjects.
// A subject whose fetch fails simply contributes nothing; only all subjects
// coming back empty is an error.
func (a *Aggregator) assembleFallback(ctx context.Context, cfg Config) (Assembly, error) {
	total := cfg.TotalTopics()
	if total == 0 {
		return Assembly{}, fmt.Errorf("%w: configuration has no topics", ErrNoQuestions)
	}
	var qs []Question
	for _, st := range cfg.Subjects {
		n := ceilShare(cfg.QuestionCount, len(st.Topics), total)
		if n == 0 {
			continue
		}
		raws, err := a.src.FetchQuestions(ctx, st.Subject, st.Topics, n, cfg.Mode)
		if err != nil {
			a.log.Warn("subject fetch failed, continuing without it", "subject", st.Subject, "err", err)
			continue
		}
		if len(raws) > n {
			raws = raws[:n]
		}
		qs = append(qs, a.normalize(raws, st.Subject)...)
	}
	if len(qs) == 0 {
		return Assembly{}, fmt.Errorf("%w: every subject failed or returned nothing", ErrNoQuestions)
	}
	if len(qs) > cfg.QuestionCount {
		qs = qs[:cfg.QuestionCount]
	}
	return Assembly{Questions: qs, TimeLimitSec: cfg.effectiveLimit()}, nil
}

// effectiveLimit is the configured limit, or count x 60s if unspecified.
func (c Config) effectiveLimit() int {
	if c.TimeLimitSec > 0 {
		return c.TimeLimitSec
	}
	return c.QuestionCount * DefaultTimeSec
}

func ceilShare(count, part, total int) int {
	if part <= 0 || total <= 0 {
		return 0
	}
	return (count*part + total - 1) / total
}

// normalize converts a raw batch, tolerating malformed option lists. A
// question without exactly four options is served anyway; only the canonical
// four-choice shape is ever produced by the store, so a deviation is worth a
// warning but not a lost question.
func (a *Aggregator) normalize(raws []Raw, subject string) []Question {
	out := make([]Question, 0, len(raws))
	for _, r := range raws {
		q := FromRaw(r, subject)
		if len(q.Options) != 4 {
			a.log.Warn("question has unexpected option count",
				"question", q.ID, "options", len(q.Options))
		}
		out = append(out, q)
	}
	return out
}
