package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prepdesk/prepdesk/internal/history"
	"github.com/prepdesk/prepdesk/internal/question"
	"github.com/prepdesk/prepdesk/internal/score"
)

var (
	// ErrState means the operation is not allowed in the session's current
	// state. No transition is reachable from Completed except destruction.
	ErrState = errors.New("operation not allowed in current session state")
	// ErrStale means a network response resolved after the session had
	// already moved on; the result is discarded, never applied.
	ErrStale = errors.New("stale response discarded")
	// ErrIndex means a question or option index was out of range.
	ErrIndex = errors.New("index out of range")
	// ErrPaused means the session must be resumed first.
	ErrPaused = errors.New("session is paused")
)

type Clock func() time.Time

// Submitter hands completed records to the history pipeline. Submit makes
// exactly one backend attempt; Retain keeps a record whose submission failed
// so it is not silently lost.
type Submitter interface {
	Submit(ctx context.Context, rec history.Record) (history.Record, error)
	Retain(ctx context.Context, rec history.Record, cause string) error
}

// Controller is the finite-state machine for one session. All mutation
// happens under its lock; the scheduler tick and HTTP handlers interleave
// there, never in parallel on the session state.
type Controller struct {
	mu sync.Mutex
	s  *Session

	agg  *question.Aggregator
	sink Submitter
	now  Clock
	log  *slog.Logger

	sched    *scheduler
	epoch    int // bumped on every transition; stale responses check it
	pausedAt time.Time
	touched  time.Time
}

func New(studentID string, agg *question.Aggregator, sink Submitter, now Clock, log *slog.Logger) *Controller {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		s:    newSession(uuid.NewString(), studentID),
		agg:  agg,
		sink: sink,
		now:  now,
		log:  log,
	}
	c.touched = now()
	c.sched = newScheduler(c.handleTick)
	return c
}

func (c *Controller) ID() string {
	return c.s.ID
}

func (c *Controller) StudentID() string {
	return c.s.StudentID
}

// Snapshot returns a copy of the session safe to serialize.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.snapshot()
}

// Configure sets the immutable test configuration. Allowed only before start.
func (c *Controller) Configure(cfg question.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	if c.s.State != StateConfiguring {
		return ErrState
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.s.Config = cfg
	return nil
}

// Start assembles the question set and activates the session. The fetch runs
// outside the lock; if the session was abandoned while it was in flight the
// assembled set is discarded.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.s.State != StateConfiguring {
		c.mu.Unlock()
		return ErrState
	}
	cfg := c.s.Config
	epoch := c.epoch
	c.mu.Unlock()

	asm, err := c.agg.Assemble(ctx, cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.State != StateConfiguring || c.epoch != epoch {
		return ErrStale
	}
	if err != nil {
		return err
	}
	c.touch()
	c.s.Questions = asm.Questions
	c.s.TimeLimitSec = asm.TimeLimitSec
	c.s.RemainingSec = asm.TimeLimitSec
	c.s.State = StateActive
	c.s.StartedAt = c.now()
	c.epoch++
	c.sched.start()
	return nil
}

// handleTick advances the global countdown and the current question's dwell
// clock. The countdown is clamped at zero; reaching zero forces completion
// exactly like an explicit submit.
func (c *Controller) handleTick() {
	c.mu.Lock()
	if c.s.State != StateActive || c.s.Paused {
		c.mu.Unlock()
		return
	}
	c.s.Dwell[c.s.Current]++
	if c.s.RemainingSec > 0 {
		c.s.RemainingSec--
	}
	timeUp := c.s.RemainingSec == 0
	c.mu.Unlock()

	if timeUp {
		if err := c.Complete(context.Background()); err != nil && !errors.Is(err, ErrState) {
			c.log.Error("forced completion failed", "session", c.s.ID, "err", err)
		}
	}
}

// SelectOption records the choice for a question. Changing an existing
// selection to a different value counts as one edit; the first selection and
// re-picking the same value do not.
func (c *Controller) SelectOption(qIdx, optIdx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	if c.s.State != StateActive {
		return ErrState
	}
	if c.s.Paused {
		return ErrPaused
	}
	if qIdx < 0 || qIdx >= len(c.s.Questions) {
		return fmt.Errorf("%w: question %d", ErrIndex, qIdx)
	}
	if optIdx < 0 || optIdx >= len(c.s.Questions[qIdx].Options) {
		return fmt.Errorf("%w: option %d", ErrIndex, optIdx)
	}
	if prev, ok := c.s.Selections[qIdx]; ok && prev != optIdx {
		c.s.Edits++
	}
	c.s.Selections[qIdx] = optIdx
	return nil
}

// Advance confirms the current question and moves to the next one. The dwell
// clock starts counting the new index from the next tick.
func (c *Controller) Advance() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	if c.s.State != StateActive {
		return 0, ErrState
	}
	if c.s.Paused {
		return 0, ErrPaused
	}
	if c.s.Current < len(c.s.Questions)-1 {
		c.s.Current++
	}
	return c.s.Current, nil
}

// MarkForReview toggles the review flag on a question.
func (c *Controller) MarkForReview(qIdx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	if c.s.State != StateActive {
		return ErrState
	}
	if qIdx < 0 || qIdx >= len(c.s.Questions) {
		return fmt.Errorf("%w: question %d", ErrIndex, qIdx)
	}
	if c.s.Marked[qIdx] {
		delete(c.s.Marked, qIdx)
	} else {
		c.s.Marked[qIdx] = true
	}
	return nil
}

// Pause stops the countdown and stamps the pause start. Dwell time stops
// accruing too; it is not part of the pause duration.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	if c.s.State != StateActive {
		return ErrState
	}
	if c.s.Paused {
		return ErrPaused
	}
	c.s.Paused = true
	c.pausedAt = c.now()
	c.sched.pause()
	return nil
}

// Resume adds the elapsed pause interval to the cumulative pause duration
// and restarts the countdown.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	if c.s.State != StateActive || !c.s.Paused {
		return ErrState
	}
	c.s.PausedSec += int(c.now().Sub(c.pausedAt) / time.Second)
	c.s.Paused = false
	c.sched.resume()
	return nil
}

// Complete freezes the session, scores it, and submits the result. Both the
// manual submit action and the countdown reaching zero land here. Submission
// is retried at most once; a still-failing record is retained for later
// retry and the session reaches Completed regardless.
func (c *Controller) Complete(ctx context.Context) error {
	c.mu.Lock()
	if c.s.State != StateActive {
		c.mu.Unlock()
		return ErrState
	}
	c.touch()
	if c.s.Paused {
		// Submitting from pause closes the pause interval first.
		c.s.PausedSec += int(c.now().Sub(c.pausedAt) / time.Second)
		c.s.Paused = false
	}
	c.s.State = StateCompleting
	c.epoch++
	c.sched.cancel()

	res := score.Grade(c.s.Questions, c.s.Selections)
	c.s.Result = &res
	rec := c.buildRecord(res)
	c.s.Record = &rec
	c.mu.Unlock()

	out, err := c.sink.Submit(ctx, rec)
	if err != nil {
		c.log.Warn("submission failed, retrying once", "session", c.s.ID, "err", err)
		out, err = c.sink.Submit(ctx, rec)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.s.SubmitErr = err.Error()
		if rerr := c.sink.Retain(ctx, rec, err.Error()); rerr != nil {
			c.log.Error("retention failed, result kept in memory only",
				"session", c.s.ID, "err", rerr)
		}
	} else {
		c.s.Record = &out
		c.s.SubmitErr = ""
	}
	c.s.State = StateCompleted
	c.epoch++
	return nil
}

// Abandon cancels the session's timers and marks any in-flight fetch stale.
// Used when the student navigates away before completion; nothing is
// submitted.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.cancel()
	c.epoch++
}

func (c *Controller) buildRecord(res score.Result) history.Record {
	subjects := make([]string, 0, len(c.s.Config.Subjects))
	for _, st := range c.s.Config.Subjects {
		subjects = append(subjects, st.Subject)
	}
	return history.Record{
		ID:           "local-" + uuid.NewString(),
		Subject:      strings.Join(subjects, "+"),
		Score:        res.Score,
		TotalTimeSec: c.s.TimeLimitSec - c.s.RemainingSec,
		Outcomes:     res.Outcomes,
		OwnerID:      c.s.StudentID,
		Timestamp:    c.now(),
	}
}

func (c *Controller) touch() { c.touched = c.now() }

// State returns the current FSM state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.State
}

// LastTouched reports the last interaction instant, for idle expiry.
func (c *Controller) LastTouched() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touched
}
