package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrSubmitFailed wraps a backend write failure for a computed result. The
// result itself is never lost: callers retain it for retry.
var ErrSubmitFailed = fmt.Errorf("result submission failed")

// ErrNotFound means no retained record with that ID is visible to the caller.
var ErrNotFound = fmt.Errorf("record not found")

// SourceClient is the upstream surface the reconciler consumes: the REST
// snapshot (authoritative for completeness), the live push feed
// (authoritative for freshness), the profile service, and the result sink.
type SourceClient interface {
	FetchHistory(ctx context.Context, studentID string) ([]Record, error)
	SubmitResult(ctx context.Context, rec Record) (Record, error)
	FetchProfile(ctx context.Context, studentID string) (Identity, error)
	Subscribe(ctx context.Context, studentID string, onUpdate func([]Record)) (func(), error)
}

// Retention durably keeps records whose submission failed so the janitor and
// the manual retry action can drain them.
type Retention interface {
	Put(ctx context.Context, rec Record, lastErr string) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Delete(ctx context.Context, id string) error
}

// Snapshots durably keeps the last good record list per student so reads can
// survive a backend outage.
type Snapshots interface {
	Replace(ctx context.Context, studentID string, recs []Record) error
	Load(ctx context.Context, studentID string) ([]Record, error)
}

// Service reconciles the three history sources into one deduplicated view.
type Service struct {
	src     SourceClient
	cache   *Cache
	pending Retention
	snap    Snapshots // optional
	now     Clock
	log     *slog.Logger

	identityTTL time.Duration

	mu       sync.Mutex
	profiles map[string]Identity // last-resolved identity per student
	subs     map[string]func()   // live release handles, one per student
}

func NewService(src SourceClient, cache *Cache, pending Retention, identityTTL time.Duration, now Clock, log *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		src:         src,
		cache:       cache,
		pending:     pending,
		now:         now,
		log:         log,
		identityTTL: identityTTL,
		profiles:    map[string]Identity{},
		subs:        map[string]func(){},
	}
}

// WithSnapshots enables durable read fallbacks via the given store.
func (s *Service) WithSnapshots(snap Snapshots) *Service {
	s.snap = snap
	return s
}

// Records is the read path. A valid cache entry is served as-is; otherwise
// the full list is fetched, identity-stamped and cached. force drops the
// entry first. The second return value reports whether the response came
// from the TTL cache.
func (s *Service) Records(ctx context.Context, studentID string, force bool) ([]Record, bool, error) {
	if force {
		s.cache.Invalidate(studentID)
	} else if e, ok := s.cache.Get(studentID); ok {
		return e.Records, !e.Live, nil
	}
	recs, err := s.src.FetchHistory(ctx, studentID)
	if err != nil {
		// Backend down: serve the last durable snapshot if one exists.
		if s.snap != nil {
			if old, serr := s.snap.Load(ctx, studentID); serr == nil && len(old) > 0 {
				s.log.Warn("history fetch failed, serving snapshot", "student", studentID, "err", err)
				return old, true, nil
			}
		}
		return nil, false, fmt.Errorf("fetch history: %w", err)
	}
	env := s.resolveEnv(ctx, studentID)
	for i := range recs {
		recs[i] = Stamp(recs[i], env)
	}
	s.cache.Put(studentID, recs)
	if s.snap != nil {
		if err := s.snap.Replace(ctx, studentID, recs); err != nil {
			s.log.Warn("history snapshot write failed", "student", studentID, "err", err)
		}
	}
	return recs, false, nil
}

// Submit is the write path: stamp, push to the backend, invalidate the TTL
// cache, and fold the accepted record into any live view. One call means one
// backend attempt; retry policy belongs to the caller.
func (s *Service) Submit(ctx context.Context, rec Record) (Record, error) {
	rec = Stamp(rec, s.resolveEnv(ctx, rec.OwnerID))
	out, err := s.src.SubmitResult(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if out.ID == "" {
		out.ID = rec.ID // keep the locally-generated placeholder
	}
	if e, ok := s.cache.Peek(rec.OwnerID); ok && e.Live {
		s.cache.PutLive(rec.OwnerID, Merge(e.Records, []Record{out}))
	} else {
		s.cache.Invalidate(rec.OwnerID)
	}
	return out, nil
}

// Retain persists a record whose submission failed.
func (s *Service) Retain(ctx context.Context, rec Record, cause string) error {
	return s.pending.Put(ctx, rec, cause)
}

// RetryPending re-submits retained records; used by the background janitor.
// Individual failures stay retained for the next sweep.
func (s *Service) RetryPending(ctx context.Context) (int, error) {
	recs, err := s.pending.List(ctx, 50)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if _, err := s.Submit(ctx, rec); err != nil {
			s.log.Warn("pending submission still failing", "record", rec.ID, "err", err)
			continue
		}
		if err := s.pending.Delete(ctx, rec.ID); err != nil {
			s.log.Error("drop retained record", "record", rec.ID, "err", err)
		}
		n++
	}
	return n, nil
}

// RetryOne drains a single retained record on demand. Records retained for
// another student are reported as missing, never exposed.
func (s *Service) RetryOne(ctx context.Context, studentID, id string) (Record, error) {
	rec, err := s.pending.Get(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if rec.OwnerID != studentID {
		return Record{}, ErrNotFound
	}
	out, err := s.Submit(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	if err := s.pending.Delete(ctx, id); err != nil {
		s.log.Error("drop retained record", "record", id, "err", err)
	}
	return out, nil
}

// Pending lists the retained records for a student.
func (s *Service) Pending(ctx context.Context, studentID string) ([]Record, error) {
	recs, err := s.pending.List(ctx, 50)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if r.OwnerID == studentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ApplyLive folds a push delivery into the student's view. The delivered set
// wins on freshness, the previously known list fills in completeness, and the
// entry is marked live so consumers know it is current rather than TTL-bound.
func (s *Service) ApplyLive(studentID string, delivered []Record) []Record {
	env := s.cachedEnv(studentID)
	for i := range delivered {
		delivered[i] = Stamp(delivered[i], env)
	}
	var base []Record
	if e, ok := s.cache.Peek(studentID); ok {
		base = e.Records
	}
	merged := Merge(base, delivered)
	s.cache.PutLive(studentID, merged)
	return merged
}

// EnableLive opens the push subscription for a student. Only one subscription
// is active per student: re-subscribing releases the previous handle first.
// The subscription outlives the enabling call: its context is detached from
// the caller's cancellation and deadline, and the release handle kept per
// student is the only teardown path.
func (s *Service) EnableLive(ctx context.Context, studentID string) error {
	s.mu.Lock()
	if release, ok := s.subs[studentID]; ok {
		release()
		delete(s.subs, studentID)
	}
	s.mu.Unlock()

	release, err := s.src.Subscribe(context.WithoutCancel(ctx), studentID, func(recs []Record) {
		s.ApplyLive(studentID, recs)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.mu.Lock()
	s.subs[studentID] = release
	s.mu.Unlock()
	return nil
}

// DisableLive releases the subscription and returns the entry to TTL
// semantics.
func (s *Service) DisableLive(studentID string) {
	s.mu.Lock()
	release, ok := s.subs[studentID]
	if ok {
		delete(s.subs, studentID)
	}
	s.mu.Unlock()
	if ok {
		release()
	}
	s.cache.SetLive(studentID, false)
}

// Close releases every live subscription.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, release := range s.subs {
		release()
		delete(s.subs, id)
	}
}

// SweepCache drops expired cache entries; used by the janitor.
func (s *Service) SweepCache() int { return s.cache.Sweep() }

// resolveEnv loads the identity material for stamping, refreshing the profile
// when the last resolution is older than the freshness window.
func (s *Service) resolveEnv(ctx context.Context, studentID string) ResolveEnv {
	s.mu.Lock()
	cached, have := s.profiles[studentID]
	s.mu.Unlock()

	env := ResolveEnv{AuthedID: studentID}
	if have {
		c := cached
		env.CachedProfile = &c
		if s.now().Sub(cached.FetchedAt) <= s.identityTTL {
			env.Profile = &c
			return env
		}
	}
	ident, err := s.src.FetchProfile(ctx, studentID)
	if err != nil {
		s.log.Warn("profile fetch failed, using cached identity", "student", studentID, "err", err)
		return env
	}
	ident.Source = SourceProfile
	ident.FetchedAt = s.now()
	s.mu.Lock()
	s.profiles[studentID] = ident
	s.mu.Unlock()
	env.Profile = &ident
	env.CachedProfile = &ident
	return env
}

// cachedEnv is resolveEnv without network access, for push callbacks.
func (s *Service) cachedEnv(studentID string) ResolveEnv {
	s.mu.Lock()
	defer s.mu.Unlock()
	env := ResolveEnv{AuthedID: studentID}
	if cached, ok := s.profiles[studentID]; ok {
		c := cached
		env.CachedProfile = &c
		if s.now().Sub(cached.FetchedAt) <= s.identityTTL {
			env.Profile = &c
		}
	}
	return env
}

// Merge deduplicates by record ID. Base order is preserved, a delivered
// record with a newer timestamp supersedes its base twin in place, and
// records unseen in base append in delivery order. No ID appears twice.
func Merge(base, delivered []Record) []Record {
	byID := make(map[string]Record, len(delivered))
	for _, d := range delivered {
		byID[d.ID] = d
	}
	out := make([]Record, 0, len(base)+len(delivered))
	seen := make(map[string]bool, len(base))
	for _, b := range base {
		if seen[b.ID] {
			continue
		}
		seen[b.ID] = true
		if d, ok := byID[b.ID]; ok && !d.Timestamp.Before(b.Timestamp) {
			out = append(out, d)
		} else {
			out = append(out, b)
		}
	}
	for _, d := range delivered {
		if !seen[d.ID] {
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	return out
}
