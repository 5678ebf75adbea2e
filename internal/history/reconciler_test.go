package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

/* ---------------- In-memory fakes for SourceClient and Retention ---------------- */

type fakeClient struct {
	history    []Record
	historyErr error
	fetchCalls int

	submitErr   error
	submitCalls int
	submitted   []Record

	profile    Identity
	profileErr error

	subscribeCalls int
	releaseCalls   int
	onUpdate       func([]Record)
	subCtx         context.Context
}

func (f *fakeClient) FetchHistory(_ context.Context, _ string) ([]Record, error) {
	f.fetchCalls++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make([]Record, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeClient) SubmitResult(_ context.Context, rec Record) (Record, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return Record{}, f.submitErr
	}
	f.submitted = append(f.submitted, rec)
	rec.ID = fmt.Sprintf("srv-%d", f.submitCalls)
	return rec, nil
}

func (f *fakeClient) FetchProfile(_ context.Context, _ string) (Identity, error) {
	if f.profileErr != nil {
		return Identity{}, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeClient) Subscribe(ctx context.Context, _ string, onUpdate func([]Record)) (func(), error) {
	f.subscribeCalls++
	f.subCtx = ctx
	f.onUpdate = onUpdate
	return func() { f.releaseCalls++ }, nil
}

type fakeRetention struct {
	records map[string]Record
	errs    map[string]string
}

func newFakeRetention() *fakeRetention {
	return &fakeRetention{records: map[string]Record{}, errs: map[string]string{}}
}

func (f *fakeRetention) Put(_ context.Context, rec Record, lastErr string) error {
	f.records[rec.ID] = rec
	f.errs[rec.ID] = lastErr
	return nil
}

func (f *fakeRetention) Get(_ context.Context, id string) (Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return Record{}, fmt.Errorf("record %q not retained", id)
	}
	return rec, nil
}

func (f *fakeRetention) List(_ context.Context, limit int) ([]Record, error) {
	out := make([]Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRetention) Delete(_ context.Context, id string) error {
	delete(f.records, id)
	return nil
}

/* ---------------- Manual clock ---------------- */

type manualClock struct{ t time.Time }

func (m *manualClock) now() time.Time          { return m.t }
func (m *manualClock) advance(d time.Duration) { m.t = m.t.Add(d) }

func newService(client *fakeClient, ret *fakeRetention, clk *manualClock) (*Service, *Cache) {
	cache := NewCache(5*time.Minute, clk.now)
	svc := NewService(client, cache, ret, 30*time.Minute, clk.now, slog.Default())
	return svc, cache
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 10, 0, sec, 0, time.UTC)
}

/* ---------------- Tests ---------------- */

func TestRecords_CachesUntilExpiry(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{
		history: []Record{{ID: "a", OwnerID: "s-1", Timestamp: at(0)}},
		profile: Identity{Name: "Ada", ID: "s-1"},
	}
	svc, _ := newService(client, newFakeRetention(), clk)

	recs, cached, err := svc.Records(context.Background(), "s-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached || len(recs) != 1 || client.fetchCalls != 1 {
		t.Fatalf("expected one fresh fetch, got cached=%v calls=%d", cached, client.fetchCalls)
	}
	if recs[0].StudentName != "Ada" || recs[0].Provenance != SourceProfile {
		t.Fatalf("record not identity-stamped: %+v", recs[0])
	}

	// Within the TTL the cache answers.
	clk.advance(time.Minute)
	_, cached, _ = svc.Records(context.Background(), "s-1", false)
	if !cached || client.fetchCalls != 1 {
		t.Fatalf("expected cache hit, got cached=%v calls=%d", cached, client.fetchCalls)
	}

	// Past the TTL a transparent re-fetch happens; expiry is not an error.
	clk.advance(10 * time.Minute)
	_, cached, err = svc.Records(context.Background(), "s-1", false)
	if err != nil || cached || client.fetchCalls != 2 {
		t.Fatalf("expected re-fetch after expiry, got cached=%v calls=%d err=%v", cached, client.fetchCalls, err)
	}
}

func TestRecords_ForcedRefreshInvalidates(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{history: []Record{{ID: "a", OwnerID: "s-1"}}}
	svc, _ := newService(client, newFakeRetention(), clk)

	_, _, _ = svc.Records(context.Background(), "s-1", false)
	_, _, _ = svc.Records(context.Background(), "s-1", true)
	if client.fetchCalls != 2 {
		t.Fatalf("forced refresh must bypass the cache, calls=%d", client.fetchCalls)
	}
}

// Merging cached [A(t1), B(t2)] with delivery [A(t3), C(t4)] where t3 > t1
// yields exactly [A(t3), B(t2), C(t4)].
func TestMerge_DeduplicatesNewestWins(t *testing.T) {
	base := []Record{
		{ID: "A", Score: 40, Timestamp: at(1)},
		{ID: "B", Score: 55, Timestamp: at(2)},
	}
	delivered := []Record{
		{ID: "A", Score: 70, Timestamp: at(3)},
		{ID: "C", Score: 90, Timestamp: at(4)},
	}
	merged := Merge(base, delivered)
	if len(merged) != 3 {
		t.Fatalf("expected 3 records, got %d", len(merged))
	}
	if merged[0].ID != "A" || merged[0].Score != 70 {
		t.Fatalf("expected delivered A to supersede, got %+v", merged[0])
	}
	if merged[1].ID != "B" || merged[2].ID != "C" {
		t.Fatalf("unexpected order: %v %v", merged[1].ID, merged[2].ID)
	}
	seen := map[string]bool{}
	for _, r := range merged {
		if seen[r.ID] {
			t.Fatalf("duplicate id %q in merged list", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestMerge_OlderDeliveryDoesNotRegress(t *testing.T) {
	base := []Record{{ID: "A", Score: 80, Timestamp: at(5)}}
	delivered := []Record{{ID: "A", Score: 10, Timestamp: at(1)}}
	merged := Merge(base, delivered)
	if len(merged) != 1 || merged[0].Score != 80 {
		t.Fatalf("stale delivery must not supersede: %+v", merged)
	}
}

func TestApplyLive_MarksEntryLive(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{history: []Record{{ID: "a", OwnerID: "s-1", Timestamp: at(0)}}}
	svc, cache := newService(client, newFakeRetention(), clk)

	_, _, _ = svc.Records(context.Background(), "s-1", false)
	svc.ApplyLive("s-1", []Record{{ID: "b", OwnerID: "s-1", Timestamp: at(1)}})

	e, ok := cache.Peek("s-1")
	if !ok || !e.Live {
		t.Fatalf("expected live entry, got ok=%v live=%v", ok, e.Live)
	}
	if len(e.Records) != 2 {
		t.Fatalf("expected merged view of 2 records, got %d", len(e.Records))
	}

	// Live entries never expire on the TTL clock.
	clk.advance(time.Hour)
	if _, cached, _ := svc.Records(context.Background(), "s-1", false); cached {
		t.Fatalf("live view must be reported as current, not cached")
	}
	if client.fetchCalls != 1 {
		t.Fatalf("live view must not trigger a re-fetch, calls=%d", client.fetchCalls)
	}
}

func TestEnableLive_ReplacesPreviousSubscription(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{}
	svc, _ := newService(client, newFakeRetention(), clk)

	if err := svc.EnableLive(context.Background(), "s-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.EnableLive(context.Background(), "s-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.subscribeCalls != 2 || client.releaseCalls != 1 {
		t.Fatalf("re-subscribe must release the old handle first: subs=%d releases=%d",
			client.subscribeCalls, client.releaseCalls)
	}
	svc.DisableLive("s-1")
	if client.releaseCalls != 2 {
		t.Fatalf("disable must release, releases=%d", client.releaseCalls)
	}
}

func TestSubmit_InvalidatesCache(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{history: []Record{{ID: "a", OwnerID: "s-1"}}}
	svc, _ := newService(client, newFakeRetention(), clk)

	_, _, _ = svc.Records(context.Background(), "s-1", false)
	if _, err := svc.Submit(context.Background(), Record{ID: "local-1", OwnerID: "s-1", Timestamp: at(1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Next read must re-fetch: the cache was invalidated by the write path.
	_, cached, _ := svc.Records(context.Background(), "s-1", false)
	if cached || client.fetchCalls != 2 {
		t.Fatalf("expected invalidation then re-fetch, cached=%v calls=%d", cached, client.fetchCalls)
	}
}

func TestSubmit_FailureIsSubmitError(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{submitErr: fmt.Errorf("backend down")}
	svc, _ := newService(client, newFakeRetention(), clk)

	_, err := svc.Submit(context.Background(), Record{ID: "local-1", OwnerID: "s-1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRetryPending_DrainsRetainedRecords(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{}
	ret := newFakeRetention()
	svc, _ := newService(client, ret, clk)

	rec := Record{ID: "local-1", OwnerID: "s-1", Score: 70, Timestamp: at(0)}
	if err := svc.Retain(context.Background(), rec, "backend down"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, err := svc.RetryPending(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one drained record, n=%d err=%v", n, err)
	}
	if len(ret.records) != 0 {
		t.Fatalf("retained record must be dropped after success")
	}
	if client.submitCalls != 1 {
		t.Fatalf("expected one submission, got %d", client.submitCalls)
	}
}

func TestRetryPending_KeepsFailingRecords(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{submitErr: fmt.Errorf("still down")}
	ret := newFakeRetention()
	svc, _ := newService(client, ret, clk)

	_ = svc.Retain(context.Background(), Record{ID: "local-1", OwnerID: "s-1"}, "down")
	n, err := svc.RetryPending(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected zero drained, n=%d err=%v", n, err)
	}
	if len(ret.records) != 1 {
		t.Fatalf("failing record must stay retained")
	}
}

func TestIdentity_ReResolvedAfterFreshnessWindow(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{
		history: []Record{{ID: "a", OwnerID: "s-1"}},
		profile: Identity{Name: "Ada", ID: "s-1"},
	}
	svc, _ := newService(client, newFakeRetention(), clk)

	recs, _, _ := svc.Records(context.Background(), "s-1", false)
	if recs[0].StudentName != "Ada" {
		t.Fatalf("expected profile stamp, got %q", recs[0].StudentName)
	}

	// Profile renamed upstream; within the freshness window the old
	// resolution is reused, past it the profile is fetched again.
	client.profile = Identity{Name: "Ada L.", ID: "s-1"}
	clk.advance(31 * time.Minute)
	recs, _, _ = svc.Records(context.Background(), "s-1", true)
	if recs[0].StudentName != "Ada L." {
		t.Fatalf("expected re-resolved profile, got %q", recs[0].StudentName)
	}
}

func TestExportCSV_HeaderAndRows(t *testing.T) {
	data, err := ExportCSV([]Record{{ID: "r1", Subject: "math", Score: 70, Timestamp: at(0)}}, 70)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(data)
	if len(s) == 0 || s[:2] != "ID" {
		t.Fatalf("unexpected csv output: %q", s)
	}
}

type fakeSnapshots struct {
	byStudent map[string][]Record
	replaces  int
}

func (f *fakeSnapshots) Replace(_ context.Context, studentID string, recs []Record) error {
	f.byStudent[studentID] = recs
	f.replaces++
	return nil
}

func (f *fakeSnapshots) Load(_ context.Context, studentID string) ([]Record, error) {
	return f.byStudent[studentID], nil
}

func TestRecords_SnapshotWrittenOnFetch(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{history: []Record{{ID: "a", OwnerID: "s-1"}}}
	snap := &fakeSnapshots{byStudent: map[string][]Record{}}
	svc, _ := newService(client, newFakeRetention(), clk)
	svc.WithSnapshots(snap)

	_, _, err := svc.Records(context.Background(), "s-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.replaces != 1 || len(snap.byStudent["s-1"]) != 1 {
		t.Fatalf("expected snapshot write-through, got %d replaces", snap.replaces)
	}
}

func TestRecords_SnapshotServedWhenBackendDown(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{historyErr: fmt.Errorf("connection refused")}
	snap := &fakeSnapshots{byStudent: map[string][]Record{
		"s-1": {{ID: "a", OwnerID: "s-1", Subject: "math"}},
	}}
	svc, _ := newService(client, newFakeRetention(), clk)
	svc.WithSnapshots(snap)

	recs, cached, err := svc.Records(context.Background(), "s-1", false)
	if err != nil {
		t.Fatalf("expected snapshot fallback, got error: %v", err)
	}
	if !cached || len(recs) != 1 || recs[0].Subject != "math" {
		t.Fatalf("unexpected fallback result: cached=%v recs=%+v", cached, recs)
	}

	// Without a snapshot the failure surfaces.
	svcBare, _ := newService(&fakeClient{historyErr: fmt.Errorf("connection refused")}, newFakeRetention(), clk)
	if _, _, err := svcBare.Records(context.Background(), "s-2", false); err == nil {
		t.Fatalf("expected error without a snapshot")
	}
}

// The live subscription must outlive the call that opened it; only its
// release handle tears it down.
func TestEnableLive_SurvivesCallerCancellation(t *testing.T) {
	clk := &manualClock{t: at(0)}
	client := &fakeClient{}
	svc, _ := newService(client, newFakeRetention(), clk)

	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.EnableLive(ctx, "s-1"); err != nil {
		t.Fatalf("enable live: %v", err)
	}
	cancel()

	if client.subCtx == nil {
		t.Fatalf("subscription context not captured")
	}
	if err := client.subCtx.Err(); err != nil {
		t.Fatalf("subscription cancelled with its caller: %v", err)
	}
	if client.releaseCalls != 0 {
		t.Fatalf("subscription released prematurely")
	}
	svc.DisableLive("s-1")
	if client.releaseCalls != 1 {
		t.Fatalf("expected one release after disable, got %d", client.releaseCalls)
	}
}

func TestRetryOne_ForeignRecordLooksMissing(t *testing.T) {
	clk := &manualClock{t: at(0)}
	ret := newFakeRetention()
	_ = ret.Put(context.Background(), Record{ID: "local-1", OwnerID: "s-1"}, "backend down")
	svc, _ := newService(&fakeClient{}, ret, clk)

	if _, err := svc.RetryOne(context.Background(), "s-2", "local-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a foreign record, got %v", err)
	}
	if _, ok := ret.records["local-1"]; !ok {
		t.Fatalf("foreign retry must leave the record retained")
	}

	out, err := svc.RetryOne(context.Background(), "s-1", "local-1")
	if err != nil {
		t.Fatalf("owner retry: %v", err)
	}
	if out.ID == "" {
		t.Fatalf("expected the submitted record back")
	}
	if _, ok := ret.records["local-1"]; ok {
		t.Fatalf("owner retry must drain the record")
	}
}
