package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"leadpilot/internal/batch"
	"leadpilot/internal/db"
	"leadpilot/internal/domain"
	"leadpilot/internal/migrate"
	"leadpilot/internal/oracle"
	"leadpilot/internal/repo"
)

const testTenant = "tenant-1"

// enrichBehavior scripts the fake oracle for one contact id. Errors are
// consumed in order; once exhausted the result is returned.
type enrichBehavior struct {
	errs   []error
	result oracle.Enrichment
	panics bool
}

type fakeOracle struct {
	mu        sync.Mutex
	behaviors map[string]*enrichBehavior
	calls     map[string]int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{behaviors: map[string]*enrichBehavior{}, calls: map[string]int{}}
}

func (f *fakeOracle) EnrichContact(ctx context.Context, c domain.Contact) (oracle.Enrichment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[c.ID]++
	b, ok := f.behaviors[c.ID]
	if !ok {
		return oracle.Enrichment{Company: "Acme"}, nil
	}
	if b.panics {
		panic("oracle client blew up")
	}
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return oracle.Enrichment{}, err
	}
	return b.result, nil
}

func (f *fakeOracle) ProposeActions(ctx context.Context, req oracle.ProposeRequest) ([]oracle.ProposedAction, error) {
	return nil, nil
}

func (f *fakeOracle) DiscoverBusinesses(ctx context.Context, query string, limit int) (string, []oracle.Business, error) {
	return "", nil, nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = append(s.slept, d)
}

func (s *sleepRecorder) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func newTestRunner(t *testing.T, oc *fakeOracle) (*batch.Runner, repo.Repo, *sleepRecorder) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	runner := batch.NewRunner(r, oc, zap.NewNop())
	rec := &sleepRecorder{}
	runner.Sleep = rec.sleep
	return runner, r, rec
}

func seedContact(t *testing.T, r repo.Repo, id string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	err := r.InsertContact(context.Background(), domain.Contact{
		ID:        id,
		TenantID:  testTenant,
		Name:      "Contact " + id,
		Email:     id + "@example.com",
		Status:    "new",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed contact %s: %v", id, err)
	}
}

func waitForJob(t *testing.T, runner *batch.Runner, jobID string) domain.BatchJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := runner.Poll(jobID)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if job.Status != domain.BatchProcessing {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", jobID)
	return domain.BatchJob{}
}

func TestSubmitRequiresContacts(t *testing.T) {
	runner, _, _ := newTestRunner(t, newFakeOracle())
	if _, err := runner.Submit(context.Background(), testTenant, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRunIsolatesItemFailures(t *testing.T) {
	oc := newFakeOracle()
	oc.behaviors["c3"] = &enrichBehavior{errs: []error{errors.New("model refused")}}
	oc.behaviors["c4"] = &enrichBehavior{panics: true}
	runner, r, _ := newTestRunner(t, oc)
	ids := []string{"c1", "c2", "c3", "c4", "c5"}
	for _, id := range ids {
		seedContact(t, r, id)
	}

	jobID, err := runner.Submit(context.Background(), testTenant, ids)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitForJob(t, runner, jobID)

	if job.Status != domain.BatchCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Processed != 5 || len(job.Results) != 5 {
		t.Fatalf("processed %d results %d, want 5/5", job.Processed, len(job.Results))
	}
	byID := map[string]domain.BatchItemResult{}
	for _, res := range job.Results {
		byID[res.ItemID] = res
	}
	if byID["c3"].Status != domain.ItemFailed {
		t.Fatalf("c3 = %+v, want failed", byID["c3"])
	}
	if byID["c4"].Status != domain.ItemFailed || byID["c4"].Detail == "" {
		t.Fatalf("c4 = %+v, want failed with panic detail", byID["c4"])
	}
	for _, id := range []string{"c1", "c2", "c5"} {
		if byID[id].Status != domain.ItemSuccess {
			t.Fatalf("%s = %+v, want success", id, byID[id])
		}
	}
	c, err := r.GetContact(context.Background(), testTenant, "c1")
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if c.Company != "Acme" {
		t.Fatalf("enrichment not persisted: %+v", c)
	}
}

func TestRunSkipsMissingAndEmpty(t *testing.T) {
	oc := newFakeOracle()
	oc.behaviors["c1"] = &enrichBehavior{result: oracle.Enrichment{}}
	runner, r, _ := newTestRunner(t, oc)
	seedContact(t, r, "c1")

	jobID, err := runner.Submit(context.Background(), testTenant, []string{"c1", "ghost"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitForJob(t, runner, jobID)
	if job.Status != domain.BatchCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Results[0].Status != domain.ItemSkipped || job.Results[0].Detail != "no enrichment data" {
		t.Fatalf("empty enrichment: %+v", job.Results[0])
	}
	if job.Results[1].Status != domain.ItemSkipped || job.Results[1].Detail != "contact not found" {
		t.Fatalf("missing contact: %+v", job.Results[1])
	}
}

func TestRateLimitRetryBackoff(t *testing.T) {
	oc := newFakeOracle()
	oc.behaviors["c1"] = &enrichBehavior{
		errs: []error{
			&oracle.RateLimitError{RetryAfter: 2 * time.Second},
			&oracle.RateLimitError{RetryAfter: 30 * time.Second},
		},
		result: oracle.Enrichment{Notes: "found"},
	}
	runner, r, rec := newTestRunner(t, oc)
	seedContact(t, r, "c1")

	jobID, err := runner.Submit(context.Background(), testTenant, []string{"c1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitForJob(t, runner, jobID)
	if job.Results[0].Status != domain.ItemSuccess {
		t.Fatalf("expected success after retries: %+v", job.Results[0])
	}
	if oc.calls["c1"] != 3 {
		t.Fatalf("oracle calls = %d, want 3", oc.calls["c1"])
	}
	slept := rec.all()
	// hint + cushion for the first, capped for the second; single item
	// means no pacing sleeps
	want := []time.Duration{2500 * time.Millisecond, 15 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestRateLimitExhaustsAttempts(t *testing.T) {
	oc := newFakeOracle()
	oc.behaviors["c1"] = &enrichBehavior{
		errs: []error{
			&oracle.RateLimitError{RetryAfter: time.Second},
			&oracle.RateLimitError{RetryAfter: time.Second},
			&oracle.RateLimitError{RetryAfter: time.Second},
		},
	}
	runner, r, _ := newTestRunner(t, oc)
	seedContact(t, r, "c1")

	jobID, _ := runner.Submit(context.Background(), testTenant, []string{"c1"})
	job := waitForJob(t, runner, jobID)
	if job.Status != domain.BatchCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}
	if job.Results[0].Status != domain.ItemFailed {
		t.Fatalf("expected failure after exhausted retries: %+v", job.Results[0])
	}
	if oc.calls["c1"] != 3 {
		t.Fatalf("oracle calls = %d, want 3", oc.calls["c1"])
	}
}

func TestNonRateLimitErrorDoesNotRetry(t *testing.T) {
	oc := newFakeOracle()
	oc.behaviors["c1"] = &enrichBehavior{errs: []error{errors.New("bad request")}}
	runner, r, rec := newTestRunner(t, oc)
	seedContact(t, r, "c1")

	jobID, _ := runner.Submit(context.Background(), testTenant, []string{"c1"})
	job := waitForJob(t, runner, jobID)
	if job.Results[0].Status != domain.ItemFailed {
		t.Fatalf("expected failed item: %+v", job.Results[0])
	}
	if oc.calls["c1"] != 1 {
		t.Fatalf("oracle calls = %d, want 1", oc.calls["c1"])
	}
	if len(rec.all()) != 0 {
		t.Fatalf("unexpected sleeps: %v", rec.all())
	}
}

func TestPacingBetweenItems(t *testing.T) {
	oc := newFakeOracle()
	runner, r, rec := newTestRunner(t, oc)
	for _, id := range []string{"c1", "c2", "c3"} {
		seedContact(t, r, id)
	}
	jobID, _ := runner.Submit(context.Background(), testTenant, []string{"c1", "c2", "c3"})
	waitForJob(t, runner, jobID)
	slept := rec.all()
	// a delay after each item except the last
	if len(slept) != 2 {
		t.Fatalf("sleeps = %v, want 2 pacing delays", slept)
	}
	for _, d := range slept {
		if d != 6*time.Second {
			t.Fatalf("pacing = %v, want 6s", d)
		}
	}
}

func TestPollUnknownJob(t *testing.T) {
	runner, _, _ := newTestRunner(t, newFakeOracle())
	if _, err := runner.Poll("nope"); !errors.Is(err, batch.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	oc := newFakeOracle()
	runner, r, _ := newTestRunner(t, oc)
	seedContact(t, r, "c1")
	jobID, _ := runner.Submit(context.Background(), testTenant, []string{"c1"})
	job := waitForJob(t, runner, jobID)
	job.Results[0].Detail = "mutated by caller"
	again, err := runner.Poll(jobID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if again.Results[0].Detail == "mutated by caller" {
		t.Fatalf("snapshot aliases the store's slice")
	}
}

func TestSweepDropsOldJobs(t *testing.T) {
	oc := newFakeOracle()
	runner, r, _ := newTestRunner(t, oc)
	seedContact(t, r, "c1")

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	runner.Now = func() time.Time { return old }
	oldJob, _ := runner.Submit(context.Background(), testTenant, []string{"c1"})
	waitForJob(t, runner, oldJob)

	runner.Now = time.Now
	freshJob, _ := runner.Submit(context.Background(), testTenant, []string{"c1"})
	waitForJob(t, runner, freshJob)

	removed := runner.Store.Sweep(time.Now().UTC().Add(-time.Hour))
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := runner.Poll(oldJob); !errors.Is(err, batch.ErrNotFound) {
		t.Fatalf("old job should be gone, got %v", err)
	}
	if _, err := runner.Poll(freshJob); err != nil {
		t.Fatalf("fresh job swept: %v", err)
	}
}
