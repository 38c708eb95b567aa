package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadpilot/internal/config"
	"leadpilot/internal/domain"
	"leadpilot/internal/oracle"
	"leadpilot/internal/repo"
)

// ErrNotFound is returned by Poll for an unknown or swept job id.
var ErrNotFound = errors.New("batch job not found")

type jobEntry struct {
	job     domain.BatchJob
	started time.Time
}

// Store holds in-flight and recently finished jobs. Each job is written
// only by its own driving goroutine; the store lock covers the map and
// the snapshot copies handed to pollers.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*jobEntry)}
}

func (s *Store) put(job domain.BatchJob, started time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &jobEntry{job: job, started: started}
}

func (s *Store) update(id string, fn func(*domain.BatchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[id]; ok {
		fn(&e.job)
	}
}

// Snapshot returns a deep copy so pollers never alias the writer's slice.
func (s *Store) Snapshot(id string) (domain.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return domain.BatchJob{}, ErrNotFound
	}
	job := e.job
	job.Results = append([]domain.BatchItemResult(nil), e.job.Results...)
	if e.job.CompletedAt != nil {
		done := *e.job.CompletedAt
		job.CompletedAt = &done
	}
	return job, nil
}

// Sweep removes every job started before the cutoff, whatever its status.
func (s *Store) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.jobs {
		if e.started.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Runner drives batch contact enrichment. Submit returns immediately;
// a detached goroutine works through the items one at a time with a
// fixed pacing delay between them.
type Runner struct {
	Repo   repo.Repo
	Oracle oracle.Client
	Store  *Store
	Logger *zap.Logger
	Config func(ctx context.Context, tenantID string) *config.Config
	Now    func() time.Time
	Sleep  func(time.Duration)
}

func NewRunner(r repo.Repo, oc oracle.Client, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Repo:   r,
		Oracle: oc,
		Store:  NewStore(),
		Logger: logger,
		Now:    time.Now,
		Sleep:  time.Sleep,
	}
}

func (r *Runner) cfg(ctx context.Context, tenantID string) *config.Config {
	if r.Config != nil {
		return r.Config(ctx, tenantID)
	}
	return config.Default(tenantID)
}

// Submit registers a job for the given contact ids and schedules the
// driving loop off the caller's path. The job runs to completion even if
// the submitting request's context is cancelled.
func (r *Runner) Submit(ctx context.Context, tenantID string, contactIDs []string) (string, error) {
	if len(contactIDs) == 0 {
		return "", fmt.Errorf("%w: no contact ids", domain.ErrInvalidArgument)
	}
	started := r.Now().UTC()
	job := domain.BatchJob{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Status:    domain.BatchProcessing,
		Total:     len(contactIDs),
		Results:   []domain.BatchItemResult{},
		StartedAt: started.Format(time.RFC3339),
	}
	r.Store.put(job, started)
	go r.run(context.Background(), job.ID, tenantID, contactIDs)
	return job.ID, nil
}

// Poll returns a read-only snapshot of the job.
func (r *Runner) Poll(id string) (domain.BatchJob, error) {
	return r.Store.Snapshot(id)
}

func (r *Runner) run(ctx context.Context, jobID, tenantID string, contactIDs []string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("batch loop panicked", zap.String("job_id", jobID), zap.Any("panic", rec))
			r.finish(jobID, domain.BatchFailed)
		}
	}()
	cfg := r.cfg(ctx, tenantID)
	for i, contactID := range contactIDs {
		result := r.processItem(ctx, cfg, tenantID, contactID)
		r.Store.update(jobID, func(j *domain.BatchJob) {
			j.Results = append(j.Results, result)
			j.Processed++
		})
		if result.Status == domain.ItemFailed {
			r.Logger.Warn("batch item failed",
				zap.String("job_id", jobID),
				zap.String("contact_id", contactID),
				zap.String("detail", result.Detail))
		}
		if i < len(contactIDs)-1 {
			r.Sleep(cfg.BatchPacing())
		}
	}
	r.finish(jobID, domain.BatchCompleted)
}

func (r *Runner) finish(jobID string, status domain.BatchJobStatus) {
	done := r.Now().UTC().Format(time.RFC3339)
	r.Store.update(jobID, func(j *domain.BatchJob) {
		j.Status = status
		j.CompletedAt = &done
	})
}

// processItem enriches a single contact. Every failure mode, including a
// panic out of the oracle client, becomes a failed result for this item
// only.
func (r *Runner) processItem(ctx context.Context, cfg *config.Config, tenantID, contactID string) (result domain.BatchItemResult) {
	result = domain.BatchItemResult{ItemID: contactID}
	defer func() {
		if rec := recover(); rec != nil {
			result.Status = domain.ItemFailed
			result.Detail = fmt.Sprintf("panic: %v", rec)
		}
	}()

	contact, err := r.Repo.GetContact(ctx, tenantID, contactID)
	if errors.Is(err, repo.ErrNotFound) {
		result.Status = domain.ItemSkipped
		result.Detail = "contact not found"
		return result
	}
	if err != nil {
		result.Status = domain.ItemFailed
		result.Detail = err.Error()
		return result
	}

	enrichment, err := r.enrichWithRetry(ctx, cfg, contact)
	if err != nil {
		result.Status = domain.ItemFailed
		result.Detail = err.Error()
		return result
	}
	if enrichment.Empty() {
		result.Status = domain.ItemSkipped
		result.Detail = "no enrichment data"
		return result
	}

	now := r.Now().UTC().Format(time.RFC3339)
	if err := r.Repo.UpdateContactEnrichment(ctx, tenantID, contactID, enrichment.Company, enrichment.Website, enrichment.Notes, now); err != nil {
		result.Status = domain.ItemFailed
		result.Detail = err.Error()
		return result
	}
	result.Status = domain.ItemSuccess
	result.Detail = "enriched"
	return result
}

// enrichWithRetry wraps the oracle call with a bounded retry that only
// fires on rate limiting, sleeping the provider's hint plus a small
// cushion, capped.
func (r *Runner) enrichWithRetry(ctx context.Context, cfg *config.Config, contact domain.Contact) (oracle.Enrichment, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.Batch.MaxAttempts; attempt++ {
		enrichment, err := r.Oracle.EnrichContact(ctx, contact)
		if err == nil {
			return enrichment, nil
		}
		lastErr = err
		var rl *oracle.RateLimitError
		if !errors.As(err, &rl) {
			return oracle.Enrichment{}, err
		}
		if attempt == cfg.Batch.MaxAttempts {
			break
		}
		backoff := rl.RetryAfter + 500*time.Millisecond
		if backoff > cfg.BatchMaxBackoff() {
			backoff = cfg.BatchMaxBackoff()
		}
		r.Sleep(backoff)
	}
	return oracle.Enrichment{}, lastErr
}

// StartSweeper launches the periodic GC that drops jobs older than the
// retention window. It stops when ctx is cancelled.
func (r *Runner) StartSweeper(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := r.Store.Sweep(r.Now().UTC().Add(-retention))
				if removed > 0 {
					r.Logger.Debug("swept batch jobs", zap.Int("removed", removed))
				}
			}
		}
	}()
}
