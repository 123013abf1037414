// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

package queue

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/ranksheet/internal/config"
	"github.com/tomtom215/ranksheet/internal/logging"
	"github.com/tomtom215/ranksheet/internal/models"
	"github.com/tomtom215/ranksheet/internal/refresh"
	"github.com/tomtom215/ranksheet/internal/store"
)

// fakeJobStore is an in-memory stand-in for the job_runs table with the
// same claim semantics: a QUEUED row flips to RUNNING exactly once.
type fakeJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.JobRun
	seq       int
	reclaimed int64
	cleaned   int
	completes []models.JobStatus

	enqueueErr error
	claimErr   error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.JobRun)}
}

func (s *fakeJobStore) EnqueueJob(_ context.Context, job *models.JobRun, window time.Duration) (*models.JobRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return nil, false, s.enqueueErr
	}
	for _, existing := range s.jobs {
		if existing.JobName != job.JobName || existing.KeywordSlug != job.KeywordSlug {
			continue
		}
		active := existing.Status == models.JobStatusQueued || existing.Status == models.JobStatusRunning
		if active || time.Since(existing.QueuedAt) < window {
			dup := *existing
			return &dup, false, nil
		}
	}
	s.seq++
	stored := *job
	stored.Status = models.JobStatusQueued
	stored.QueuedAt = time.Now().Add(time.Duration(s.seq) * time.Millisecond)
	s.jobs[stored.ID] = &stored
	copied := stored
	return &copied, true, nil
}

func (s *fakeJobStore) ClaimNextJob(_ context.Context) (*models.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var queued []*models.JobRun
	for _, job := range s.jobs {
		if job.Status == models.JobStatusQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return nil, store.ErrNotFound
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].QueuedAt.Before(queued[j].QueuedAt) })
	job := queued[0]
	job.Status = models.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) CompleteJob(_ context.Context, id string, status models.JobStatus, detail models.JobDetail, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !status.Terminal() {
		return errors.New("non-terminal status")
	}
	job.Status = status
	job.Detail = detail
	job.DurationMS = duration.Milliseconds()
	s.completes = append(s.completes, status)
	return nil
}

func (s *fakeJobStore) ReclaimStaleJobs(_ context.Context, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reclaimed, nil
}

func (s *fakeJobStore) GetJob(_ context.Context, id string) (*models.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) QueueDepth(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, job := range s.jobs {
		if job.Status == models.JobStatusQueued {
			n++
		}
	}
	return n, nil
}

func (s *fakeJobStore) CacheCleanExpired(_ context.Context, _ int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned++
	return 3, nil
}

// fakeOrchestrator returns canned results and records calls.
type fakeOrchestrator struct {
	mu        sync.Mutex
	oneCalls  []refresh.Options
	allCalls  []refresh.BatchOptions
	oneResult refresh.Result
	oneErr    error
	allResult refresh.BatchResult
	allErr    error
	panicMsg  string
}

func (o *fakeOrchestrator) RefreshKeywordBySlug(_ context.Context, opts refresh.Options) (refresh.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.panicMsg != "" {
		panic(o.panicMsg)
	}
	o.oneCalls = append(o.oneCalls, opts)
	res := o.oneResult
	if res.Slug == "" {
		res.Slug = opts.Slug
	}
	return res, o.oneErr
}

func (o *fakeOrchestrator) RefreshAllKeywords(_ context.Context, opts refresh.BatchOptions) (refresh.BatchResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.allCalls = append(o.allCalls, opts)
	return o.allResult, o.allErr
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		PollInterval:   time.Millisecond,
		IdleInterval:   time.Millisecond,
		StaleAfter:     time.Hour,
		DedupOneWindow: 30 * time.Minute,
		DedupAllWindow: 6 * time.Hour,
	}
}

func testWorker(st Store, orch Orchestrator) *Worker {
	w := NewWorker(st, orch, testQueueConfig(), config.CacheConfig{
		CleanOlderThanDays: 45,
		CleanInterval:      time.Hour,
	}, logging.NewTestLogger(io.Discard))
	return w
}

// drain runs the worker loop until the queue is empty, then cancels.
func drain(t *testing.T, w *Worker, st *fakeJobStore) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w.sleep = func(ctx context.Context, _ time.Duration) error {
		depth, _ := st.QueueDepth(ctx)
		st.mu.Lock()
		running := 0
		for _, job := range st.jobs {
			if job.Status == models.JobStatusRunning {
				running++
			}
		}
		st.mu.Unlock()
		if depth == 0 && running == 0 {
			cancel()
		}
		return ctx.Err()
	}
	if err := w.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve returned %v, want context.Canceled", err)
	}
}

func TestEnqueueRefreshOneDedup(t *testing.T) {
	st := newFakeJobStore()
	q := New(st, testQueueConfig(), logging.NewTestLogger(io.Discard))
	ctx := context.Background()

	first, inserted, err := q.EnqueueRefreshOne(ctx, "wireless-earbuds", "")
	if err != nil {
		t.Fatalf("EnqueueRefreshOne: %v", err)
	}
	if !inserted {
		t.Fatal("first enqueue not inserted")
	}
	if first.Detail.RefreshOne == nil || first.Detail.RefreshOne.Slug != "wireless-earbuds" {
		t.Fatalf("detail = %+v, want refresh_one slug", first.Detail)
	}

	second, inserted, err := q.EnqueueRefreshOne(ctx, "wireless-earbuds", "")
	if err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if inserted {
		t.Fatal("duplicate enqueue reported inserted")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate returned id %s, want existing %s", second.ID, first.ID)
	}

	// Distinct slug is a distinct job.
	_, inserted, err = q.EnqueueRefreshOne(ctx, "usb-hubs", "")
	if err != nil || !inserted {
		t.Fatalf("distinct slug: inserted=%v err=%v", inserted, err)
	}
}

func TestEnqueueRefreshAllCarriesKnobs(t *testing.T) {
	st := newFakeJobStore()
	q := New(st, testQueueConfig(), logging.NewTestLogger(io.Discard))

	job, inserted, err := q.EnqueueRefreshAll(context.Background(), 4, 100)
	if err != nil || !inserted {
		t.Fatalf("EnqueueRefreshAll: inserted=%v err=%v", inserted, err)
	}
	d := job.Detail.RefreshAll
	if d == nil || d.Concurrency != 4 || d.Limit != 100 {
		t.Fatalf("detail = %+v, want concurrency 4 limit 100", d)
	}
}

func TestWorkerExecutesRefreshOne(t *testing.T) {
	st := newFakeJobStore()
	orch := &fakeOrchestrator{oneResult: refresh.Result{
		Acquired:       true,
		Success:        true,
		ReportDate:     "2026-08-23",
		ReadinessLevel: models.ReadinessFull,
		ValidCount:     10,
	}}
	q := New(st, testQueueConfig(), logging.NewTestLogger(io.Discard))
	job, _, err := q.EnqueueRefreshOne(context.Background(), "wireless-earbuds", "2026-08-23")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drain(t, testWorker(st, orch), st)

	if len(orch.oneCalls) != 1 {
		t.Fatalf("orchestrator called %d times, want 1", len(orch.oneCalls))
	}
	if got := orch.oneCalls[0]; got.Slug != "wireless-earbuds" || got.ReportDate != "2026-08-23" {
		t.Fatalf("options = %+v", got)
	}

	done, err := q.GetJobState(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJobState: %v", err)
	}
	if done.Status != models.JobStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", done.Status)
	}
	d := done.Detail.RefreshOne
	if d == nil || d.ReadinessLevel != models.ReadinessFull || d.ValidCount != 10 || !d.Acquired {
		t.Fatalf("terminal detail = %+v", d)
	}
}

func TestWorkerClaimsEachJobOnce(t *testing.T) {
	st := newFakeJobStore()
	orch := &fakeOrchestrator{oneResult: refresh.Result{Acquired: true, Success: true}}
	q := New(st, testQueueConfig(), logging.NewTestLogger(io.Discard))
	slugs := []string{"keyword-a", "keyword-b", "keyword-c"}
	for _, slug := range slugs {
		if _, _, err := q.EnqueueRefreshOne(context.Background(), slug, ""); err != nil {
			t.Fatalf("enqueue %s: %v", slug, err)
		}
	}

	drain(t, testWorker(st, orch), st)

	if len(orch.oneCalls) != len(slugs) {
		t.Fatalf("executed %d jobs, want %d", len(orch.oneCalls), len(slugs))
	}
	seen := make(map[string]int)
	for _, call := range orch.oneCalls {
		seen[call.Slug]++
	}
	for _, slug := range slugs {
		if seen[slug] != 1 {
			t.Fatalf("slug %s executed %d times, want exactly once", slug, seen[slug])
		}
	}
	if len(st.completes) != len(slugs) {
		t.Fatalf("completed %d rows, want %d", len(st.completes), len(slugs))
	}
}

func TestWorkerRecordsFailure(t *testing.T) {
	st := newFakeJobStore()
	orch := &fakeOrchestrator{oneErr: errors.New("signals unavailable")}
	q := New(st, testQueueConfig(), logging.NewTestLogger(io.Discard))
	job, _, err := q.EnqueueRefreshOne(context.Background(), "wireless-earbuds", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drain(t, testWorker(st, orch), st)

	done, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if done.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", done.Status)
	}
	if !strings.Contains(done.Detail.Error, "signals unavailable") {
		t.Fatalf("detail error = %q", done.Detail.Error)
	}
}

func TestWorkerLockContentionFailsJob(t *testing.T) {
	st := newFakeJobStore()
	orch := &fakeOrchestrator{oneResult: refresh.Result{Acquired: false, Error: "refresh_in_progress"}}
	q := New(st, testQueueConfig(), logging.NewTestLogger(io.Discard))
	job, _, err := q.EnqueueRefreshOne(context.Background(), "wireless-earbuds", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drain(t, testWorker(st, orch), st)

	done, _ := st.GetJob(context.Background(), job.ID)
	if done.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", done.Status)
	}
	if done.Detail.RefreshOne == nil || done.Detail.RefreshOne.Acquired {
		t.Fatalf("detail = %+v, want acquired false", done.Detail.RefreshOne)
	}
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	st := newFakeJobStore()
	orch := &fakeOrchestrator{panicMsg: "nil map write"}
	q := New(st, testQueueConfig(), logging.NewTestLogger(io.Discard))
	job, _, err := q.EnqueueRefreshOne(context.Background(), "wireless-earbuds", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drain(t, testWorker(st, orch), st)

	done, _ := st.GetJob(context.Background(), job.ID)
	if done.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED after panic", done.Status)
	}
	if !strings.Contains(done.Detail.Error, "panicked") {
		t.Fatalf("detail error = %q", done.Detail.Error)
	}
}

func TestWorkerExecutesRefreshAll(t *testing.T) {
	st := newFakeJobStore()
	orch := &fakeOrchestrator{allResult: refresh.BatchResult{Total: 5, Success: 5}}
	q := New(st, testQueueConfig(), logging.NewTestLogger(io.Discard))
	job, _, err := q.EnqueueRefreshAll(context.Background(), 3, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drain(t, testWorker(st, orch), st)

	if len(orch.allCalls) != 1 {
		t.Fatalf("batch called %d times, want 1", len(orch.allCalls))
	}
	if orch.allCalls[0].Concurrency != 3 {
		t.Fatalf("concurrency = %d, want 3", orch.allCalls[0].Concurrency)
	}
	done, _ := st.GetJob(context.Background(), job.ID)
	if done.Status != models.JobStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", done.Status)
	}
	if done.Detail.RefreshAll == nil || done.Detail.RefreshAll.Total != 5 {
		t.Fatalf("detail = %+v", done.Detail.RefreshAll)
	}
}

func TestWorkerBatchWithFailuresIsFailedJob(t *testing.T) {
	st := newFakeJobStore()
	orch := &fakeOrchestrator{allResult: refresh.BatchResult{Total: 5, Success: 3, Failed: 2}}
	q := New(st, testQueueConfig(), logging.NewTestLogger(io.Discard))
	job, _, err := q.EnqueueRefreshAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drain(t, testWorker(st, orch), st)

	done, _ := st.GetJob(context.Background(), job.ID)
	if done.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", done.Status)
	}
	if done.Detail.RefreshAll == nil || done.Detail.RefreshAll.Failed != 2 {
		t.Fatalf("detail = %+v, want failed 2 preserved", done.Detail.RefreshAll)
	}
}

func TestWorkerIdleCleanupHonorsInterval(t *testing.T) {
	st := newFakeJobStore()
	w := testWorker(st, &fakeOrchestrator{})
	base := time.Now()
	w.now = func() time.Time { return base }

	ctx, cancel := context.WithCancel(context.Background())
	idles := 0
	w.sleep = func(context.Context, time.Duration) error {
		idles++
		if idles == 2 {
			// Second idle pass: jump past the cleanup interval.
			w.now = func() time.Time { return base.Add(2 * time.Hour) }
		}
		if idles >= 4 {
			cancel()
		}
		return ctx.Err()
	}
	if err := w.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve returned %v", err)
	}

	// One cleanup for the jump past the interval, none for the polls inside it.
	if st.cleaned != 1 {
		t.Fatalf("cleaned %d times, want 1", st.cleaned)
	}
}
