// Package cron implements the cron.* RPC method family: named jobs on a
// cron expression, interval, or one-shot schedule, with a capped run
// history and manual triggering. Next-wake computation and expression
// validation are delegated to gronx; job state and run history are
// persisted through the gateway's own slot store.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// RetryConfig controls how a failed job run is retried before being
// marked permanently failed.
type RetryConfig struct {
	MaxRetries int           `json:"maxRetries"`
	BaseDelay  time.Duration `json:"baseDelay"`
	MaxDelay   time.Duration `json:"maxDelay"`
}

// DefaultRetryConfig returns the retry policy used when config.go's
// CronConfig leaves the fields at their zero value.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   2 * time.Minute,
	}
}

// Schedule describes when a job runs. Exactly one of Expr, EveryMs, or
// AtMs should be set; Kind records which.
type Schedule struct {
	Kind         string `json:"kind"` // "cron", "interval", "once"
	Expr         string `json:"expr,omitempty"`
	EveryMs      int64  `json:"everyMs,omitempty"`
	EverySeconds int64  `json:"everySeconds,omitempty"`
	AtMs         int64  `json:"atMs,omitempty"`
	TZ           string `json:"tz,omitempty"`
}

// Job is a user-defined cron job.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Schedule       Schedule `json:"schedule"`
	Message        string   `json:"message,omitempty"`
	Deliver        bool     `json:"deliver,omitempty"`
	Channel        string   `json:"channel,omitempty"`
	To             string   `json:"to,omitempty"`
	AgentID        string   `json:"agentId,omitempty"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	Enabled        bool     `json:"enabled"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	NextRunAtMs    int64    `json:"nextRunAtMs,omitempty"`
	LastRunAtMs    int64    `json:"lastRunAtMs,omitempty"`
}

// JobPatch applies a partial update to a job; nil fields are left alone.
type JobPatch struct {
	Enabled *bool
	Name    *string
}

// Run is one recorded execution of a job.
type Run struct {
	Ts     int64  `json:"ts"`
	JobID  string `json:"jobId"`
	Status string `json:"status"` // "ok", "error"
	Error  string `json:"error,omitempty"`
}

const maxRuns = 200

// Runner executes a job's payload; the scheduler calls it both on its own
// tick and for an explicit cron.run request. It must not block past ctx.
type Runner func(ctx context.Context, job Job) error

// EventEmitter mirrors the gateway's broadcaster so the scheduler can push
// a "cron" event on every lifecycle action without importing the bus package.
type EventEmitter func(action string, jobID string)

// Store persists job definitions and run history across restarts.
type Store interface {
	LoadJobs() ([]Job, error)
	SaveJobs(jobs []Job) error
	LoadRuns() ([]Run, error)
	SaveRuns(runs []Run) error
}

// Scheduler owns the set of cron jobs and drives a single background
// ticker that fires due jobs through Runner.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	runs    []Run
	store   Store
	runner  Runner
	emit    EventEmitter
	retry   RetryConfig
	nowFn   func() time.Time
	stopCh  chan struct{}
	started bool
}

// New builds a Scheduler from persisted state. If store is nil the
// scheduler starts empty and never persists (standalone in-memory mode).
func New(store Store, runner Runner, emit EventEmitter, retry RetryConfig) *Scheduler {
	s := &Scheduler{
		jobs:   make(map[string]*Job),
		store:  store,
		runner: runner,
		emit:   emit,
		retry:  retry,
		nowFn:  time.Now,
		stopCh: make(chan struct{}),
	}
	if store != nil {
		if jobs, err := store.LoadJobs(); err == nil {
			for i := range jobs {
				j := jobs[i]
				s.jobs[j.ID] = &j
			}
		} else {
			slog.Warn("cron.load_jobs_failed", "error", err)
		}
		if runs, err := store.LoadRuns(); err == nil {
			s.runs = runs
		} else {
			slog.Warn("cron.load_runs_failed", "error", err)
		}
	}
	return s
}

// Start launches the tick loop, checking for due jobs once a second until
// ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop halts the tick loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.nowFn()
	nowMs := now.UnixMilli()

	var due []Job
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.Enabled && j.NextRunAtMs > 0 && j.NextRunAtMs <= nowMs {
			due = append(due, *j)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.runJob(ctx, job, false)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job, forced bool) {
	var runErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		runErr = s.runner(ctx, job)
		if runErr == nil {
			break
		}
		delay := s.retry.BaseDelay * time.Duration(1<<uint(attempt))
		if delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
		}
		if attempt < s.retry.MaxRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}

	nowMs := s.nowFn().UnixMilli()
	run := Run{Ts: nowMs, JobID: job.ID, Status: "ok"}
	if runErr != nil {
		run.Status = "error"
		run.Error = runErr.Error()
		slog.Warn("cron.run_failed", "jobId", job.ID, "error", runErr)
	}

	s.mu.Lock()
	s.runs = append([]Run{run}, s.runs...)
	if len(s.runs) > maxRuns {
		s.runs = s.runs[:maxRuns]
	}
	j, ok := s.jobs[job.ID]
	if ok {
		j.LastRunAtMs = nowMs
		if j.DeleteAfterRun {
			delete(s.jobs, job.ID)
		} else {
			j.NextRunAtMs = nextRunAfter(j.Schedule, s.nowFn())
		}
	}
	s.persistLocked()
	s.mu.Unlock()

	if s.emit != nil {
		s.emit("run", job.ID)
	}
}

// Add validates and registers a new job, computing its first NextRunAtMs.
func (s *Scheduler) Add(job Job) (Job, error) {
	if job.Name == "" {
		return Job{}, fmt.Errorf("cron: name is required")
	}
	if job.Schedule.Kind == "cron" {
		if !gronx.IsValid(job.Schedule.Expr) {
			return Job{}, fmt.Errorf("cron: invalid expression %q", job.Schedule.Expr)
		}
	}

	job.ID = uuid.NewString()
	job.Enabled = true
	job.CreatedAtMs = s.nowFn().UnixMilli()
	job.NextRunAtMs = nextRunAfter(job.Schedule, s.nowFn())

	s.mu.Lock()
	s.jobs[job.ID] = &job
	s.persistLocked()
	s.mu.Unlock()

	if s.emit != nil {
		s.emit("add", job.ID)
	}
	return job, nil
}

// Patch updates an existing job's enabled/name fields.
func (s *Scheduler) Patch(id string, patch JobPatch) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("cron: job %q not found", id)
	}
	if patch.Enabled != nil {
		j.Enabled = *patch.Enabled
		if j.Enabled && j.NextRunAtMs == 0 {
			j.NextRunAtMs = nextRunAfter(j.Schedule, s.nowFn())
		}
	}
	if patch.Name != nil {
		j.Name = *patch.Name
	}
	s.persistLocked()

	if s.emit != nil {
		s.emit("update", id)
	}
	return *j, nil
}

// Remove deletes a job by id. Removing an unknown id is not an error.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.persistLocked()
	s.mu.Unlock()

	if s.emit != nil {
		s.emit("remove", id)
	}
	return nil
}

// Run triggers a job immediately, regardless of its schedule or enabled
// state unless force is false and the job is disabled.
func (s *Scheduler) Run(ctx context.Context, id string, force bool) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("cron: job %q not found", id)
	}
	if !j.Enabled && !force {
		s.mu.Unlock()
		return fmt.Errorf("cron: job %q is disabled", id)
	}
	job := *j
	s.mu.Unlock()

	s.runJob(ctx, job, true)
	return nil
}

// List returns all jobs, optionally excluding disabled ones, sorted by
// name for stable output.
func (s *Scheduler) List(includeDisabled bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !includeDisabled && !j.Enabled {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Runs returns the run history, optionally filtered to one job, newest
// first, capped at limit entries.
func (s *Scheduler) Runs(jobID string, limit int) []Run {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Run, 0, limit)
	for _, r := range s.runs {
		if jobID != "" && r.JobID != jobID {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Status summarizes scheduler state for cron.status.
type Status struct {
	Enabled      bool   `json:"enabled"`
	Jobs         int    `json:"jobs"`
	NextWakeAtMs *int64 `json:"nextWakeAtMs"`
}

// Status reports the lowest NextRunAtMs across enabled jobs.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *int64
	for _, j := range s.jobs {
		if !j.Enabled || j.NextRunAtMs == 0 {
			continue
		}
		v := j.NextRunAtMs
		if next == nil || v < *next {
			next = &v
		}
	}
	return Status{Enabled: true, Jobs: len(s.jobs), NextWakeAtMs: next}
}

func (s *Scheduler) persistLocked() {
	if s.store == nil {
		return
	}
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	if err := s.store.SaveJobs(jobs); err != nil {
		slog.Warn("cron.save_jobs_failed", "error", err)
	}
	if err := s.store.SaveRuns(s.runs); err != nil {
		slog.Warn("cron.save_runs_failed", "error", err)
	}
}

// nextRunAfter computes the next fire time for a schedule strictly after
// now. A "once" schedule that has already passed returns 0 (never again).
func nextRunAfter(sched Schedule, now time.Time) int64 {
	switch sched.Kind {
	case "cron":
		loc := time.UTC
		if sched.TZ != "" {
			if l, err := time.LoadLocation(sched.TZ); err == nil {
				loc = l
			}
		}
		next, err := gronx.NextTickAfter(sched.Expr, now.In(loc), false)
		if err != nil {
			return 0
		}
		return next.UnixMilli()
	case "interval":
		every := sched.EveryMs
		if every == 0 && sched.EverySeconds > 0 {
			every = sched.EverySeconds * 1000
		}
		if every <= 0 {
			return 0
		}
		return now.UnixMilli() + every
	case "once":
		if sched.AtMs > now.UnixMilli() {
			return sched.AtMs
		}
		return 0
	default:
		return 0
	}
}
