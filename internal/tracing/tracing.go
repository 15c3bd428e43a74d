// Package tracing records per-run event logs for agent runs and RPC
// dispatches. A Recorder buffers events in memory for the lifetime of a
// run and persists the whole run as one append-only record on
// completion; an optional OTLP exporter mirrors the same events out as
// spans for external observability.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one step within a run's trace: a tool call, an RPC dispatch,
// a lane transition, a node invoke.
type Event struct {
	TsMs    int64                  `json:"ts"`
	Kind    string                 `json:"kind"` // "dispatch", "tool_call", "node_invoke", "lane", ...
	Name    string                 `json:"name"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Run is a completed, persisted trace: one run's full event timeline.
type Run struct {
	RunID      string  `json:"runId"`
	SessionKey string  `json:"sessionKey,omitempty"`
	StartedMs  int64   `json:"startedMs"`
	EndedMs    int64   `json:"endedMs"`
	Status     string  `json:"status"` // "ok", "error", "aborted"
	Error      string  `json:"error,omitempty"`
	Events     []Event `json:"events"`
}

// Store persists completed runs. Implementations: a Postgres-backed
// store (managed mode) and a bounded in-memory ring (standalone mode).
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, bool, error)
	ListRuns(ctx context.Context, sessionKey string, limit int) ([]Run, error)
}

// Exporter mirrors trace events to an external sink (OTLP). Recorder
// calls it best-effort: export failures are logged and otherwise ignored.
type Exporter interface {
	ExportRun(ctx context.Context, run Run)
}

// inFlight is a run still being recorded.
type inFlight struct {
	run Run
	mu  sync.Mutex
}

// Recorder tracks in-flight runs and persists them to Store on
// completion. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	runs     map[string]*inFlight
	store    Store
	exporter Exporter
	now      func() time.Time
}

// New builds a Recorder. store must not be nil; exporter may be nil to
// disable OTLP mirroring.
func New(store Store, exporter Exporter) *Recorder {
	return &Recorder{
		runs:     make(map[string]*inFlight),
		store:    store,
		exporter: exporter,
		now:      time.Now,
	}
}

// StartRun begins tracking a new run, returning its id for subsequent
// Record/EndRun calls. If runID is empty a fresh one is generated.
func (r *Recorder) StartRun(runID, sessionKey string) string {
	if runID == "" {
		runID = "run_" + uuid.NewString()[:12]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = &inFlight{run: Run{
		RunID:      runID,
		SessionKey: sessionKey,
		StartedMs:  r.now().UnixMilli(),
		Status:     "running",
	}}
	return runID
}

// Record appends an event to runID's in-flight trace. A no-op if runID
// is unknown (e.g. tracing was added mid-run, or the run already ended).
func (r *Recorder) Record(runID string, ev Event) {
	r.mu.Lock()
	f, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if ev.TsMs == 0 {
		ev.TsMs = r.now().UnixMilli()
	}
	f.mu.Lock()
	f.run.Events = append(f.run.Events, ev)
	f.mu.Unlock()
}

// EndRun closes out runID with a final status, persists it, and mirrors
// it to the exporter if configured. Safe to call at most once per run;
// a second call is a no-op since the run is removed from the in-flight
// table after the first.
func (r *Recorder) EndRun(ctx context.Context, runID, status, errMsg string) {
	r.mu.Lock()
	f, ok := r.runs[runID]
	delete(r.runs, runID)
	r.mu.Unlock()
	if !ok {
		return
	}

	f.mu.Lock()
	f.run.EndedMs = r.now().UnixMilli()
	f.run.Status = status
	f.run.Error = errMsg
	run := f.run
	f.mu.Unlock()

	if err := r.store.SaveRun(ctx, run); err != nil {
		slog.Warn("tracing: failed to persist run", "runId", runID, "error", err)
	}
	if r.exporter != nil {
		r.exporter.ExportRun(ctx, run)
	}
}

// GetRun returns a completed run by id.
func (r *Recorder) GetRun(ctx context.Context, runID string) (Run, bool, error) {
	return r.store.GetRun(ctx, runID)
}

// ListRuns returns the most recent completed runs for a session, newest
// first, capped at limit.
func (r *Recorder) ListRuns(ctx context.Context, sessionKey string, limit int) ([]Run, error) {
	return r.store.ListRuns(ctx, sessionKey, limit)
}
