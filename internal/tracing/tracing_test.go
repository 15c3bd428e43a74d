package tracing

import (
	"context"
	"testing"
)

func TestRecorderPersistsRunOnEnd(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	rec := New(store, nil)

	runID := rec.StartRun("", "telegram:123")
	rec.Record(runID, Event{Kind: "tool_call", Name: "shell.run"})
	rec.Record(runID, Event{Kind: "dispatch", Name: "chat.send"})
	rec.EndRun(ctx, runID, "ok", "")

	got, ok, err := rec.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !ok {
		t.Fatal("expected run to be persisted")
	}
	if len(got.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got.Events))
	}
	if got.Status != "ok" {
		t.Fatalf("expected status ok, got %s", got.Status)
	}
}

func TestRecordOnUnknownRunIsNoOp(t *testing.T) {
	rec := New(NewMemoryStore(10), nil)
	rec.Record("does-not-exist", Event{Kind: "x", Name: "y"}) // must not panic
}

func TestEndRunTwiceIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	rec := New(store, nil)

	runID := rec.StartRun("", "s")
	rec.EndRun(ctx, runID, "ok", "")
	rec.EndRun(ctx, runID, "error", "boom") // second call should do nothing

	got, _, _ := rec.GetRun(ctx, runID)
	if got.Status != "ok" {
		t.Fatalf("expected first EndRun status to stick, got %s", got.Status)
	}
}

func TestListRunsFiltersBySessionAndOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	rec := New(store, nil)

	r1 := rec.StartRun("", "session-a")
	rec.EndRun(ctx, r1, "ok", "")
	r2 := rec.StartRun("", "session-b")
	rec.EndRun(ctx, r2, "ok", "")
	r3 := rec.StartRun("", "session-a")
	rec.EndRun(ctx, r3, "ok", "")

	runs, err := rec.ListRuns(ctx, "session-a", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs for session-a, got %d", len(runs))
	}
}

func TestMemoryStoreCapsSize(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	for i := 0; i < 5; i++ {
		_ = store.SaveRun(ctx, Run{RunID: "r"})
	}
	runs, _ := store.ListRuns(ctx, "", 0)
	if len(runs) != 3 {
		t.Fatalf("expected store capped at 3, got %d", len(runs))
	}
}
