package approvals

import (
	"context"
	"testing"
	"time"
)

func TestRequestResolveWait(t *testing.T) {
	c := New(nil)

	rec, err := c.Request("", Request{Command: "ls -la"}, time.Minute, "agent-1")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if rec.Status != "pending" {
		t.Fatalf("expected pending, got %s", rec.Status)
	}

	done := make(chan Decision, 1)
	go func() {
		d, err := c.Wait(context.Background(), rec.ID)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- d
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := c.Resolve(rec.ID, "allow-once", "operator-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	select {
	case d := <-done:
		if d != DecisionAllowOnce {
			t.Fatalf("expected allow-once, got %s", d)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never returned")
	}
}

func TestWaitTimesOutUnresolved(t *testing.T) {
	c := New(nil)
	rec, err := c.Request("", Request{Command: "rm -rf /tmp/x"}, 20*time.Millisecond, "agent-1")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	d, err := c.Wait(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d != "" {
		t.Fatalf("expected empty decision on timeout, got %s", d)
	}

	got, ok := c.Get(rec.ID)
	if !ok || got.Status != "expired" {
		t.Fatalf("expected expired status, got %+v ok=%v", got, ok)
	}
}

func TestResolveUnknownID(t *testing.T) {
	c := New(nil)
	if _, err := c.Resolve("does-not-exist", "deny", "op"); err == nil {
		t.Fatal("expected error resolving unknown id")
	}
}

func TestResolveInvalidDecision(t *testing.T) {
	c := New(nil)
	rec, _ := c.Request("", Request{Command: "echo hi"}, time.Minute, "agent-1")
	if _, err := c.Resolve(rec.ID, "maybe", "op"); err == nil {
		t.Fatal("expected error for invalid decision")
	}
}

func TestPendingExcludesResolvedAndExpired(t *testing.T) {
	c := New(nil)
	rec1, _ := c.Request("", Request{Command: "a"}, time.Minute, "agent-1")
	rec2, _ := c.Request("", Request{Command: "b"}, time.Minute, "agent-1")
	if _, err := c.Resolve(rec1.ID, "deny", "op"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pending := c.Pending()
	if len(pending) != 1 || pending[0].ID != rec2.ID {
		t.Fatalf("expected only rec2 pending, got %+v", pending)
	}
}

func TestCleanupExpiredMarksExpired(t *testing.T) {
	c := New(nil)
	rec, _ := c.Request("", Request{Command: "a"}, time.Millisecond, "agent-1")
	time.Sleep(5 * time.Millisecond)
	c.CleanupExpired()

	got, ok := c.Get(rec.ID)
	if !ok || got.Status != "expired" {
		t.Fatalf("expected expired after cleanup, got %+v", got)
	}
	if len(c.Pending()) != 0 {
		t.Fatal("expired record should not appear pending")
	}
}

type recordingSink struct {
	requested []RequestedEvent
	resolved  []ResolvedEvent
}

func (r *recordingSink) Requested(e RequestedEvent) { r.requested = append(r.requested, e) }
func (r *recordingSink) Resolved(e ResolvedEvent)   { r.resolved = append(r.resolved, e) }

func TestSinkReceivesLifecycleEvents(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink)

	rec, _ := c.Request("", Request{Command: "echo hi"}, time.Minute, "agent-1")
	if len(sink.requested) != 1 {
		t.Fatalf("expected one requested event, got %d", len(sink.requested))
	}

	if _, err := c.Resolve(rec.ID, "allow-always", "op"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(sink.resolved) != 1 || sink.resolved[0].Decision != DecisionAllowAlways {
		t.Fatalf("expected one resolved event with allow-always, got %+v", sink.resolved)
	}
}
