package nodes

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeDispatcher struct {
	fail    bool
	invokes []string
	onSend  func(nodeID, invokeID, command string)
}

func (d *fakeDispatcher) DispatchInvoke(nodeID, invokeID, command string, params interface{}) error {
	if d.fail {
		return errors.New("dispatch failed")
	}
	d.invokes = append(d.invokes, invokeID)
	if d.onSend != nil {
		d.onSend(nodeID, invokeID, command)
	}
	return nil
}

func TestInvokeRoundTrip(t *testing.T) {
	disp := &fakeDispatcher{}
	r := New(disp)
	r.Connect(Session{NodeID: "node-1", Commands: []string{"shell.run"}})

	disp.onSend = func(nodeID, invokeID, command string) {
		go func() {
			r.HandleInvokeResult(invokeID, nodeID, true, map[string]any{"out": "ok"}, "", nil)
		}()
	}

	res, err := r.Invoke(context.Background(), "node-1", "shell.run", nil, time.Second, "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected ok result, got %+v", res)
	}
}

func TestInvokeTimesOut(t *testing.T) {
	disp := &fakeDispatcher{}
	r := New(disp)
	r.Connect(Session{NodeID: "node-1", Commands: []string{"shell.run"}})

	res, err := r.Invoke(context.Background(), "node-1", "shell.run", nil, 20*time.Millisecond, "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.OK || res.Error == nil || res.Error.Code != "TIMEOUT" {
		t.Fatalf("expected timeout error, got %+v", res)
	}
}

func TestInvokeUnknownNode(t *testing.T) {
	r := New(&fakeDispatcher{})
	if _, err := r.Invoke(context.Background(), "ghost", "x", nil, time.Second, ""); err == nil {
		t.Fatal("expected error invoking disconnected node")
	}
}

func TestDisconnectFailsPendingInvokes(t *testing.T) {
	disp := &fakeDispatcher{}
	r := New(disp)
	r.Connect(Session{NodeID: "node-1", Commands: []string{"shell.run"}})

	errCh := make(chan error, 1)
	resCh := make(chan InvokeResult, 1)
	go func() {
		res, err := r.Invoke(context.Background(), "node-1", "shell.run", nil, 5*time.Second, "")
		errCh <- err
		resCh <- res
	}()

	time.Sleep(10 * time.Millisecond)
	r.Disconnect("node-1")

	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := <-resCh
	if res.OK || res.Error == nil || res.Error.Code != "UNAVAILABLE" {
		t.Fatalf("expected UNAVAILABLE on disconnect, got %+v", res)
	}
}

func TestMergeViewUnionsLiveAndPaired(t *testing.T) {
	paired := []Paired{
		{DeviceID: "node-1", Role: "node", DisplayName: "Old Name", Commands: []string{"a"}},
		{DeviceID: "node-2", Role: "phone"}, // not a node, excluded
	}
	live := []Session{
		{NodeID: "node-1", DisplayName: "Live Name", Commands: []string{"b"}, ConnectedAtMs: 100},
		{NodeID: "node-3", DisplayName: "Unpaired Live"},
	}

	views := MergeView(paired, live)
	if len(views) != 2 {
		t.Fatalf("expected 2 views (node-1, node-3), got %d: %+v", len(views), views)
	}

	byID := map[string]NodeView{}
	for _, v := range views {
		byID[v.NodeID] = v
	}
	n1 := byID["node-1"]
	if !n1.Paired || !n1.Connected {
		t.Fatalf("expected node-1 paired+connected, got %+v", n1)
	}
	if n1.DisplayName != "Live Name" {
		t.Fatalf("expected live display name to win, got %q", n1.DisplayName)
	}
	if len(n1.Commands) != 2 {
		t.Fatalf("expected commands union of live+paired, got %v", n1.Commands)
	}

	n3 := byID["node-3"]
	if n3.Paired || !n3.Connected {
		t.Fatalf("expected node-3 unpaired+connected, got %+v", n3)
	}
}

func TestIsCommandAllowed(t *testing.T) {
	ok, _ := IsCommandAllowed("shell.run", []string{"shell.run"}, nil)
	if !ok {
		t.Fatal("expected advertised-only command to be allowed")
	}
	ok, reason := IsCommandAllowed("shell.run", []string{}, nil)
	if ok {
		t.Fatal("expected non-advertised command to be rejected")
	}
	if reason == "" {
		t.Fatal("expected a reason string")
	}
	ok, _ = IsCommandAllowed("shell.run", []string{"shell.run"}, []string{"other.cmd"})
	if ok {
		t.Fatal("expected allowlist mismatch to be rejected")
	}
}
