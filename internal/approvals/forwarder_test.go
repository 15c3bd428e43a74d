package approvals

import (
	"errors"
	"testing"
)

type fakeSender struct {
	sent []struct {
		target Target
		text   string
	}
	fail bool
}

func (f *fakeSender) Send(target Target, text string) error {
	if f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, struct {
		target Target
		text   string
	}{target, text})
	return nil
}

func TestForwarderResolveTargetsFromSessionKey(t *testing.T) {
	f := NewForwarder(NewForwarderConfig(ConfigInput{Enabled: true}), &fakeSender{})
	targets := f.ResolveTargets(Request{SessionKey: "telegram:12345:main"})
	if len(targets) != 1 || targets[0].Channel != "telegram" || targets[0].ChatID != "12345" {
		t.Fatalf("unexpected targets: %+v", targets)
	}
}

func TestForwarderResolveTargetsFixedList(t *testing.T) {
	f := NewForwarder(NewForwarderConfig(ConfigInput{
		Enabled: true,
		Mode:    "targets",
		Targets: []string{"slack:C123", "discord:456"},
	}), &fakeSender{})

	targets := f.ResolveTargets(Request{})
	if len(targets) != 2 {
		t.Fatalf("expected 2 fixed targets, got %+v", targets)
	}
}

func TestForwarderAgentFilterGates(t *testing.T) {
	f := NewForwarder(NewForwarderConfig(ConfigInput{
		Enabled:     true,
		AgentFilter: "^ops-.*",
	}), &fakeSender{})

	if f.ShouldForward(Request{AgentID: "chat-bot", SessionKey: "telegram:1"}) {
		t.Fatal("expected agent filter to reject non-matching agent")
	}
	if !f.ShouldForward(Request{AgentID: "ops-agent", SessionKey: "telegram:1"}) {
		t.Fatal("expected agent filter to allow matching agent")
	}
}

func TestForwarderNotifyRoundTrip(t *testing.T) {
	sender := &fakeSender{}
	f := NewForwarder(NewForwarderConfig(ConfigInput{Enabled: true}), sender)

	req := Request{Command: "rm -rf /tmp/x", SessionKey: "telegram:999"}
	f.NotifyRequested("apr_1", req, 0)
	if len(sender.sent) != 1 {
		t.Fatalf("expected one requested notification, got %d", len(sender.sent))
	}

	f.NotifyResolved("apr_1", DecisionDeny, "operator")
	if len(sender.sent) != 2 {
		t.Fatalf("expected a resolved notification to reach the same target, got %d", len(sender.sent))
	}
	if sender.sent[1].target.ChatID != "999" {
		t.Fatalf("resolved notice went to wrong target: %+v", sender.sent[1].target)
	}

	// A second resolve/expire for the same id has no recorded targets left.
	f.NotifyExpired("apr_1", req)
	if len(sender.sent) != 2 {
		t.Fatalf("expected no further notification once pending targets are consumed, got %d", len(sender.sent))
	}
}

func TestForwarderDisabledNeverSends(t *testing.T) {
	sender := &fakeSender{}
	f := NewForwarder(NewForwarderConfig(ConfigInput{Enabled: false}), sender)
	f.NotifyRequested("apr_1", Request{Command: "x", SessionKey: "telegram:1"}, 0)
	if len(sender.sent) != 0 {
		t.Fatal("expected disabled forwarder to send nothing")
	}
}
