package alerts

import (
	"context"
	"strconv"
	"testing"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

func newTestSlots(t *testing.T) store.SlotStore {
	t.Helper()
	s, err := store.NewFileSlotStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSlotStore: %v", err)
	}
	return s
}

func TestDedupeKeepsHighestPriority(t *testing.T) {
	raw := []Alert{
		{Source: "telegram", Category: "auth", Code: "TOKEN_EXPIRED", Level: "warning"},
		{Source: "telegram", Category: "auth", Code: "TOKEN_EXPIRED", Level: "critical"},
	}
	deduped := Dedupe(raw)
	if len(deduped) != 1 {
		t.Fatalf("expected 1 deduped alert, got %d", len(deduped))
	}
	if deduped[0].Level != "critical" {
		t.Fatalf("expected critical to win, got %s", deduped[0].Level)
	}
}

func TestApplyTracksFirstSeenAndResolution(t *testing.T) {
	ctx := context.Background()
	slots := newTestSlots(t)

	v1 := Apply(ctx, slots, []Alert{{Source: "discord", Category: "conn", Code: "DOWN", Level: "critical"}}, 1000)
	if v1.ActiveCount != 1 {
		t.Fatalf("expected 1 active alert, got %d", v1.ActiveCount)
	}
	if v1.Active[0].FirstSeenMs != 1000 {
		t.Fatalf("expected firstSeen=1000, got %d", v1.Active[0].FirstSeenMs)
	}

	v2 := Apply(ctx, slots, []Alert{{Source: "discord", Category: "conn", Code: "DOWN", Level: "critical"}}, 2000)
	if v2.Active[0].FirstSeenMs != 1000 {
		t.Fatalf("expected firstSeen to persist across recurrence, got %d", v2.Active[0].FirstSeenMs)
	}
	if v2.Active[0].LastSeenMs != 2000 {
		t.Fatalf("expected lastSeen updated, got %d", v2.Active[0].LastSeenMs)
	}

	v3 := Apply(ctx, slots, nil, 3000)
	if v3.ActiveCount != 0 {
		t.Fatalf("expected alert to resolve once it stops recurring, got active=%d", v3.ActiveCount)
	}
	if v3.ResolvedRecentCount != 1 {
		t.Fatalf("expected 1 resolved entry, got %d", v3.ResolvedRecentCount)
	}
	if v3.ResolvedRecent[0].ResolvedAtMs != 3000 {
		t.Fatalf("expected resolvedAt=3000, got %d", v3.ResolvedRecent[0].ResolvedAtMs)
	}
}

func TestApplyRecurrenceAfterResolutionResetsTransition(t *testing.T) {
	ctx := context.Background()
	slots := newTestSlots(t)

	Apply(ctx, slots, []Alert{{Source: "s", Category: "c", Code: "X"}}, 100)
	Apply(ctx, slots, nil, 200) // resolves
	v3 := Apply(ctx, slots, []Alert{{Source: "s", Category: "c", Code: "X"}}, 300)

	if v3.ActiveCount != 1 {
		t.Fatalf("expected re-fired alert to become active again, got %d", v3.ActiveCount)
	}
	if v3.Active[0].LastTransitionMs != 300 {
		t.Fatalf("expected transition timestamp to reset on recurrence, got %d", v3.Active[0].LastTransitionMs)
	}
}

func TestResolvedRecentCappedAt200(t *testing.T) {
	ctx := context.Background()
	slots := newTestSlots(t)

	for i := 0; i < 210; i++ {
		code := "code"
		Apply(ctx, slots, []Alert{{Source: "s", Category: "c", Code: code, Provider: strconv.Itoa(i)}}, int64(i))
	}
	Apply(ctx, slots, nil, 9999)

	v := Get(ctx, slots)
	if v.ResolvedRecentCount > maxResolvedRecent {
		t.Fatalf("expected resolvedRecentCount capped at %d, got %d", maxResolvedRecent, v.ResolvedRecentCount)
	}
}

func TestBuildSummaryCountsBySource(t *testing.T) {
	raw := []Alert{
		{Source: "telegram", Level: "critical"},
		{Source: "telegram", Level: "warning"},
		{Source: "discord", Level: "critical"},
	}
	s := BuildSummary(raw)
	if s.Total != 3 || s.Critical != 2 || s.Warning != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if len(s.BySource) != 2 {
		t.Fatalf("expected 2 sources, got %+v", s.BySource)
	}
}
