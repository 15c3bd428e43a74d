// Package alerts tracks operational alerts (provider outages, node
// disconnects, degraded dependencies) through a dedup-and-lifecycle
// pipeline: raw alerts from many sources collapse onto a stable key, and
// a persisted state machine tracks when each one first appeared, when it
// last recurred, and when it stopped recurring (resolved).
package alerts

import (
	"context"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

const slotKey = "rpc.alerts_lifecycle"
const maxResolvedRecent = 200
const resolvedRecentReturned = 50

// Priority weights, higher wins ties when the same dedupe key fires at
// multiple severities within one poll.
const (
	priorityCritical = 200
	priorityWarning  = 100
	priorityDefault  = 0
)

// Alert is one raw operational alert reported by a source (a channel
// adapter, node health check, provider probe, ...).
type Alert struct {
	Source   string `json:"source"`
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
	Provider string `json:"provider,omitempty"`
	Level    string `json:"level,omitempty"` // "critical", "warning"; defaults to "warning"
	Message  string `json:"message,omitempty"`
}

func priorityOf(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "critical":
		return priorityCritical
	case "warning":
		return priorityWarning
	default:
		return priorityDefault
	}
}

// DedupeKey identifies an alert regardless of which poll cycle reported
// it: source:category:code:provider.
func DedupeKey(a Alert) string {
	source := orDefault(a.Source, "unknown")
	category := orDefault(a.Category, "general")
	code := orDefault(a.Code, "UNKNOWN")
	return source + ":" + category + ":" + code + ":" + a.Provider
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// normalized is an Alert after dedupe-key assignment and level defaulting.
type normalized struct {
	Alert
	DedupeKey string
	Priority  int
}

// Dedupe collapses a batch of raw alerts onto their dedupe keys, keeping
// the highest-priority (most severe) alert per key.
func Dedupe(raw []Alert) []normalized {
	best := make(map[string]normalized, len(raw))
	for _, a := range raw {
		if a.Level == "" {
			a.Level = "warning"
		}
		key := DedupeKey(a)
		n := normalized{Alert: a, DedupeKey: key, Priority: priorityOf(a.Level)}
		if existing, ok := best[key]; !ok || n.Priority > existing.Priority {
			best[key] = n
		}
	}
	out := make([]normalized, 0, len(best))
	for _, n := range best {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

// LifecycleRow is the persisted/reported state of one dedupe key.
type LifecycleRow struct {
	DedupeKey        string `json:"dedupeKey"`
	Code             string `json:"code,omitempty"`
	Source           string `json:"source,omitempty"`
	Category         string `json:"category,omitempty"`
	Level            string `json:"level,omitempty"`
	FirstSeenMs      int64  `json:"firstSeenMs"`
	LastSeenMs       int64  `json:"lastSeenMs"`
	LastTransitionMs int64  `json:"lastTransitionMs"`
	ResolvedAtMs     int64  `json:"resolvedAtMs,omitempty"`
	Active           bool   `json:"active"`
}

// View is the exported alerts.lifecycle snapshot.
type View struct {
	ActiveCount          int            `json:"activeCount"`
	ResolvedRecentCount  int            `json:"resolvedRecentCount"`
	Active               []LifecycleRow `json:"active"`
	ResolvedRecent       []LifecycleRow `json:"resolvedRecent"`
	LastUpdatedMs        int64          `json:"lastUpdatedMs"`
}

type persistedState struct {
	Active         map[string]LifecycleRow `json:"active"`
	ResolvedRecent []LifecycleRow          `json:"resolvedRecent"`
	LastUpdatedMs  int64                   `json:"lastUpdatedMs"`
}

func emptyState() persistedState {
	return persistedState{Active: make(map[string]LifecycleRow)}
}

// Apply folds a freshly-deduped alert batch into the persisted lifecycle
// state: alerts present now that weren't active before start their
// firstSeen/lastTransition clock; alerts that stop appearing move from
// active to resolvedRecent (capped at 200, FIFO eviction of the oldest).
// Returns the view to report back to the caller.
func Apply(ctx context.Context, slots store.SlotStore, raw []Alert, nowMs int64) View {
	deduped := Dedupe(raw)

	state := store.LoadSlot(ctx, slots, slotKey, emptyState())
	if state.Active == nil {
		state.Active = make(map[string]LifecycleRow)
	}

	current := make(map[string]struct{}, len(deduped))
	for _, n := range deduped {
		current[n.DedupeKey] = struct{}{}

		existing, existed := state.Active[n.DedupeKey]
		firstSeen := nowMs
		lastTransition := nowMs
		if existed {
			firstSeen = existing.FirstSeenMs
			lastTransition = existing.LastTransitionMs
			if !existing.Active {
				lastTransition = nowMs
			}
		}
		state.Active[n.DedupeKey] = LifecycleRow{
			DedupeKey:        n.DedupeKey,
			Code:             n.Code,
			Source:           n.Source,
			Category:         n.Category,
			Level:            n.Level,
			FirstSeenMs:      firstSeen,
			LastSeenMs:       nowMs,
			LastTransitionMs: lastTransition,
			Active:           true,
		}
	}

	for key, row := range state.Active {
		if _, ok := current[key]; ok {
			continue
		}
		row.Active = false
		row.ResolvedAtMs = nowMs
		row.LastTransitionMs = nowMs
		state.ResolvedRecent = append([]LifecycleRow{row}, state.ResolvedRecent...)
		delete(state.Active, key)
	}
	if len(state.ResolvedRecent) > maxResolvedRecent {
		state.ResolvedRecent = state.ResolvedRecent[:maxResolvedRecent]
	}
	state.LastUpdatedMs = nowMs

	store.SaveSlot(ctx, slots, slotKey, state)

	return buildView(state)
}

// Get returns the current lifecycle snapshot without applying a new
// batch, for alerts.lifecycle reads between poll cycles.
func Get(ctx context.Context, slots store.SlotStore) View {
	state := store.LoadSlot(ctx, slots, slotKey, emptyState())
	return buildView(state)
}

func buildView(state persistedState) View {
	active := make([]LifecycleRow, 0, len(state.Active))
	for _, row := range state.Active {
		active = append(active, row)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].DedupeKey < active[j].DedupeKey })

	resolved := state.ResolvedRecent
	if len(resolved) > resolvedRecentReturned {
		resolved = resolved[:resolvedRecentReturned]
	}

	return View{
		ActiveCount:         len(state.Active),
		ResolvedRecentCount: len(state.ResolvedRecent),
		Active:              active,
		ResolvedRecent:      resolved,
		LastUpdatedMs:       state.LastUpdatedMs,
	}
}

// Summary aggregates a raw alert batch by level and source; alerts.lifecycle
// returns it under its "summary" key alongside the lifecycle view.
type Summary struct {
	Total    int              `json:"total"`
	Critical int              `json:"critical"`
	Warning  int              `json:"warning"`
	BySource []SourceSummary  `json:"bySource"`
}

// SourceSummary is per-source alert counts within a Summary.
type SourceSummary struct {
	Source   string `json:"source"`
	Critical int    `json:"critical"`
	Warning  int    `json:"warning"`
	Total    int    `json:"total"`
}

// BuildSummary computes level/source counts over a raw alert batch.
func BuildSummary(raw []Alert) Summary {
	bySource := make(map[string]*SourceSummary)
	var critical, warning int
	for _, a := range raw {
		level := strings.ToLower(a.Level)
		if level == "critical" {
			critical++
		} else if level == "warning" {
			warning++
		}
		source := orDefault(a.Source, "unknown")
		row, ok := bySource[source]
		if !ok {
			row = &SourceSummary{Source: source}
			bySource[source] = row
		}
		row.Total++
		if level == "critical" {
			row.Critical++
		} else if level == "warning" {
			row.Warning++
		}
	}
	out := make([]SourceSummary, 0, len(bySource))
	for _, row := range bySource {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })

	return Summary{Total: len(raw), Critical: critical, Warning: warning, BySource: out}
}
