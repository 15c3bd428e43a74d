// Package presence tracks which clients (UI, CLI, nodes, the gateway
// itself) have recently been seen. It is best-effort and in-memory only:
// entries expire after a TTL, the table is capped, and a "self" entry
// (the gateway registering itself) never expires.
package presence

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ttl        = 5 * time.Minute
	maxEntries = 200
)

// Entry is one presence record.
type Entry struct {
	InstanceID      string `json:"instanceId"`
	TsMs            int64  `json:"ts"`
	Reason          string `json:"reason"` // "self", "connect", "periodic", ...
	Mode            string `json:"mode"`   // "ui", "webchat", "cli", "backend", "probe", "test", "node"
	LastInputSec    int    `json:"lastInputSeconds,omitempty"`
	IP              string `json:"ip,omitempty"`
	Host            string `json:"host,omitempty"`
	Version         string `json:"version,omitempty"`
	DeviceFamily    string `json:"deviceFamily,omitempty"`
	ModelIdentifier string `json:"modelIdentifier,omitempty"`
	connectionKey   string
}

// Upsert describes a presence update; zero-valued optional fields keep
// the existing entry's value.
type Upsert struct {
	Reason          string
	Mode            string
	LastInputSec    int
	IP              string
	Host            string
	Version         string
	DeviceFamily    string
	ModelIdentifier string
	ConnectionKey   string
}

// Store is an in-memory, case-insensitive-keyed presence table. Safe for
// concurrent use.
type Store struct {
	mu              sync.Mutex
	entries         map[string]*Entry
	connectionToKey map[string]string
	now             func() time.Time
}

// New creates an empty presence store.
func New() *Store {
	return &Store{
		entries:         make(map[string]*Entry),
		connectionToKey: make(map[string]string),
		now:             time.Now,
	}
}

func normalizeKey(instanceID string) string {
	k := strings.ToLower(strings.TrimSpace(instanceID))
	if k == "" {
		return uuid.NewString()
	}
	return k
}

// prune removes expired non-self entries, then trims down to maxEntries
// by oldest timestamp if still over the cap. Caller holds mu.
func (s *Store) prune() {
	now := s.now().UnixMilli()
	for k, e := range s.entries {
		if e.Reason != "self" && now-e.TsMs > ttl.Milliseconds() {
			delete(s.entries, k)
			if e.connectionKey != "" {
				delete(s.connectionToKey, e.connectionKey)
			}
		}
	}
	if len(s.entries) <= maxEntries {
		return
	}
	type kv struct {
		key string
		ts  int64
	}
	ordered := make([]kv, 0, len(s.entries))
	for k, e := range s.entries {
		ordered = append(ordered, kv{k, e.TsMs})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ts < ordered[j].ts })
	excess := len(s.entries) - maxEntries
	for i := 0; i < excess; i++ {
		k := ordered[i].key
		if e := s.entries[k]; e != nil && e.connectionKey != "" {
			delete(s.connectionToKey, e.connectionKey)
		}
		delete(s.entries, k)
	}
}

// Upsert records or refreshes a presence entry, carrying forward any
// optional field left unset in the new update.
func (s *Store) Upsert(instanceID string, u Upsert) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeKey(instanceID)
	now := s.now().UnixMilli()

	if u.ConnectionKey != "" {
		if oldKey, ok := s.connectionToKey[u.ConnectionKey]; ok && oldKey != key {
			delete(s.entries, oldKey)
		}
		s.connectionToKey[u.ConnectionKey] = key
	}

	existing := s.entries[key]
	e := &Entry{
		InstanceID:    firstNonEmpty(strings.TrimSpace(instanceID), key),
		TsMs:          now,
		Reason:        orDefault(u.Reason, "connect"),
		Mode:          orDefault(u.Mode, "webchat"),
		connectionKey: orDefault(u.ConnectionKey, connKeyOf(existing)),
	}
	e.LastInputSec = u.LastInputSec
	if e.LastInputSec == 0 && existing != nil {
		e.LastInputSec = existing.LastInputSec
	}
	e.IP = firstNonEmptyEntry(u.IP, existing, func(x *Entry) string { return x.IP })
	e.Host = firstNonEmptyEntry(u.Host, existing, func(x *Entry) string { return x.Host })
	e.Version = firstNonEmptyEntry(u.Version, existing, func(x *Entry) string { return x.Version })
	e.DeviceFamily = firstNonEmptyEntry(u.DeviceFamily, existing, func(x *Entry) string { return x.DeviceFamily })
	e.ModelIdentifier = firstNonEmptyEntry(u.ModelIdentifier, existing, func(x *Entry) string { return x.ModelIdentifier })

	s.entries[key] = e
	s.prune()
	return *e
}

// RemoveByConnection drops the presence entry associated with a
// connection key (e.g. on WebSocket disconnect). Returns true if an
// entry was removed.
func (s *Store) RemoveByConnection(connectionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.connectionToKey[connectionKey]
	delete(s.connectionToKey, connectionKey)
	if !ok {
		return false
	}
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		return true
	}
	return false
}

// RegisterGateway records the gateway's own presence with reason="self",
// so it never expires.
func (s *Store) RegisterGateway(host string, port int) Entry {
	instanceID := host + ":" + strconv.Itoa(port)
	return s.Upsert("gateway:"+instanceID, Upsert{Reason: "self", Mode: "backend", Host: host})
}

// List returns all current entries, newest first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsMs > out[j].TsMs })
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonEmptyEntry(v string, existing *Entry, get func(*Entry) string) string {
	if v != "" {
		return v
	}
	if existing != nil {
		return get(existing)
	}
	return ""
}

func connKeyOf(e *Entry) string {
	if e == nil {
		return ""
	}
	return e.connectionKey
}
