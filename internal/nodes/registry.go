// Package nodes tracks companion-app "nodes" (phones, desktops, browser
// extensions) that pair with the gateway and can be remotely invoked —
// run a shell command, read a clipboard, show a notification. A node's
// full picture merges two sources: live connection state (only present
// while its WebSocket is open) and paired state (persisted across
// restarts, keyed by deviceId).
package nodes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Session is a live, connected node's advertised capabilities.
type Session struct {
	NodeID          string   `json:"nodeId"`
	DisplayName     string   `json:"displayName,omitempty"`
	Platform        string   `json:"platform,omitempty"`
	Version         string   `json:"version,omitempty"`
	CoreVersion     string   `json:"coreVersion,omitempty"`
	UIVersion       string   `json:"uiVersion,omitempty"`
	DeviceFamily    string   `json:"deviceFamily,omitempty"`
	ModelIdentifier string   `json:"modelIdentifier,omitempty"`
	RemoteIP        string   `json:"remoteIp,omitempty"`
	Caps            []string `json:"caps,omitempty"`
	Commands        []string `json:"commands,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
	PathEnv         string   `json:"pathEnv,omitempty"`
	ConnectedAtMs   int64    `json:"connectedAtMs,omitempty"`
	Allowlist       []string `json:"-"` // resolved per-node command allowlist override, if any
}

// Paired is a persisted pairing record, surviving disconnects.
type Paired struct {
	DeviceID        string   `json:"deviceId"`
	Role            string   `json:"role,omitempty"`
	Roles           []string `json:"roles,omitempty"`
	DisplayName     string   `json:"displayName,omitempty"`
	Platform        string   `json:"platform,omitempty"`
	Version         string   `json:"version,omitempty"`
	CoreVersion     string   `json:"coreVersion,omitempty"`
	UIVersion       string   `json:"uiVersion,omitempty"`
	DeviceFamily    string   `json:"deviceFamily,omitempty"`
	ModelIdentifier string   `json:"modelIdentifier,omitempty"`
	RemoteIP        string   `json:"remoteIp,omitempty"`
	Caps            []string `json:"caps,omitempty"`
	Commands        []string `json:"commands,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
	PathEnv         string   `json:"pathEnv,omitempty"`
}

func (p Paired) isNode() bool {
	if p.Role == "node" {
		return true
	}
	for _, r := range p.Roles {
		if r == "node" {
			return true
		}
	}
	return false
}

// NodeView is the merged live+paired picture returned by node.list/describe.
type NodeView struct {
	NodeID          string   `json:"nodeId"`
	DisplayName     string   `json:"displayName,omitempty"`
	Platform        string   `json:"platform,omitempty"`
	Version         string   `json:"version,omitempty"`
	CoreVersion     string   `json:"coreVersion,omitempty"`
	UIVersion       string   `json:"uiVersion,omitempty"`
	DeviceFamily    string   `json:"deviceFamily,omitempty"`
	ModelIdentifier string   `json:"modelIdentifier,omitempty"`
	RemoteIP        string   `json:"remoteIp,omitempty"`
	Caps            []string `json:"caps,omitempty"`
	Commands        []string `json:"commands,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
	PathEnv         string   `json:"pathEnv,omitempty"`
	ConnectedAtMs   int64    `json:"connectedAtMs,omitempty"`
	Paired          bool     `json:"paired"`
	Connected       bool     `json:"connected"`
}

// InvokeError is the structured error a failed invoke reports.
type InvokeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InvokeResult is what node.invoke returns once the node answers (or the
// invoke times out / the node disconnects first).
type InvokeResult struct {
	OK          bool            `json:"ok"`
	Payload     interface{}     `json:"payload,omitempty"`
	PayloadJSON string          `json:"payloadJson,omitempty"`
	Error       *InvokeError    `json:"error,omitempty"`
}

// Dispatcher sends an invoke command frame out to a connected node. The
// registry owns matching the eventual node.invoke.result back to the
// waiting caller; Dispatcher only has to get the frame on the wire.
type Dispatcher interface {
	DispatchInvoke(nodeID, invokeID, command string, params interface{}) error
}

type pendingInvoke struct {
	nodeID string
	result chan InvokeResult
}

// Registry tracks connected node sessions and in-flight invokes. Paired
// records live in the slot store (see PairedStore) and are merged in at
// read time, not cached here.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*pendingInvoke // invokeID -> waiter
	byNode   map[string]map[string]struct{} // nodeID -> set of invokeIDs, for reap-on-disconnect
	dispatch Dispatcher
	now      func() time.Time
}

// New builds an empty Registry. dispatch may be nil until the gateway's
// connection layer is wired up, in which case Invoke always fails fast.
func New(dispatch Dispatcher) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		pending:  make(map[string]*pendingInvoke),
		byNode:   make(map[string]map[string]struct{}),
		dispatch: dispatch,
		now:      time.Now,
	}
}

// Connect registers (or replaces) a node's live session.
func (r *Registry) Connect(sess Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess.ConnectedAtMs == 0 {
		sess.ConnectedAtMs = r.now().UnixMilli()
	}
	cp := sess
	r.sessions[sess.NodeID] = &cp
}

// Disconnect removes a node's live session and fails any invokes still
// waiting on it.
func (r *Registry) Disconnect(nodeID string) {
	r.mu.Lock()
	delete(r.sessions, nodeID)
	ids := r.byNode[nodeID]
	delete(r.byNode, nodeID)
	var waiters []chan InvokeResult
	for id := range ids {
		if p, ok := r.pending[id]; ok {
			waiters = append(waiters, p.result)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- InvokeResult{OK: false, Error: &InvokeError{Code: "UNAVAILABLE", Message: "node disconnected"}}
	}
}

// Get returns the live session for nodeID, if connected.
func (r *Registry) Get(nodeID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[nodeID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ListConnected returns all live sessions.
func (r *Registry) ListConnected() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// MergeView builds the union of paired and live node ids into the
// node.list/describe response shape.
func MergeView(paired []Paired, live []Session) []NodeView {
	pairedByID := make(map[string]Paired, len(paired))
	for _, p := range paired {
		if p.DeviceID == "" || !p.isNode() {
			continue
		}
		pairedByID[p.DeviceID] = p
	}
	liveByID := make(map[string]Session, len(live))
	for _, s := range live {
		liveByID[s.NodeID] = s
	}

	ids := make(map[string]struct{}, len(pairedByID)+len(liveByID))
	for id := range pairedByID {
		ids[id] = struct{}{}
	}
	for id := range liveByID {
		ids[id] = struct{}{}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	out := make([]NodeView, 0, len(sorted))
	for _, id := range sorted {
		p := pairedByID[id]
		l, connected := liveByID[id]
		out = append(out, NodeView{
			NodeID:          id,
			DisplayName:     firstNonEmpty(l.DisplayName, p.DisplayName),
			Platform:        firstNonEmpty(l.Platform, p.Platform),
			Version:         firstNonEmpty(l.Version, p.Version),
			CoreVersion:     firstNonEmpty(l.CoreVersion, p.CoreVersion),
			UIVersion:       firstNonEmpty(l.UIVersion, p.UIVersion),
			DeviceFamily:    firstNonEmpty(l.DeviceFamily, p.DeviceFamily),
			ModelIdentifier: firstNonEmpty(l.ModelIdentifier, p.ModelIdentifier),
			RemoteIP:        firstNonEmpty(l.RemoteIP, p.RemoteIP),
			Caps:            unionSorted(l.Caps, p.Caps),
			Commands:        unionSorted(l.Commands, p.Commands),
			Permissions:     firstNonEmptySlice(l.Permissions, p.Permissions),
			PathEnv:         firstNonEmpty(l.PathEnv, p.PathEnv),
			ConnectedAtMs:   l.ConnectedAtMs,
			Paired:          p.DeviceID != "",
			Connected:       connected,
		})
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonEmptySlice(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ResolveCommandAllowlist returns the effective allowlist for a node:
// the node's own override if set, else globalAllowlist if non-empty, else
// nil (meaning "no restriction beyond the node's advertised commands").
func ResolveCommandAllowlist(globalAllowlist []string, sess Session) []string {
	if len(sess.Allowlist) > 0 {
		return sess.Allowlist
	}
	if len(globalAllowlist) > 0 {
		return globalAllowlist
	}
	return nil
}

// IsCommandAllowed checks command against the node's advertised commands
// and an optional allowlist. Both must pass.
func IsCommandAllowed(command string, advertised []string, allowlist []string) (bool, string) {
	if !contains(advertised, command) {
		return false, "not advertised by node"
	}
	if len(allowlist) > 0 && !contains(allowlist, command) {
		return false, "not in allowlist"
	}
	return true, ""
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Invoke sends command to nodeID and blocks until HandleInvokeResult
// answers, ctx is cancelled, or timeout elapses. idempotencyKey lets a
// caller retry a send without risking double-execution on the node's
// side; the node itself is responsible for deduping on that key.
func (r *Registry) Invoke(ctx context.Context, nodeID, command string, params interface{}, timeout time.Duration, idempotencyKey string) (InvokeResult, error) {
	r.mu.Lock()
	if _, ok := r.sessions[nodeID]; !ok {
		r.mu.Unlock()
		return InvokeResult{}, fmt.Errorf("nodes: node %q not connected", nodeID)
	}
	if r.dispatch == nil {
		r.mu.Unlock()
		return InvokeResult{}, fmt.Errorf("nodes: no dispatcher configured")
	}

	invokeID := idempotencyKey
	if invokeID == "" {
		invokeID = fmt.Sprintf("inv_%d", r.now().UnixNano())
	}
	ch := make(chan InvokeResult, 1)
	r.pending[invokeID] = &pendingInvoke{nodeID: nodeID, result: ch}
	if r.byNode[nodeID] == nil {
		r.byNode[nodeID] = make(map[string]struct{})
	}
	r.byNode[nodeID][invokeID] = struct{}{}
	r.mu.Unlock()

	if err := r.dispatch.DispatchInvoke(nodeID, invokeID, command, params); err != nil {
		r.dropPending(nodeID, invokeID)
		return InvokeResult{}, fmt.Errorf("nodes: dispatch failed: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-timer.C:
		r.dropPending(nodeID, invokeID)
		return InvokeResult{OK: false, Error: &InvokeError{Code: "TIMEOUT", Message: "node invoke timed out"}}, nil
	case <-ctx.Done():
		r.dropPending(nodeID, invokeID)
		return InvokeResult{}, ctx.Err()
	}
}

func (r *Registry) dropPending(nodeID, invokeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, invokeID)
	if set := r.byNode[nodeID]; set != nil {
		delete(set, invokeID)
		if len(set) == 0 {
			delete(r.byNode, nodeID)
		}
	}
}

// HandleInvokeResult delivers a node.invoke.result back to whatever
// Invoke call is waiting on invokeID. Returns false if no such invoke is
// pending (already timed out, or unknown id — matches the original's
// "accepted" bool).
func (r *Registry) HandleInvokeResult(invokeID, nodeID string, ok bool, payload interface{}, payloadJSON string, invokeErr *InvokeError) bool {
	r.mu.Lock()
	p, found := r.pending[invokeID]
	if found {
		delete(r.pending, invokeID)
		if set := r.byNode[p.nodeID]; set != nil {
			delete(set, invokeID)
			if len(set) == 0 {
				delete(r.byNode, p.nodeID)
			}
		}
	}
	r.mu.Unlock()

	if !found {
		return false
	}
	p.result <- InvokeResult{OK: ok, Payload: payload, PayloadJSON: payloadJSON, Error: invokeErr}
	return true
}
