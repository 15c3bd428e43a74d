// Package sandbox describes the execution-isolation policy an agent run
// should honor. The gateway itself never launches a container — that is
// the agent process's job — but it owns the policy (mode, workspace
// access, scope, resource limits) and exposes it through the sandbox.*
// RPC methods so a connected node or CLI operator can inspect and
// reconfigure it without reaching into config.json directly.
package sandbox

// Mode controls which agent runs are sandboxed.
type Mode string

const (
	ModeOff     Mode = "off"      // no agent run is sandboxed
	ModeNonMain Mode = "non-main" // only subagents/delegations run sandboxed
	ModeAll     Mode = "all"      // every agent run is sandboxed
)

// Access controls how much of the workspace a sandboxed run can see.
type Access string

const (
	AccessNone Access = "none"
	AccessRO   Access = "ro"
	AccessRW   Access = "rw"
)

// Scope controls how sandbox instances are shared across runs.
type Scope string

const (
	ScopeSession Scope = "session" // one sandbox per session
	ScopeAgent   Scope = "agent"   // one sandbox per agent, shared across sessions
	ScopeShared  Scope = "shared"  // one sandbox for the whole gateway
)

// Config is the resolved sandbox policy for agent runs.
type Config struct {
	Mode            Mode
	Image           string
	WorkspaceAccess Access
	Scope           Scope
	MemoryMB        int
	CPUs            float64
	TimeoutSec      int
	NetworkEnabled  bool
	ReadOnlyRoot    bool
	SetupCommand    string
	Env             map[string]string

	User           string
	TmpfsSizeMB    int
	MaxOutputBytes int

	IdleHours        int
	MaxAgeDays       int
	PruneIntervalMin int
}

// DefaultConfig returns the policy applied before any config.json overrides.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeOff,
		Image:            "goclaw-sandbox:bookworm-slim",
		WorkspaceAccess:  AccessRW,
		Scope:            ScopeSession,
		MemoryMB:         512,
		CPUs:             1.0,
		TimeoutSec:       300,
		NetworkEnabled:   false,
		ReadOnlyRoot:     true,
		MaxOutputBytes:   1 << 20,
		IdleHours:        24,
		MaxAgeDays:       7,
		PruneIntervalMin: 5,
	}
}

// Status reports the active policy for sandbox.status, plus the instance
// count returned by the activeCount callback given to NewPolicy.
type Status struct {
	Mode            Mode   `json:"mode"`
	WorkspaceAccess Access `json:"workspaceAccess"`
	Scope           Scope  `json:"scope"`
	ActiveCount     int    `json:"activeCount"`
}

// Policy is the read side used by the dispatch pipeline's sandbox.*
// handlers. ActiveCount is supplied by whatever tracks live sandbox
// instances (owned by the agent process, reported back over node.invoke);
// the gateway has no count of its own when no node is connected.
type Policy struct {
	cfg         Config
	activeCount func() int
}

// NewPolicy wraps a resolved Config for the sandbox.* RPC family.
func NewPolicy(cfg Config, activeCount func() int) *Policy {
	return &Policy{cfg: cfg, activeCount: activeCount}
}

// Config returns the resolved policy.
func (p *Policy) Config() Config { return p.cfg }

// Status reports the current policy snapshot.
func (p *Policy) Status() Status {
	n := 0
	if p.activeCount != nil {
		n = p.activeCount()
	}
	return Status{
		Mode:            p.cfg.Mode,
		WorkspaceAccess: p.cfg.WorkspaceAccess,
		Scope:           p.cfg.Scope,
		ActiveCount:     n,
	}
}
