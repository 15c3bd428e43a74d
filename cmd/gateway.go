package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/approvals"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/cron"
	"github.com/nextlevelbuilder/goclaw/internal/gateway"
	"github.com/nextlevelbuilder/goclaw/internal/plugingateway"
	"github.com/nextlevelbuilder/goclaw/internal/sandbox"
	"github.com/nextlevelbuilder/goclaw/internal/sessions"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/store/file"
	"github.com/nextlevelbuilder/goclaw/internal/tracing"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the RPC gateway (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// openSlotStore picks the managed (Postgres rpc_kv) or standalone
// (one-file-per-key) backing for every slot-persisted surface, mirroring
// the teacher's standalone/managed mode switch in cfg.Database.Mode.
func openSlotStore(cfg *config.Config, workspace string) (store.SlotStore, *sql.DB, error) {
	if cfg.Database.Mode == "managed" {
		db, err := store.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPGSlotStore(db), db, nil
	}
	slots, err := store.NewFileSlotStore(filepath.Join(workspace, ".goclaw-state"))
	return slots, nil, err
}

// approvalEventSink satisfies approvals.EventSink with a no-op: the
// exec.approval RPC handlers already broadcast "exec.approval.requested"/
// "resolved" explicitly (see methods_exec_approval.go), so the
// coordinator's own sink callback has nothing left to do here.
type approvalEventSink struct{}

func (approvalEventSink) Requested(approvals.RequestedEvent) {}
func (approvalEventSink) Resolved(approvals.ResolvedEvent)   {}

func runGateway() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	os.MkdirAll(workspace, 0o755)

	slots, db, err := openSlotStore(cfg, workspace)
	if err != nil {
		slog.Error("failed to open slot store", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	msgBus := bus.New()

	sessStore := store.SessionStore(file.NewFileSessionStore(sessions.NewManager(filepath.Join(workspace, "sessions"))))

	var tracer *tracing.Recorder
	if db != nil {
		tracer = tracing.New(tracing.NewPGStore(db), nil)
	} else {
		tracer = tracing.New(tracing.NewMemoryStore(500), nil)
	}

	sandboxCfg := sandbox.DefaultConfig()
	sandboxPol := sandbox.NewPolicy(sandboxCfg, func() int { return 0 })

	approvalsCoord := approvals.New(approvalEventSink{})
	forwarder := approvals.NewForwarder(approvals.ForwarderConfig{}, nil)

	plugins := plugingateway.NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if len(cfg.Tools.McpServers) > 0 {
		if err := plugins.Start(ctx, cfg.Tools.McpServers); err != nil {
			slog.Warn("plugingateway.startup_errors", "error", err)
		}
		defer plugins.Stop()
	}

	cronStore := cron.NewSlotStore(ctx, slots)
	cronEmit := func(action, jobID string) {}
	cronSched := cron.New(cronStore, cronNoopRunner, cronEmit, cfg.Cron.ToRetryConfig())

	srv := gateway.NewServer(cfg, msgBus, gateway.Deps{
		ConfigPath: cfgPath,
		Sessions:   sessStore,
		Slots:      slots,
		Approvals:  approvalsCoord,
		Forwarder:  forwarder,
		Cron:       cronSched,
		Tracer:     tracer,
		Sandbox:    sandboxPol,
		Plugins:    plugins,
	})

	cronSched.Start(ctx)
	defer cronSched.Stop()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(sigCtx); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

// cronNoopRunner is the default job runner for a gateway with no wired
// AgentLoop: jobs still schedule and record run history, but a delivery
// agent must be attached separately to make them do anything.
func cronNoopRunner(ctx context.Context, job cron.Job) error {
	slog.Warn("cron.no_runner_configured", "job", job.ID)
	return nil
}
