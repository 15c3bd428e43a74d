package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, config, and database health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("goclaw-gateway doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Printf("    %-12s %v\n", "Token set:", cfg.Gateway.Token != "")
	fmt.Printf("    %-12s %v\n", "Insecure auth:", cfg.Gateway.AllowInsecureAuth)
	fmt.Printf("    %-12s %v\n", "Canary scope:", len(cfg.Gateway.CanaryMethods) > 0)
	fmt.Printf("    %-12s %v\n", "Shadow mode:", cfg.Gateway.ShadowMode)

	fmt.Println()
	fmt.Println("  Database:")
	isManaged := cfg.Database.Mode == "managed"
	fmt.Printf("    %-12s %s\n", "Mode:", cfg.Database.Mode)
	if !isManaged {
		fmt.Printf("    %-12s standalone slot/session files under workspace\n", "Storage:")
		return
	}
	if cfg.Database.PostgresDSN == "" {
		fmt.Printf("    %-12s MISSING (set GOCLAW_POSTGRES_DSN)\n", "DSN:")
		return
	}
	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s reachable\n", "Status:")
	reportMigrationVersion(db)
	reportTableHealth(db, "rpc_kv")
	reportTableHealth(db, "agent_traces")
}

// reportMigrationVersion reads golang-migrate's own bookkeeping table
// directly rather than depending on the migrate package's Migrate type,
// since doctor only needs to read, not drive, migration state.
func reportMigrationVersion(db *sql.DB) {
	var version int
	var dirty bool
	err := db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		fmt.Printf("    %-12s not yet migrated (run: goclaw-gateway migrate up)\n", "Schema:")
		return
	}
	if dirty {
		fmt.Printf("    %-12s v%d (DIRTY — run: goclaw-gateway migrate force %d)\n", "Schema:", version, version-1)
		return
	}
	fmt.Printf("    %-12s v%d\n", "Schema:", version)
}

func reportTableHealth(db *sql.DB, table string) {
	var count int
	err := db.QueryRow(fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&count)
	if err != nil {
		fmt.Printf("    %-12s MISSING (%s)\n", table+":", err)
		return
	}
	fmt.Printf("    %-12s %d rows\n", table+":", count)
}
