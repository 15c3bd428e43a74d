package gateway

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/goclaw/internal/config"
)

// agentFilePath resolves a per-agent file (SYSTEM.md, NOTES.md, ...) under
// <workspace>/agents/<agentId>/<file>, matching the teacher's convention
// of namespacing agent state under the shared workspace root.
func agentFilePath(cfg *config.Config, agentID, file string) string {
	return filepath.Join(cfg.WorkspacePath(), "agents", filepath.Base(agentID), filepath.Base(file))
}

func readAgentFile(path string) (content string, missing bool, err error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(b), false, nil
}

func writeAgentFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func logWarn(msg string, args ...interface{}) { slog.Warn(msg, args...) }
