package tracing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PGStore persists runs to the gateway's own agent_traces table, used in
// managed (Postgres-backed) mode.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open *sql.DB. The agent_traces table is created by
// the migrate command, not here.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (p *PGStore) SaveRun(ctx context.Context, run Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("tracing: marshal run: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO agent_traces (run_id, session_key, started_ms, ended_ms, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			ended_ms = EXCLUDED.ended_ms,
			status = EXCLUDED.status,
			payload = EXCLUDED.payload
	`, run.RunID, run.SessionKey, run.StartedMs, run.EndedMs, run.Status, payload)
	if err != nil {
		return fmt.Errorf("tracing: save run: %w", err)
	}
	return nil
}

func (p *PGStore) GetRun(ctx context.Context, runID string) (Run, bool, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM agent_traces WHERE run_id = $1`, runID).Scan(&payload)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("tracing: get run: %w", err)
	}
	var run Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return Run{}, false, fmt.Errorf("tracing: decode run: %w", err)
	}
	return run, true, nil
}

func (p *PGStore) ListRuns(ctx context.Context, sessionKey string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if sessionKey != "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT payload FROM agent_traces
			WHERE session_key = $1
			ORDER BY started_ms DESC
			LIMIT $2
		`, sessionKey, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT payload FROM agent_traces
			ORDER BY started_ms DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("tracing: scan run: %w", err)
		}
		var run Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("tracing: decode run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
