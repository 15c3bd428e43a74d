package store

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenDB opens the Postgres connection pool used by managed mode,
// matching the teacher's sql.Open("pgx", dsn) convention.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	return db, db.Ping()
}

// PGSlotStore backs SlotStore with a single rpc_kv table, upserting on
// every save so concurrent components never race on row creation.
type PGSlotStore struct {
	db *sql.DB
}

// NewPGSlotStore wraps an open database handle. The rpc_kv table is
// created by the gateway's migrations, not here.
func NewPGSlotStore(db *sql.DB) *PGSlotStore {
	return &PGSlotStore{db: db}
}

func (p *PGSlotStore) LoadSlot(ctx context.Context, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := p.db.QueryRowContext(ctx, `SELECT value FROM rpc_kv WHERE key = $1`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (p *PGSlotStore) SaveSlot(ctx context.Context, key string, value json.RawMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rpc_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	return err
}
