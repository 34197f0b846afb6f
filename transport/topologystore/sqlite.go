package topologystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/freitascorp/gotransport/transport/node"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGo
)

// SQLiteStore persists topology snapshots in a local SQLite file (or
// ":memory:" for tests), one row per cluster name.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dbPath and migrates the topology table.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("topologystore: open sqlite %s: %w", dbPath, err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS topology (
		cluster TEXT PRIMARY KEY,
		nodes TEXT NOT NULL,
		last_update DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("topologystore: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save implements Store, replacing any prior snapshot for cluster.
func (s *SQLiteStore) Save(ctx context.Context, cluster string, nodes []*node.Node, lastUpdate time.Time) error {
	payload, err := json.Marshal(toRecords(nodes))
	if err != nil {
		return fmt.Errorf("topologystore: marshal nodes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO topology (cluster, nodes, last_update) VALUES (?, ?, ?)
		ON CONFLICT(cluster) DO UPDATE SET nodes=excluded.nodes, last_update=excluded.last_update
	`, cluster, string(payload), lastUpdate.UTC())
	if err != nil {
		return fmt.Errorf("topologystore: save %q: %w", cluster, err)
	}
	return nil
}

// Load implements Store. A missing cluster row is not an error: it
// returns a nil node list and a zero time so the caller falls back to a
// cold sniff.
func (s *SQLiteStore) Load(ctx context.Context, cluster string) ([]*node.Node, time.Time, error) {
	var payload string
	var lastUpdate time.Time
	err := s.db.QueryRowContext(ctx, `SELECT nodes, last_update FROM topology WHERE cluster = ?`, cluster).Scan(&payload, &lastUpdate)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("topologystore: load %q: %w", cluster, err)
	}
	var recs []record
	if err := json.Unmarshal([]byte(payload), &recs); err != nil {
		return nil, time.Time{}, fmt.Errorf("topologystore: unmarshal %q: %w", cluster, err)
	}
	nodes, err := fromRecords(recs)
	if err != nil {
		return nil, time.Time{}, err
	}
	return nodes, lastUpdate, nil
}
