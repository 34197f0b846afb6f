package topologystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/freitascorp/gotransport/transport/node"
)

// PostgresConfig holds connection parameters for the Postgres-backed
// store.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-full"
}

// DSN builds a libpq connection string from the config.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslMode)
}

// PostgresStore persists topology snapshots for multi-instance
// deployments where several Transport processes share one cluster view.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and migrates the topology
// table.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("topologystore: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("topologystore: ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS transport_topology (
		cluster TEXT PRIMARY KEY,
		nodes JSONB NOT NULL,
		last_update TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("topologystore: migrate: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, cluster string, nodes []*node.Node, lastUpdate time.Time) error {
	payload, err := json.Marshal(toRecords(nodes))
	if err != nil {
		return fmt.Errorf("topologystore: marshal nodes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transport_topology (cluster, nodes, last_update) VALUES ($1, $2, $3)
		ON CONFLICT (cluster) DO UPDATE SET nodes=EXCLUDED.nodes, last_update=EXCLUDED.last_update
	`, cluster, string(payload), lastUpdate.UTC())
	if err != nil {
		return fmt.Errorf("topologystore: save %q: %w", cluster, err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, cluster string) ([]*node.Node, time.Time, error) {
	var payload string
	var lastUpdate time.Time
	err := s.db.QueryRowContext(ctx, `SELECT nodes, last_update FROM transport_topology WHERE cluster = $1`, cluster).Scan(&payload, &lastUpdate)
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
