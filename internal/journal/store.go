package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store records which session object answered each probe request, so that
// object id changes across invocations survive a process restart.
type Store struct {
	db *sql.DB
}

// Observation is one probe request as seen by the session
type Observation struct {
	ID                 int64  `json:"id"`
	ObjectID           string `json:"object_id"`
	InstanceID         string `json:"instance_id"`
	Endpoint           string `json:"endpoint"`
	Initialized        bool   `json:"initialized"`
	MessageCount       int    `json:"message_count"`
	ObservedUnixMillis int64  `json:"observed_unix_millis"`
}

// Open creates or opens the journal
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the necessary tables
func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			object_id TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			initialized INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			observed_unix_millis INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_object
			ON observations(object_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// Record stores an observation and returns its id
func (s *Store) Record(ctx context.Context, obs Observation) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (object_id, instance_id, endpoint, initialized, message_count, observed_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		obs.ObjectID, obs.InstanceID, obs.Endpoint, obs.Initialized, obs.MessageCount, obs.ObservedUnixMillis,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert observation: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the newest observations, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, object_id, instance_id, endpoint, initialized, message_count, observed_unix_millis
		 FROM observations
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	observations := make([]Observation, 0, limit)
	for rows.Next() {
		var o Observation
		err := rows.Scan(
			&o.ID, &o.ObjectID, &o.InstanceID, &o.Endpoint,
			&o.Initialized, &o.MessageCount, &o.ObservedUnixMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, o)
	}

	return observations, rows.Err()
}

// DistinctObjects counts the session objects that ever answered a request.
// More than one means process state was lost between requests.
func (s *Store) DistinctObjects(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT object_id) FROM observations").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count objects: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
