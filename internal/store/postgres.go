// Package store provides storage backends for ClinicFlow.
//
// This file implements a PostgreSQL-backed store with the same semantics as
// the SQLite backend.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/carebridge/clinicflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists records in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")

	return &PostgresStore{db: db}, nil
}

// SaveSession upserts the full session record as a JSON document.
func (s *PostgresStore) SaveSession(sess models.ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, data, last_activity) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, last_activity = EXCLUDED.last_activity`,
		sess.ID, string(data), sess.LastActivity,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveSession: insert failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the session for id, or nil when unknown.
func (s *PostgresStore) GetSession(id string) (*models.ConversationSession, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetSession: query failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var sess models.ConversationSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes the session record.
func (s *PostgresStore) DeleteSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = $1`, id); err != nil {
		slog.Error("PostgresStore.DeleteSession: delete failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SaveScript upserts a script in the prompt catalog.
func (s *PostgresStore) SaveScript(sc models.Script) error {
	_, err := s.db.Exec(
		`INSERT INTO scripts (key, body, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`,
		string(sc.Key), sc.Body,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveScript: insert failed", "error", err, "key", sc.Key)
		return fmt.Errorf("failed to save script: %w", err)
	}
	return nil
}

// GetScript returns the script for key, or nil on a catalog miss.
func (s *PostgresStore) GetScript(key models.CategoryKey) (*models.Script, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM scripts WHERE key = $1`, string(key)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetScript: query failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get script: %w", err)
	}
	return &models.Script{Key: key, Body: body}, nil
}

// SaveClassifierConfig replaces the classifier domain configuration.
func (s *PostgresStore) SaveClassifierConfig(cfg models.ClassifierConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal classifier config: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO classifier_config (id, data) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		string(data),
	)
	if err != nil {
		slog.Error("PostgresStore.SaveClassifierConfig: insert failed", "error", err)
		return fmt.Errorf("failed to save classifier config: %w", err)
	}
	return nil
}

// GetClassifierConfig returns the stored configuration, or nil when absent.
func (s *PostgresStore) GetClassifierConfig() (*models.ClassifierConfig, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM classifier_config WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetClassifierConfig: query failed", "error", err)
		return nil, fmt.Errorf("failed to get classifier config: %w", err)
	}
	var cfg models.ClassifierConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal classifier config: %w", err)
	}
	return &cfg, nil
}

// SaveInfoChunk adds one informational document chunk.
func (s *PostgresStore) SaveInfoChunk(content string) error {
	if _, err := s.db.Exec(`INSERT INTO info_chunks (content) VALUES ($1)`, content); err != nil {
		slog.Error("PostgresStore.SaveInfoChunk: insert failed", "error", err)
		return fmt.Errorf("failed to save info chunk: %w", err)
	}
	return nil
}

// SearchInfoChunks returns up to limit chunks matching the query terms.
func (s *PostgresStore) SearchInfoChunks(query string, limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT content FROM info_chunks ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore.SearchInfoChunks: query failed", "error", err)
		return nil, fmt.Errorf("failed to search info chunks: %w", err)
	}
	defer rows.Close()
	var chunks []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan info chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate info chunks: %w", err)
	}
	return rankChunks(chunks, query, limit), nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
