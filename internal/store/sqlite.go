// Package store provides storage backends for ClinicFlow.
//
// This file implements an SQLite-backed store for sessions, scripts,
// classifier configuration, and info chunks.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/carebridge/clinicflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists records in a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: migrations applied")

	return &SQLiteStore{db: db}, nil
}

// SaveSession upserts the full session record as a JSON document.
func (s *SQLiteStore) SaveSession(sess models.ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, data, last_activity) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, last_activity = excluded.last_activity`,
		sess.ID, string(data), sess.LastActivity,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveSession: insert failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the session for id, or nil when unknown.
func (s *SQLiteStore) GetSession(id string) (*models.ConversationSession, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSession: query failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var sess models.ConversationSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes the session record.
func (s *SQLiteStore) DeleteSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		slog.Error("SQLiteStore.DeleteSession: delete failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SaveScript upserts a script in the prompt catalog.
func (s *SQLiteStore) SaveScript(sc models.Script) error {
	_, err := s.db.Exec(
		`INSERT INTO scripts (key, body, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP`,
		string(sc.Key), sc.Body,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveScript: insert failed", "error", err, "key", sc.Key)
		return fmt.Errorf("failed to save script: %w", err)
	}
	return nil
}

// GetScript returns the script for key, or nil on a catalog miss.
func (s *SQLiteStore) GetScript(key models.CategoryKey) (*models.Script, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM scripts WHERE key = ?`, string(key)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetScript: query failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get script: %w", err)
	}
	return &models.Script{Key: key, Body: body}, nil
}

// SaveClassifierConfig replaces the classifier domain configuration.
func (s *SQLiteStore) SaveClassifierConfig(cfg models.ClassifierConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal classifier config: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO classifier_config (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		string(data),
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveClassifierConfig: insert failed", "error", err)
		return fmt.Errorf("failed to save classifier config: %w", err)
	}
	return nil
}

// GetClassifierConfig returns the stored configuration, or nil when absent.
func (s *SQLiteStore) GetClassifierConfig() (*models.ClassifierConfig, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM classifier_config WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetClassifierConfig: query failed", "error", err)
		return nil, fmt.Errorf("failed to get classifier config: %w", err)
	}
	var cfg models.ClassifierConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal classifier config: %w", err)
	}
	return &cfg, nil
}

// SaveInfoChunk adds one informational document chunk.
func (s *SQLiteStore) SaveInfoChunk(content string) error {
	if _, err := s.db.Exec(`INSERT INTO info_chunks (content) VALUES (?)`, content); err != nil {
		slog.Error("SQLiteStore.SaveInfoChunk: insert failed", "error", err)
		return fmt.Errorf("failed to save info chunk: %w", err)
	}
	return nil
}

// SearchInfoChunks returns up to limit chunks matching the query terms.
// Candidate filtering happens in SQL; ranking happens in memory so all three
// backends score identically.
func (s *SQLiteStore) SearchInfoChunks(query string, limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT content FROM info_chunks ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore.SearchInfoChunks: query failed", "error", err)
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
