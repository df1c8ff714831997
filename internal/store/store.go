// Package store provides storage backends for ClinicFlow.
//
// A Store holds one logical record per conversation session plus the prompt
// script catalog, the classifier configuration, and the informational
// document chunks the info agent retrieves from. Backends: in-memory,
// SQLite, and PostgreSQL.
package store

import "github.com/carebridge/clinicflow/internal/models"

// Store defines the persistence operations the orchestration core needs.
// Lookups return (nil, nil) on absence; absence is a domain condition here,
// not an error.
type Store interface {
	// SaveSession upserts the full session record.
	SaveSession(s models.ConversationSession) error
	// GetSession returns the session for id, or nil when unknown.
	GetSession(id string) (*models.ConversationSession, error)
	// DeleteSession removes the session record. Deleting an absent id is a no-op.
	DeleteSession(id string) error

	// SaveScript upserts a script in the prompt catalog.
	SaveScript(sc models.Script) error
	// GetScript returns the script for key, or nil on a catalog miss.
	GetScript(key models.CategoryKey) (*models.Script, error)

	// SaveClassifierConfig replaces the classifier domain configuration.
	SaveClassifierConfig(cfg models.ClassifierConfig) error
	// GetClassifierConfig returns the stored configuration, or nil when the
	// compiled-in defaults should apply.
	GetClassifierConfig() (*models.ClassifierConfig, error)

	// SaveInfoChunk adds one informational document chunk.
	SaveInfoChunk(content string) error
	// SearchInfoChunks returns up to limit chunks matching the query terms,
	// best match first.
	SearchInfoChunks(query string, limit int) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for store construction.
type Opts struct {
	// DSN is the backend data source name: a file path for SQLite, a
	// connection URL for Postgres.
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithDSN sets the data source name.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}
