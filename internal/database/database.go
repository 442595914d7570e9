// Package database owns the envelope, item, and event tables and enforces
// the lifecycle state machine through transactional event insertion.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

var log = logrus.WithField("prefix", "database")

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned by single-row lookups with no match.
var ErrNotFound = errors.New("database: not found")

// TransitionError reports a state-machine violation: the envelope's current
// status does not permit the requested transition. Callers that lost a race
// inspect Current to decide whether the desired state was already reached.
type TransitionError struct {
	EnvelopeID string
	Current    envelope.Status
	Requested  envelope.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("envelope %s: transition %s -> %s not permitted",
		e.EnvelopeID, e.Current, e.Requested)
}

// Connect opens the pool and verifies connectivity.
func Connect(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("schema migrations applied")
	return nil
}

// Store is the query surface over the pipeline's tables.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping reports database liveness for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
