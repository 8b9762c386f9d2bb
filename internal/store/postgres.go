// Package store provides storage backends for consultation records.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/DermaBridge/IntakeFlow/internal/models"
	"github.com/DermaBridge/IntakeFlow/internal/util"
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

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
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

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateConsultation(ctx context.Context, fields models.ConsultationFields) (string, error) {
	id := util.GenerateConsultationID()
	payload, err := encodeFields(fields)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consultations (id, status, fields, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, models.ConsultationStatusOpen, payload, now, now)
	if err != nil {
		slog.Error("PostgresStore CreateConsultation failed", "error", err)
		return "", fmt.Errorf("failed to insert consultation: %w", err)
	}
	slog.Debug("PostgresStore CreateConsultation succeeded", "consultationID", id)
	return id, nil
}

func (s *PostgresStore) PatchConsultation(ctx context.Context, id string, fields models.ConsultationFields) error {
	payload, err := encodeFields(fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE consultations SET fields = fields || $1::jsonb, updated_at = $2 WHERE id = $3`,
		payload, time.Now().UTC(), id)
	if err != nil {
		slog.Error("PostgresStore PatchConsultation failed", "error", err, "consultationID", id)
		return fmt.Errorf("failed to patch consultation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNoConsultation
	}
	slog.Debug("PostgresStore PatchConsultation succeeded", "consultationID", id, "fields", len(fields))
	return nil
}

func (s *PostgresStore) SetConsultationStatus(ctx context.Context, id string, status models.ConsultationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE consultations SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		slog.Error("PostgresStore SetConsultationStatus failed", "error", err, "consultationID", id)
		return fmt.Errorf("failed to update status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNoConsultation
	}
	return nil
}

func (s *PostgresStore) GetConsultation(ctx context.Context, id string) (*models.Consultation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, fields, created_at, updated_at FROM consultations WHERE id = $1`, id)
	c, err := scanConsultation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrNoConsultation
	}
	if err != nil {
		slog.Error("PostgresStore GetConsultation failed", "error", err, "consultationID", id)
		return nil, fmt.Errorf("failed to get consultation %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) ListConsultations(ctx context.Context) ([]models.Consultation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, fields, created_at, updated_at FROM consultations ORDER BY created_at DESC`)
	if err != nil {
		slog.Error("PostgresStore ListConsultations query failed", "error", err)
		return nil, fmt.Errorf("failed to query consultations: %w", err)
	}
	defer rows.Close()

	var out []models.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows.Scan)
		if err != nil {
			slog.Error("PostgresStore ListConsultations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan consultation row: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consultation rows: %w", err)
	}
	slog.Debug("PostgresStore ListConsultations succeeded", "count", len(out))
	return out, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
