// Package store provides storage backends for consultation records.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/DermaBridge/IntakeFlow/internal/models"
	"github.com/DermaBridge/IntakeFlow/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

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

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateConsultation(ctx context.Context, fields models.ConsultationFields) (string, error) {
	id := util.GenerateConsultationID()
	payload, err := encodeFields(fields)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consultations (id, status, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, models.ConsultationStatusOpen, payload, now, now)
	if err != nil {
		slog.Error("SQLiteStore CreateConsultation failed", "error", err)
		return "", fmt.Errorf("failed to insert consultation: %w", err)
	}
	slog.Debug("SQLiteStore CreateConsultation succeeded", "consultationID", id)
	return id, nil
}

func (s *SQLiteStore) PatchConsultation(ctx context.Context, id string, fields models.ConsultationFields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin patch transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT fields FROM consultations WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return models.ErrNoConsultation
	}
	if err != nil {
		slog.Error("SQLiteStore PatchConsultation read failed", "error", err, "consultationID", id)
		return fmt.Errorf("failed to read consultation %s: %w", id, err)
	}

	merged, err := mergeFields(raw, fields)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE consultations SET fields = ?, updated_at = ? WHERE id = ?`,
		merged, time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore PatchConsultation update failed", "error", err, "consultationID", id)
		return fmt.Errorf("failed to patch consultation %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit patch: %w", err)
	}
	slog.Debug("SQLiteStore PatchConsultation succeeded", "consultationID", id, "fields", len(fields))
	return nil
}

func (s *SQLiteStore) SetConsultationStatus(ctx context.Context, id string, status models.ConsultationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE consultations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore SetConsultationStatus failed", "error", err, "consultationID", id)
		return fmt.Errorf("failed to update status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNoConsultation
	}
	return nil
}

func (s *SQLiteStore) GetConsultation(ctx context.Context, id string) (*models.Consultation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, fields, created_at, updated_at FROM consultations WHERE id = ?`, id)
	c, err := scanConsultation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrNoConsultation
	}
	if err != nil {
		slog.Error("SQLiteStore GetConsultation failed", "error", err, "consultationID", id)
		return nil, fmt.Errorf("failed to get consultation %s: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteStore) ListConsultations(ctx context.Context) ([]models.Consultation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, fields, created_at, updated_at FROM consultations ORDER BY created_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListConsultations query failed", "error", err)
		return nil, fmt.Errorf("failed to query consultations: %w", err)
	}
	defer rows.Close()

	var out []models.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows.Scan)
		if err != nil {
			slog.Error("SQLiteStore ListConsultations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan consultation row: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consultation rows: %w", err)
	}
	slog.Debug("SQLiteStore ListConsultations succeeded", "count", len(out))
	return out, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

func encodeFields(fields models.ConsultationFields) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal consultation fields: %w", err)
	}
	return string(b), nil
}

func mergeFields(raw string, patch models.ConsultationFields) (string, error) {
	existing := make(models.ConsultationFields)
	if raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			slog.Error("mergeFields: failed to unmarshal stored fields, starting fresh", "error", err)
			existing = make(models.ConsultationFields)
		}
	}
	for k, v := range patch {
		existing[k] = v
	}
	return encodeFields(existing)
}

// scanConsultation decodes one consultation row. scan abstracts over
// sql.Row.Scan and sql.Rows.Scan.
func scanConsultation(scan func(dest ...any) error) (*models.Consultation, error) {
	var c models.Consultation
	var raw string
	if err := scan(&c.ID, &c.Status, &raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Fields = make(models.ConsultationFields)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Fields); err != nil {
			slog.Error("scanConsultation: failed to unmarshal fields", "consultationID", c.ID, "error", err)
			c.Fields = make(models.ConsultationFields)
		}
	}
	return &c, nil
}
