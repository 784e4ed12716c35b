package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/boerz-coding/camel/internal/storage"
)

// Store is a SQLite implementation of UsageStore
type Store struct {
	db *sql.DB
}

var _ storage.UsageStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			request_id TEXT,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			estimated INTEGER NOT NULL DEFAULT 0,
			rules_version TEXT,
			api_key TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_model ON usage_records(model)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_created ON usage_records(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) RecordUsage(ctx context.Context, rec *storage.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	// Stored as UTC so created_at sorts correctly as text.
	rec.CreatedAt = rec.CreatedAt.UTC()

	query := `INSERT INTO usage_records
	          (id, request_id, model, input_tokens, message_count, estimated, rules_version, api_key, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RequestID, rec.Model, rec.InputTokens, rec.MessageCount,
		rec.Estimated, rec.RulesVersion, rec.APIKey, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	return nil
}

func (s *Store) GetUsage(ctx context.Context, id string) (*storage.UsageRecord, error) {
	query := `SELECT id, request_id, model, input_tokens, message_count, estimated, rules_version, api_key, created_at
	          FROM usage_records WHERE id = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("usage record %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return rec, nil
}

func (s *Store) ListUsage(ctx context.Context, opts storage.ListOptions) ([]*storage.UsageRecord, error) {
	query := `SELECT id, request_id, model, input_tokens, message_count, estimated, rules_version, api_key, created_at
	          FROM usage_records
	          WHERE (? = '' OR model = ?)
	            AND (? = '' OR api_key = ?)
	          ORDER BY created_at DESC, rowid DESC
	          LIMIT ? OFFSET ?`

	limit := opts.Limit
	if limit == 0 {
		limit = storage.DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, query, opts.Model, opts.Model, opts.APIKey, opts.APIKey, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*storage.UsageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*storage.UsageRecord, error) {
	var rec storage.UsageRecord
	var requestID, rulesVersion, apiKey sql.NullString

	if err := row.Scan(&rec.ID, &requestID, &rec.Model, &rec.InputTokens, &rec.MessageCount,
		&rec.Estimated, &rulesVersion, &apiKey, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.RequestID = requestID.String
	rec.RulesVersion = rulesVersion.String
	rec.APIKey = apiKey.String
	return &rec, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
