package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"assetpipe/internal/config"
)

// Store persists item snapshots and batch summaries backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// BatchStatus is the lifecycle marker of a recorded batch run.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchAborted   BatchStatus = "aborted"
)

// BatchRecord summarizes one batch run.
type BatchRecord struct {
	ID          string
	Status      BatchStatus
	Total       int
	Completed   int
	Failed      int
	Cost        float64
	StartedAt   time.Time
	CompletedAt time.Time
}

// Open initializes or connects to the state database under the configured state dir.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.StatePath())
}

// OpenPath opens the database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveItem upserts a snapshot of item keyed by its correlation key.
func (s *Store) SaveItem(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is required")
	}
	if strings.TrimSpace(item.CorrelationKey) == "" {
		return errors.New("item correlation key is required")
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO items (
            correlation_key, batch_id, position, server_id, name, source_url,
            status, cost, payload_json, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(correlation_key) DO UPDATE SET
            batch_id = excluded.batch_id,
            position = excluded.position,
            server_id = excluded.server_id,
            name = excluded.name,
            source_url = excluded.source_url,
            status = excluded.status,
            cost = excluded.cost,
            payload_json = excluded.payload_json,
            updated_at = excluded.updated_at`,
		item.CorrelationKey,
		nullableString(item.BatchID),
		item.Position,
		nullableString(item.ServerID),
		item.Name,
		nullableString(item.SourceURL),
		string(item.Status),
		item.Cost,
		string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save item %s: %w", item.CorrelationKey, err)
	}
	return nil
}

// GetItem fetches an item by correlation key. It returns nil when absent.
func (s *Store) GetItem(ctx context.Context, key string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload_json FROM items WHERE correlation_key = ?`, key)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	return item, nil
}

// ListItems returns the items of a batch in their original order.
func (s *Store) ListItems(ctx context.Context, batchID string) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM items WHERE batch_id = ? ORDER BY position ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveBatch upserts a batch summary.
func (s *Store) SaveBatch(ctx context.Context, rec BatchRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("batch id is required")
	}
	var completedAt any
	if !rec.CompletedAt.IsZero() {
		completedAt = rec.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO batches (id, status, total, completed, failed, cost, started_at, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            total = excluded.total,
            completed = excluded.completed,
            failed = excluded.failed,
            cost = excluded.cost,
            completed_at = excluded.completed_at`,
		rec.ID,
		string(rec.Status),
		rec.Total,
		rec.Completed,
		rec.Failed,
		rec.Cost,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("save batch %s: %w", rec.ID, err)
	}
	return nil
}

// GetBatch fetches a batch summary. It returns nil when absent.
func (s *Store) GetBatch(ctx context.Context, id string) (*BatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	rec, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return rec, nil
}

// ListBatches returns the most recent batches first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		rec, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
