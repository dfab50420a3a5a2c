// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/sheetsift/internal/models"
)

// SQLiteStorage implements Storage using SQLite. Each row is one JSON array of cells.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// The watcher and the API write concurrently; wait for locks instead of failing.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source TEXT,
		headers TEXT NOT NULL,
		metadata TEXT,
		row_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_datasets_updated_at ON datasets(updated_at);

	CREATE TABLE IF NOT EXISTS dataset_rows (
		dataset_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		cells TEXT NOT NULL,
		PRIMARY KEY (dataset_id, row_index),
		FOREIGN KEY (dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveDataset upserts the dataset and replaces its rows in one transaction.
func (s *SQLiteStorage) SaveDataset(ctx context.Context, d *models.Dataset) error {
	if err := d.Normalize(); err != nil {
		return err
	}
	headersJSON, err := json.Marshal(d.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	metadataJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM datasets WHERE id = ?`, d.ID).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = now
	case err != nil:
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (id, name, source, headers, metadata, row_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, source = excluded.source, headers = excluded.headers,
		   metadata = excluded.metadata, row_count = excluded.row_count, updated_at = excluded.updated_at`,
		d.ID, d.Name, d.Source, string(headersJSON), string(metadataJSON), len(d.Rows), createdAt, now,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_rows WHERE dataset_id = ?`, d.ID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dataset_rows (dataset_id, row_index, cells) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range d.Rows {
		cells, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, i, string(cells)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	d.CreatedAt = createdAt
	d.UpdatedAt = now
	return nil
}

const summaryColumns = `id, name, source, headers, metadata, row_count, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row scanner) (*models.DatasetSummary, error) {
	var (
		sum          models.DatasetSummary
		source       sql.NullString
		metadataJSON sql.NullString
		headersJSON  string
	)
	if err := row.Scan(&sum.ID, &sum.Name, &source, &headersJSON, &metadataJSON, &sum.RowCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
		return nil, err
	}
	sum.Source = source.String
	if err := json.Unmarshal([]byte(headersJSON), &sum.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}
	sum.Columns = len(sum.Headers)
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &sum.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &sum, nil
}

// GetDatasetSummary returns a dataset without its rows.
func (s *SQLiteStorage) GetDatasetSummary(ctx context.Context, id string) (*models.DatasetSummary, error) {
	sum, err := scanSummary(s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM datasets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// GetDataset returns a dataset with its rows in stored order.
func (s *SQLiteStorage) GetDataset(ctx context.Context, id string) (*models.Dataset, error) {
	sum, err := s.GetDatasetSummary(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cells FROM dataset_rows WHERE dataset_id = ? ORDER BY row_index`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	data := make([][]string, 0, sum.RowCount)
	for rows.Next() {
		var cellsJSON string
		if err := rows.Scan(&cellsJSON); err != nil {
			return nil, err
		}
		var cells []string
		if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row: %w", err)
		}
		data = append(data, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.Dataset{
		ID:        sum.ID,
		Name:      sum.Name,
		Source:    sum.Source,
		Headers:   sum.Headers,
		Rows:      models.NormalizeRows(sum.Headers, data),
		Metadata:  sum.Metadata,
		CreatedAt: sum.CreatedAt,
		UpdatedAt: sum.UpdatedAt,
	}, nil
}

// DeleteDataset removes a dataset and its rows. Deleting a missing ID is not an error.
func (s *SQLiteStorage) DeleteDataset(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_rows WHERE dataset_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDatasets returns dataset summaries, most recently updated first.
func (s *SQLiteStorage) ListDatasets(ctx context.Context, offset, limit int) ([]*models.DatasetSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM datasets ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DatasetSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// CountDatasets returns the total number of datasets.
func (s *SQLiteStorage) CountDatasets(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&count)
	return count, err
}

// CountRows returns the total number of stored rows across datasets.
func (s *SQLiteStorage) CountRows(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dataset_rows`).Scan(&count)
	return count, err
}

// SizeBytes returns the on-disk size of the database including its WAL files.
// Missing files count as zero.
func (s *SQLiteStorage) SizeBytes() (int64, error) {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
