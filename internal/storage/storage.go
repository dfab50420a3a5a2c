// Package storage defines the persistence interface for datasets and their rows.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/sheetsift/internal/models"
)

// ErrNotFound is returned when no dataset has the requested ID.
var ErrNotFound = errors.New("dataset not found")

// Storage defines dataset persistence operations.
type Storage interface {
	// SaveDataset inserts d or replaces the stored dataset with the same ID,
	// rows included. CreatedAt survives a replace.
	SaveDataset(ctx context.Context, d *models.Dataset) error
	GetDataset(ctx context.Context, id string) (*models.Dataset, error)
	GetDatasetSummary(ctx context.Context, id string) (*models.DatasetSummary, error)
	DeleteDataset(ctx context.Context, id string) error
	ListDatasets(ctx context.Context, offset, limit int) ([]*models.DatasetSummary, error)

	// Stats
	CountDatasets(ctx context.Context) (int64, error)
	CountRows(ctx context.Context) (int64, error)
	SizeBytes() (int64, error)

	Close() error
}
