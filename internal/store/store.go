// Package store persists regions. The SQL implementation serves both SQLite
// and Postgres; Memory backs tests and ephemeral deployments.
package store

import (
	"context"
	"errors"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// ErrNotFound is returned when no region has the requested ID.
var ErrNotFound = errors.New("region not found")

// RegionStore is the persistence collaborator of the refresh pipeline.
// Save inserts regions with a zero ID, assigning the new ID, and upserts
// everything else. UpdateClimate writes only the climate fields of an
// existing region and returns ErrNotFound once it has been deleted, so a
// refresh never resurrects a region or reverts concurrent edits.
type RegionStore interface {
	Get(ctx context.Context, id int64) (*domain.Region, error)
	List(ctx context.Context) ([]*domain.Region, error)
	Save(ctx context.Context, r *domain.Region) error
	UpdateClimate(ctx context.Context, id int64, c domain.Climate) error
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}
