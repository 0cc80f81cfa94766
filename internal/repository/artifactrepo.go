package repository

import (
	"context"

	"github.com/and161185/pixvault/internal/model"
)

// ArtifactRepository keeps artifact records keyed by (id, owner). Only
// encrypted envelopes and opaque vault paths are stored.
type ArtifactRepository interface {
	// Create inserts a record and fills its ID and CreatedAt.
	Create(ctx context.Context, a *model.Artifact) error
	// GetByID returns errs.ErrNotFound when the artifact is missing or owned by someone else.
	GetByID(ctx context.Context, id, ownerID int64) (*model.Artifact, error)
	// ListByUser returns the owner's artifacts, newest first.
	ListByUser(ctx context.Context, ownerID int64, limit, offset int) ([]model.Artifact, error)
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id, ownerID int64) (bool, error)
}
