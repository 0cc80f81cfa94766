// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/pixvault/internal/model"
)

// UserRepository stores account credentials. It never sees the master secret.
type UserRepository interface {
	// Create inserts a new credential and fills its ID and CreatedAt.
	// A taken username yields errs.ErrAlreadyExists.
	Create(ctx context.Context, c *model.Credential) error
	// GetByID loads a credential by ID.
	GetByID(ctx context.Context, id int64) (*model.Credential, error)
	// GetByUsername loads a credential by username.
	GetByUsername(ctx context.Context, username string) (*model.Credential, error)
	// Exists reports whether the username is taken.
	Exists(ctx context.Context, username string) (bool, error)
}
