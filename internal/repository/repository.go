// Package repository provides the trained-model registry: persisted forest
// artifacts plus their training metadata, behind a database abstraction.
package repository

import (
	"context"
	"time"
)

// ModelRecord is a stored model's metadata and compressed artifact.
type ModelRecord struct {
	ID        int64
	Name      string
	Kind      string // "regression" or "classification"
	NRow      int
	NPred     int
	NTree     int
	OOBError  float64
	Artifact  []byte // forest.Model encoding
	CreatedAt time.Time
}

// ModelRepository defines the registry operations.
type ModelRepository interface {
	// Save stores a model record, assigning its ID.
	Save(ctx context.Context, rec *ModelRecord) error

	// GetByName retrieves the most recent model with the given name.
	GetByName(ctx context.Context, name string) (*ModelRecord, error)

	// List enumerates stored models, most recent first, without artifacts.
	List(ctx context.Context, limit int) ([]*ModelRecord, error)

	// Delete removes every model with the given name.
	Delete(ctx context.Context, name string) error
}
