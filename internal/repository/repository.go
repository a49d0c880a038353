// Package repository stores JSON records in named collections keyed by id.
//
// Every operation touches a single record. There are no transactions and no
// partial updates: Save overwrites the whole record. Take is the one
// compound operation and is atomic in every implementation, so exactly one
// caller observes a given record being removed.
package repository

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("record not found")
	// ErrMalformed is returned when a stored record cannot be decoded.
	ErrMalformed = errors.New("malformed record")
)

// Entity is a record that knows its own id.
type Entity interface {
	EntityID() string
}

// Repository is a single collection of T.
type Repository[T Entity] interface {
	// List returns every record ordered by id. Records that fail to decode
	// are skipped and logged.
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	// Save upserts the full record.
	Save(ctx context.Context, entity T) error
	// Delete removes id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Take atomically fetches and removes id, returning ErrNotFound when it
	// is absent or was already taken.
	Take(ctx context.Context, id string) (T, error)
}
