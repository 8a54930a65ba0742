package registry

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get for an unknown id.
var ErrNotFound = errors.New("registry record not found")

// Store persists records. The scheduler is the only writer during a run.
type Store interface {
	Get(ctx context.Context, id string) (Record, error)
	Put(ctx context.Context, r Record) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}
