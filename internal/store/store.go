// Package store persists published documents (events snapshot, index and
// pages) behind a small object-store interface.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Well-known document keys.
const (
	EventsKey = "events.json"
	IndexKey  = "index.json"

	ContentTypeJSON = "application/json"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the snapshot object store. Keys are slash separated and relative.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// DeleteBatch removes keys. Per-key failures are reported in the result;
	// the error is reserved for failures of the whole request.
	DeleteBatch(ctx context.Context, keys []string) (DeleteResult, error)
}

// ContentTyper is implemented by stores that remember the content type
// given to Put.
type ContentTyper interface {
	ContentType(ctx context.Context, key string) (string, error)
}

// DeleteResult is the outcome of DeleteBatch.
type DeleteResult struct {
	Deleted []string
	Errors  []DeleteError
}

// DeleteError describes one key that could not be deleted.
type DeleteError struct {
	Key string
	Err error
}

func (e DeleteError) Error() string {
	return fmt.Sprintf("delete %s: %v", e.Key, e.Err)
}

func (e DeleteError) Unwrap() error { return e.Err }

// StorageError wraps a backend failure with the operation and key.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
