// Package storage provides the object stores stage files are written to.
//
// S3Store backs the Redshift warehouse, which COPYs straight from a bucket
// prefix. LocalStore keeps objects on disk and backs the SQLite warehouse and
// tests.
package storage

import (
	"context"
	"io"
)

// ObjectStore stores stage parts under string keys.
type ObjectStore interface {
	// Put writes body under key with the given metadata and returns the
	// object's location. body is not retained after Put returns.
	Put(ctx context.Context, key string, body []byte, metadata map[string]string) (string, error)

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns the address of key, or of every key sharing the prefix key,
	// in the form the warehouse loads from.
	URL(key string) string

	// Check verifies the store is reachable and writable.
	Check(ctx context.Context) error
}

// Opener is implemented by stores whose objects can be read back.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
