// Package settings is the per-user key/value settings store.
package settings

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Get for keys that were never set.
var ErrNotFound = errors.New("key not found")

// Store is a persistent string key/value map.
type Store interface {
	io.Closer

	// Get retrieves the value for key, or ErrNotFound.
	Get(key string) (string, error)

	// Set stores a key/value pair, replacing any previous value.
	Set(key, value string) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error

	// List returns keys with the given prefix; an empty prefix lists everything.
	List(prefix string) ([]string, error)
}
