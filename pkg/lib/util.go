package lib

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// NewID generates a UUID version 4 string (RFC 4122)
func NewID() string {
	return uuid.NewString()
}

var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und, collate.IgnoreCase)
)

// CompareNames orders display names case-insensitively using the root locale.
// Returns -1, 0 or 1.
func CompareNames(a, b string) int {
	// Collator keeps internal buffers and is not safe for concurrent use
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}
