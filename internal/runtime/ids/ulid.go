// Package ids mints the identifiers used for correlation ids, worker keys
// and the process nonce.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NonceLength is the length of the strings returned by Nonce.
const NonceLength = 12

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

func next() ulid.ULID {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// IDs from one process are strictly increasing.
func CreateULID() string {
	return next().String()
}

// Nonce returns a short random lowercase token taken from the entropy part
// of a fresh ULID.
func Nonce() string {
	id := next().String()
	return strings.ToLower(id[len(id)-NonceLength:])
}
