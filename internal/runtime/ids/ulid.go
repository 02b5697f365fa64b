package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// WithPrefix returns prefix + "_" + a fresh ULID, for identifiers that are
// easier to read in logs (subscriptions, hub calls).
func WithPrefix(prefix string) string {
	if prefix == "" {
		return CreateULID()
	}
	return prefix + "_" + CreateULID()
}

// CreatedAt extracts the creation time encoded in a ULID (prefixed or not).
func CreatedAt(id string) (time.Time, error) {
	if n := len(id); n > ulid.EncodedSize {
		id = id[n-ulid.EncodedSize:]
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
