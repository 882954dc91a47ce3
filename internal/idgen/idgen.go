// Package idgen produces the identifiers used for queue items and ACKs
// (the RPC correlator draws its own UUIDs). Two strategies are available: random,
// collision-resistant UUIDs, and monotonic, lexically sortable ULIDs.
package idgen

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

// Generator produces a new identifier on each call. Implementations
// must be safe for concurrent use.
type Generator interface {
	New() string
}

// Strategy selects which Generator NewGenerator builds.
type Strategy string

const (
	// StrategyUUID produces random, collision-resistant v4 UUIDs.
	StrategyUUID Strategy = "uuid"
	// StrategyULID produces monotonic, timestamp-ordered ULIDs: ids
	// generated within the same millisecond sort lexically in
	// generation order, which UUIDs do not guarantee.
	StrategyULID Strategy = "ulid"
)

// NewGenerator returns a Generator for the given strategy, defaulting
// to StrategyUUID for an empty or unrecognized value.
func NewGenerator(strategy Strategy) Generator {
	switch strategy {
	case StrategyULID:
		return newULIDGenerator()
	default:
		return uuidGenerator{}
	}
}

type uuidGenerator struct{}

func (uuidGenerator) New() string { return uuid.New().String() }

// ulidGenerator serializes ULID generation behind a mutex: ulid.New
// requires a monotonically non-decreasing entropy source per
// millisecond to guarantee sort order, which ulid.Monotonic is not
// safe to share across goroutines without external locking.
type ulidGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newULIDGenerator() *ulidGenerator {
	return &ulidGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ulidGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
	return id.String()
}
