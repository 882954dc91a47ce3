// Package queue implements a priority-ordered, bounded, optionally
// persistent outbox. Items are kept in a flat slice
// with a lazily-applied sort: enqueue marks the slice dirty, and any
// order-dependent read first restores sorted order, amortizing bulk
// enqueue to O(n log n) instead of paying a sort on every insert.
package queue

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/webitel/ws-client-runtime/errs"
	"github.com/webitel/ws-client-runtime/internal/idgen"
	"github.com/webitel/ws-client-runtime/internal/persistence"
)

// Priority is one of the three outbound bands, ordered high > normal > low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Item is a single queued payload.
type Item struct {
	ID         string    `json:"id"`
	Payload    any       `json:"payload"`
	Priority   Priority  `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Retries    int       `json:"retries"`

	sizeEstimate int
}

// Config bounds the outbox and selects optional persistence.
type Config struct {
	Enabled    bool
	MaxSize    int
	MaxMessage int // per-message byte-size cap; 0 disables the check
	Persistent bool
	StorageKey string
}

func (c Config) normalized() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	return c
}

// Stats summarizes the queue's current contents; the monitor derives
// its queue-usage signal from Total.
type Stats struct {
	Total, High, Normal, Low int
	Bytes                    int
}

const expiry = 24 * time.Hour

// Queue is the priority outbox. Nil *Queue is not usable; build with New.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	items    []*Item
	isSorted bool
	bytes    int
	ids      idgen.Generator
	store    persistence.Store
	degraded bool // true once persistence has failed and been abandoned for the session
	logger   logger
}

type logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// New builds a Queue. store may be nil, which disables persistence
// regardless of cfg.Persistent.
func New(cfg Config, ids idgen.Generator, store persistence.Store, log logger) *Queue {
	cfg = cfg.normalized()
	q := &Queue{cfg: cfg, ids: ids, store: store, logger: log, isSorted: true}
	if cfg.Persistent && store != nil {
		q.restore()
	}
	return q
}

// UpdateConfig replaces the queue's configuration. Buffered items are
// kept as-is; the new capacity/message-size limits apply from the next
// mutation onward.
func (q *Queue) UpdateConfig(cfg Config) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg = cfg.normalized()
}

// estimateSize is a conservative JSON-based byte estimate; good enough
// for capacity accounting without round-tripping through the codec.
func estimateSize(payload any) int {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(b)
}

// Enqueue appends payload at priority. It evicts the oldest low-band
// item on overflow; if the queue is full of higher-or-equal priority
// items, the oldest item in the lowest present band is evicted
// instead, so an enqueue never fails purely for being full.
func (q *Queue) Enqueue(payload any, priority Priority) (string, error) {
	size := estimateSize(payload)
	if q.cfg.MaxMessage > 0 && size > q.cfg.MaxMessage {
		return "", errs.New(errs.MessageSize, "queue.enqueue", nil)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cfg.MaxSize {
		q.evictOneLocked()
	}

	item := &Item{
		ID:           q.ids.New(),
		Payload:      payload,
		Priority:     priority,
		EnqueuedAt:   time.Now(),
		sizeEstimate: size,
	}
	q.items = append(q.items, item)
	q.bytes += size
	q.isSorted = false

	q.persistLocked()
	return item.ID, nil
}

// evictOneLocked drops the oldest item from the lowest priority band
// present. Must be called with q.mu held.
func (q *Queue) evictOneLocked() {
	if len(q.items) == 0 {
		return
	}
	q.ensureSortedLocked()

	lowestBand := q.items[0].Priority
	for _, it := range q.items {
		if it.Priority < lowestBand {
			lowestBand = it.Priority
		}
	}
	for i, it := range q.items {
		if it.Priority == lowestBand {
			q.bytes -= it.sizeEstimate
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// ensureSortedLocked restores (band desc, enqueuedAt asc) order if the
// dirty flag is set. Must be called with q.mu held.
func (q *Queue) ensureSortedLocked() {
	if q.isSorted {
		return
	}
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].EnqueuedAt.Before(q.items[j].EnqueuedAt)
	})
	q.isSorted = true
}

// Dequeue removes and returns the highest-band, oldest item.
func (q *Queue) Dequeue() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureSortedLocked()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.bytes -= item.sizeEstimate
	q.persistLocked()
	return item, true
}

// Peek returns the highest-band, oldest item without removing it.
func (q *Queue) Peek() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureSortedLocked()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// DequeueBatch removes and returns up to n items in dequeue order.
func (q *Queue) DequeueBatch(n int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureSortedLocked()
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := q.items[:n]
	q.items = q.items[n:]
	for _, it := range batch {
		q.bytes -= it.sizeEstimate
	}
	q.persistLocked()
	return batch
}

// SendFunc delivers a single item; an error means the item was not
// accepted by the transport.
type SendFunc func(item *Item) error

// Flush dequeues and sends items one at a time via send. On the first
// rejection, the item is re-enqueued with Retries+1 at its original
// priority and flush stops, returning the count successfully
// delivered so far.
func (q *Queue) Flush(send SendFunc) int {
	delivered := 0
	for {
		item, ok := q.Dequeue()
		if !ok {
			return delivered
		}
		if err := send(item); err != nil {
			item.Retries++
			q.reenqueue(item)
			return delivered
		}
		delivered++
	}
}

func (q *Queue) reenqueue(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	q.bytes += item.sizeEstimate
	q.isSorted = false
	q.persistLocked()
}

// Clear removes every item.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.bytes = 0
	q.isSorted = true
	q.persistLocked()
}

// FindByID returns the item with the given id, if present.
func (q *Queue) FindByID(id string) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

// RemoveByID removes the item with the given id, if present.
func (q *Queue) RemoveByID(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.ID == id {
			q.bytes -= it.sizeEstimate
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.persistLocked()
			return true
		}
	}
	return false
}

// GetAll returns every item in dequeue order.
func (q *Queue) GetAll() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureSortedLocked()
	out := make([]*Item, len(q.items))
	copy(out, q.items)
	return out
}

// GetStats reports the current band counts and byte total.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	s.Total = len(q.items)
	s.Bytes = q.bytes
	for _, it := range q.items {
		switch it.Priority {
		case PriorityHigh:
			s.High++
		case PriorityNormal:
			s.Normal++
		case PriorityLow:
			s.Low++
		}
	}
	return s
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
