package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/webitel/ws-client-runtime/internal/persistence"
)

// wireItem is the JSON-serializable form written to the backing store.
type wireItem struct {
	ID         string    `json:"id"`
	Payload    any       `json:"payload"`
	Priority   Priority  `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Retries    int       `json:"retries"`
}

// persistLocked serializes the queue to the configured storage key.
// Storage errors are logged and non-fatal; on quota exhaustion, half
// of the low-band contents are evicted and the write retried once. If
// it still fails, persistence is abandoned for the rest of the
// session and the queue continues in memory-only mode.
func (q *Queue) persistLocked() {
	if !q.cfg.Persistent || q.store == nil || q.degraded {
		return
	}

	if err := q.writeLocked(); err != nil {
		if errors.Is(err, persistence.ErrQuotaExceeded) {
			q.evictHalfLowLocked()
			if err2 := q.writeLocked(); err2 != nil {
				q.degraded = true
				q.warn("queue: persistence quota exceeded after eviction retry, continuing memory-only", err2)
				return
			}
			return
		}
		q.warn("queue: persistence write failed", err)
	}
}

func (q *Queue) writeLocked() error {
	wire := make([]wireItem, len(q.items))
	for i, it := range q.items {
		wire[i] = wireItem{ID: it.ID, Payload: it.Payload, Priority: it.Priority, EnqueuedAt: it.EnqueuedAt, Retries: it.Retries}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	return q.store.Set(q.cfg.StorageKey, string(data))
}

// evictHalfLowLocked drops the oldest half of the low-priority band.
func (q *Queue) evictHalfLowLocked() {
	q.ensureSortedLocked()
	var lowIdx []int
	for i, it := range q.items {
		if it.Priority == PriorityLow {
			lowIdx = append(lowIdx, i)
		}
	}
	toDrop := len(lowIdx) / 2
	if toDrop == 0 {
		return
	}
	drop := make(map[int]bool, toDrop)
	for _, i := range lowIdx[:toDrop] {
		drop[i] = true
		q.bytes -= q.items[i].sizeEstimate
	}
	kept := q.items[:0]
	for i, it := range q.items {
		if !drop[i] {
			kept = append(kept, it)
		}
	}
	q.items = kept
}

// restore loads a previously persisted queue from the backing store.
// Entries older than the 24h expiry are dropped and byte totals are
// recomputed.
func (q *Queue) restore() {
	raw, ok, err := q.store.Get(q.cfg.StorageKey)
	if err != nil {
		q.warn("queue: persistence restore failed", err)
		return
	}
	if !ok {
		return
	}

	var wire []wireItem
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		q.warn("queue: persistence restore decode failed", err)
		return
	}

	cutoff := time.Now().Add(-expiry)
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, w := range wire {
		if w.EnqueuedAt.Before(cutoff) {
			continue
		}
		size := estimateSize(w.Payload)
		q.items = append(q.items, &Item{
			ID: w.ID, Payload: w.Payload, Priority: w.Priority,
			EnqueuedAt: w.EnqueuedAt, Retries: w.Retries, sizeEstimate: size,
		})
		q.bytes += size
	}
	q.isSorted = false
}

func (q *Queue) warn(msg string, err error) {
	if q.logger == nil {
		return
	}
	q.logger.Warn(msg, "error", err)
}
