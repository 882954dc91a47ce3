// Package dedup implements sliding-window duplicate suppression.
// Records are held in a bounded LRU; insertion order approximates
// recency since the periodic sweep never re-Gets an entry, so eviction
// order stays meaningful as an age proxy.
package dedup

import (
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// KeyStrategy selects which derived keys mark a message.
type KeyStrategy string

const (
	KeyByID   KeyStrategy = "id"
	KeyByHash KeyStrategy = "hash"
	KeyBoth   KeyStrategy = "both"
)

// Config bounds the record window and selects the key strategy.
type Config struct {
	WindowSize time.Duration
	Capacity   int
	Strategy   KeyStrategy
	IDField    string
}

func (c Config) normalized() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 60 * time.Second
	}
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.Strategy == "" {
		c.Strategy = KeyByID
	}
	if c.IDField == "" {
		c.IDField = "id"
	}
	return c
}

// Deduplicator tracks recently processed message keys.
type Deduplicator struct {
	cfg Config

	mu      sync.Mutex
	records *lru.Cache[string, time.Time]
	stopCh  chan struct{}
}

// New builds a Deduplicator and starts its periodic sweep goroutine,
// running every WindowSize/2.
func New(cfg Config) *Deduplicator {
	cfg = cfg.normalized()
	cache, _ := lru.New[string, time.Time](cfg.Capacity)
	d := &Deduplicator{cfg: cfg, records: cache, stopCh: make(chan struct{})}
	go d.sweepLoop()
	return d
}

func (d *Deduplicator) sweepLoop() {
	ticker := time.NewTicker(d.cfg.WindowSize / 2)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Deduplicator) sweep() {
	cutoff := time.Now().Add(-d.cfg.WindowSize)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range d.records.Keys() {
		ts, ok := d.records.Peek(k)
		if ok && ts.Before(cutoff) {
			d.records.Remove(k)
		}
	}
}

// IsDuplicate reports whether any of message's derived keys is
// already recorded.
func (d *Deduplicator) IsDuplicate(message any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range d.keysFor(message) {
		if _, ok := d.records.Peek(k); ok {
			return true
		}
	}
	return false
}

// MarkProcessed records message's derived keys with the current
// timestamp. If recording would exceed capacity, the oldest record is
// evicted first (the underlying LRU already does this on Add, but the
// explicit check keeps the invariant documented at the call site).
func (d *Deduplicator) MarkProcessed(message any) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range d.keysFor(message) {
		if !d.records.Contains(k) && d.records.Len() >= d.cfg.Capacity {
			d.records.RemoveOldest()
		}
		d.records.Add(k, now)
	}
}

func (d *Deduplicator) keysFor(message any) []string {
	var keys []string
	if d.cfg.Strategy == KeyByID || d.cfg.Strategy == KeyBoth {
		if id, ok := extractID(message, d.cfg.IDField); ok {
			keys = append(keys, "id:"+id)
		}
	}
	if d.cfg.Strategy == KeyByHash || d.cfg.Strategy == KeyBoth {
		keys = append(keys, "hash:"+hashOf(message))
	}
	return keys
}

func extractID(message any, field string) (string, bool) {
	m, ok := message.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m[field]
	if !ok {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	default:
		b, err := json.Marshal(id)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// hashOf computes a djb2 hash over message's JSON serialization.
// djb2 isn't a standard-library hash, so it stays hand-rolled; the
// derived key format is "hash:<digest>".
func hashOf(message any) string {
	b, err := json.Marshal(message)
	if err != nil {
		b = []byte{}
	}
	var h uint64 = 5381
	for _, c := range b {
		h = ((h << 5) + h) + uint64(c)
	}
	return uitoa(h)
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Stop halts the sweep goroutine.
func (d *Deduplicator) Stop() {
	close(d.stopCh)
}

// Len reports the current record count.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.records.Len()
}
