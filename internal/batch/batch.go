// Package batch implements a coalescing outbound buffer: messages
// accumulate until a count, byte, or wait-time trigger fires, then are
// flushed as a single array through an injected send function.
package batch

import (
	"encoding/json"
	"sync"
	"time"
)

// SendFunc receives the coalesced batch and is responsible for
// wrapping it for the wire.
type SendFunc func(batch []any) error

// Config bounds the buffer. A zero MaxSize or MaxWait falls back to its
// default; a zero MaxBytes disables the byte trigger.
type Config struct {
	MaxSize  int
	MaxBytes int
	MaxWait  time.Duration
}

func (c Config) normalized() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 50
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 50 * time.Millisecond
	}
	return c
}

// Sender owns the pending buffer and its wait timer.
type Sender struct {
	cfg  Config
	send SendFunc

	flushMu   sync.Mutex // serializes Flush, so send never overlaps itself
	mu        sync.Mutex
	buf       []any
	bytes     int
	timer     *time.Timer
	destroyed bool
}

// New builds a Sender. send is never called concurrently with itself.
func New(cfg Config, send SendFunc) *Sender {
	return &Sender{cfg: cfg.normalized(), send: send}
}

// Add appends message to the buffer, flushing immediately if the
// count or byte trigger is now satisfied, and arming the wait timer
// on the first buffered message.
func (s *Sender) Add(message any) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	size := estimateSize(message)
	if len(s.buf) == 0 && s.cfg.MaxWait > 0 {
		s.timer = time.AfterFunc(s.cfg.MaxWait, s.flushFromTimer)
	}
	s.buf = append(s.buf, message)
	s.bytes += size

	trigger := len(s.buf) >= s.cfg.MaxSize || (s.cfg.MaxBytes > 0 && s.bytes >= s.cfg.MaxBytes)
	s.mu.Unlock()

	if trigger {
		s.Flush()
	}
}

func (s *Sender) flushFromTimer() {
	s.Flush()
}

// Flush sends the buffered batch, if non-empty, and resets state.
// Idempotent: calling it with an empty buffer is a no-op.
func (s *Sender) Flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	s.bytes = 0
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	send := s.send
	s.mu.Unlock()

	if send != nil {
		_ = send(batch)
	}
}

// Destroy flushes any remaining buffer then drops the send function,
// making subsequent Add calls silent no-ops.
func (s *Sender) Destroy() {
	s.Flush()
	s.mu.Lock()
	s.destroyed = true
	s.send = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

// Len reports the current buffered message count.
func (s *Sender) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func estimateSize(message any) int {
	b, err := json.Marshal(message)
	if err != nil {
		return 0
	}
	return len(b)
}
