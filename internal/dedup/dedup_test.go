package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIDStrategyDetectsDuplicate(t *testing.T) {
	d := New(Config{WindowSize: time.Hour, Strategy: KeyByID})
	defer d.Stop()

	msg := map[string]any{"id": "abc", "payload": 1}
	assert.False(t, d.IsDuplicate(msg))
	d.MarkProcessed(msg)
	assert.True(t, d.IsDuplicate(msg))
}

func TestHashStrategyDetectsDuplicateContent(t *testing.T) {
	d := New(Config{WindowSize: time.Hour, Strategy: KeyByHash})
	defer d.Stop()

	a := map[string]any{"x": 1}
	b := map[string]any{"x": 1}
	assert.False(t, d.IsDuplicate(a))
	d.MarkProcessed(a)
	assert.True(t, d.IsDuplicate(b))
}

func TestDistinctMessagesAreNotDuplicates(t *testing.T) {
	d := New(Config{WindowSize: time.Hour, Strategy: KeyByID})
	defer d.Stop()

	d.MarkProcessed(map[string]any{"id": "1"})
	assert.False(t, d.IsDuplicate(map[string]any{"id": "2"}))
}

func TestSweepEvictsExpiredRecords(t *testing.T) {
	d := New(Config{WindowSize: 40 * time.Millisecond, Strategy: KeyByID})
	defer d.Stop()

	msg := map[string]any{"id": "abc"}
	d.MarkProcessed(msg)
	assert.True(t, d.IsDuplicate(msg))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, d.IsDuplicate(msg))
}

func TestCapacityEvictsOldestBeforeInsert(t *testing.T) {
	d := New(Config{WindowSize: time.Hour, Strategy: KeyByID, Capacity: 2})
	defer d.Stop()

	d.MarkProcessed(map[string]any{"id": "1"})
	d.MarkProcessed(map[string]any{"id": "2"})
	d.MarkProcessed(map[string]any{"id": "3"})

	assert.LessOrEqual(t, d.Len(), 2)
	assert.False(t, d.IsDuplicate(map[string]any{"id": "1"}))
	assert.True(t, d.IsDuplicate(map[string]any{"id": "3"}))
}
