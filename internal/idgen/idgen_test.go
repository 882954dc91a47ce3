package idgen

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDGeneratorProducesUniqueIDs(t *testing.T) {
	g := NewGenerator(StrategyUUID)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestULIDGeneratorIsLexicallySortableInGenerationOrder(t *testing.T) {
	g := NewGenerator(StrategyULID)
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = g.New()
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, ids)
}

func TestUnknownStrategyFallsBackToUUID(t *testing.T) {
	g := NewGenerator("something-else")
	assert.Len(t, g.New(), 36)
}
