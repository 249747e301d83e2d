package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	set := NewSet("b", "a")
	assert.True(t, set.Contains("a"))
	assert.False(t, set.Add("a"))
	assert.True(t, set.Add("c"))
	assert.Equal(t, 3, set.Size())

	set.Remove("b")
	set.Remove("missing")
	assert.False(t, set.Contains("b"))
	assert.Equal(t, []string{"a", "c"}, SortedItems(set))
}

func TestSortedItemsNil(t *testing.T) {
	var set *Set[int]
	assert.Equal(t, []int{}, SortedItems(set))
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
	assert.Empty(t, sortedKeys[any](nil))
}
