package arena_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dudk/sequencer/internal/arena"
)

func TestTable(t *testing.T) {
	var table arena.Table[string]

	var zero arena.Handle
	assert.True(t, zero.IsZero())
	_, ok := table.Get(zero)
	assert.False(t, ok)

	h1 := table.Insert("one")
	h2 := table.Insert("two")
	assert.False(t, h1.IsZero())
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, table.Len())

	v, ok := table.Get(h1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	ok = table.Update(h2, func(s *string) { *s = "deux" })
	assert.True(t, ok)
	v, _ = table.Get(h2)
	assert.Equal(t, "deux", v)

	v, ok = table.Remove(h1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)
	assert.False(t, table.Contains(h1))
	assert.Equal(t, 1, table.Len())

	_, ok = table.Remove(h1)
	assert.False(t, ok)
	assert.False(t, table.Update(h1, func(*string) {}))
}

func TestStaleHandle(t *testing.T) {
	var table arena.Table[int]
	stale := table.Insert(1)
	table.Remove(stale)

	// slot is reused, but stale handle must not resolve to the new value.
	fresh := table.Insert(2)
	assert.NotEqual(t, stale, fresh)
	_, ok := table.Get(stale)
	assert.False(t, ok)
	v, ok := table.Get(fresh)
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestConcurrentInsertRemove(t *testing.T) {
	var table arena.Table[int]
	var wg sync.WaitGroup
	workers, n := 8, 200
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			handles := make([]arena.Handle, 0, n)
			for i := 0; i < n; i++ {
				handles = append(handles, table.Insert(w*n+i))
			}
			for i, h := range handles {
				v, ok := table.Remove(h)
				assert.True(t, ok)
				assert.Equal(t, w*n+i, v)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 0, table.Len())
}
