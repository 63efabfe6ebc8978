package upload

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DrainedAfterCapacityPutsAndTakes(t *testing.T) {
	const k = 25
	q := NewQueue[int](k)
	ctx := context.Background()

	taken := 0
	for i := range k {
		require.False(t, q.Drained())
		require.NoError(t, q.Put(i))
		// interleave takes with puts in a random order
		if rand.IntN(2) == 0 {
			_, ok := q.Take(ctx)
			require.True(t, ok)
			taken++
		}
	}
	for taken < k {
		require.False(t, q.Drained())
		_, ok := q.Take(ctx)
		require.True(t, ok)
		taken++
	}

	assert.True(t, q.Drained())
	_, ok := q.Take(ctx)
	assert.False(t, ok)
}

func TestQueue_PutBeyondCapacity(t *testing.T) {
	q := NewQueue[string](1)
	require.NoError(t, q.Put("a"))
	assert.ErrorIs(t, q.Put("b"), ErrQueueFull)
	assert.Equal(t, 1, q.Capacity())
	assert.Equal(t, 1, q.Len())
}

func TestQueue_ZeroCapacityIsDrained(t *testing.T) {
	q := NewQueue[string](0)
	assert.True(t, q.Drained())
	_, ok := q.Take(context.Background())
	assert.False(t, ok)
}

func TestQueue_CloseEarly(t *testing.T) {
	q := NewQueue[string](3)
	require.NoError(t, q.Put("a"))
	q.Close()
	assert.ErrorIs(t, q.Put("b"), ErrQueueClosed)

	item, ok := q.Take(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", item)
	assert.True(t, q.Drained())
}

func TestQueue_TakeHonorsContext(t *testing.T) {
	q := NewQueue[string](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Take(ctx)
	assert.False(t, ok)
	assert.False(t, q.Drained())
}

func TestQueue_ConcurrentConsumers(t *testing.T) {
	const k = 200
	q := NewQueue[int](k)
	for i := range k {
		require.NoError(t, q.Put(i))
	}

	var (
		mu   sync.Mutex
		seen = make(map[int]bool, k)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Go(func() {
			for {
				item, ok := q.Take(context.Background())
				if !ok {
					return
				}
				mu.Lock()
				seen[item] = true
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	assert.Len(t, seen, k)
	assert.True(t, q.Drained())
}
