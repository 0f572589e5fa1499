package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := New[int]()
	_, ok := q.Dequeue()
	assert.False(t, ok)

	for i := 1; i <= 3; i++ {
		assert.Equal(t, i, q.Enqueue(i))
	}
	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, q.Len())
}

func TestQueueDrainEmptiesEverything(t *testing.T) {
	t.Parallel()

	q := New[string]()
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		q.Enqueue(s)
	}

	var got []string
	n := q.Drain(func(s string) {
		got = append(got, s)
		if s == "b" {
			q.Enqueue("late")
		}
	})

	assert.Equal(t, 6, n)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "late"}, got)
	assert.Zero(t, q.Len())
}

func TestQueueClear(t *testing.T) {
	t.Parallel()

	q := New[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Len())
	assert.Zero(t, q.Drain(func(int) { t.Fatal("unexpected item") }))
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	t.Parallel()

	q := New[int]()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, q.Len())
}
