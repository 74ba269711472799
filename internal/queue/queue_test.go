package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityOrder(t *testing.T) {
	pq := NewPriorityQueue[string]()
	pq.Enqueue("c", 3)
	pq.Enqueue("a", 1)
	pq.Enqueue("b", 2)

	assert.Equal(t, 3, pq.Len())
	assert.Equal(t, []string{"a", "b", "c"}, pq.DequeueAll())
}

func TestFIFOWithinPriority(t *testing.T) {
	// Items with equal priority must come out in enqueue order, otherwise
	// same-path operations could reorder.
	pq := NewPriorityQueue[int]()
	for i := 0; i < 100; i++ {
		pq.Enqueue(i, 7)
	}
	for i := 0; i < 100; i++ {
		v, ok := pq.Dequeue()
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestDequeueEmpty(t *testing.T) {
	pq := NewPriorityQueue[string]()
	v, ok := pq.Dequeue()
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestConcurrentEnqueue(t *testing.T) {
	pq := NewPriorityQueue[int]()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pq.Enqueue(n*100+j, j)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1000, pq.Len())

	prev := -1
	for pq.Len() > 0 {
		v, _ := pq.Dequeue()
		prio := v % 100
		assert.GreaterOrEqual(t, prio, prev)
		prev = prio
	}
}
