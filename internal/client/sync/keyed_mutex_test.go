package sync

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	var inCritical, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("alice@example.com/notes.txt")
			defer km.Unlock("alice@example.com/notes.txt")
			if inCritical.Add(1) > 1 {
				overlaps.Add(1)
			}
			inCritical.Add(-1)
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load(), "same-key sections must not overlap")
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	km := newKeyedMutex()
	km.Lock("a")
	defer km.Unlock("a")

	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	<-done
}
