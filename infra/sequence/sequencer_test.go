package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencerConcurrentUnique(t *testing.T) {
	s := New(100)
	var (
		mu   sync.Mutex
		seen = map[uint64]bool{}
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := s.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
	assert.Equal(t, uint64(4100), s.Current())
}

func TestObserveOnlyRaises(t *testing.T) {
	s := New(10)
	s.Observe(5)
	assert.Equal(t, uint64(10), s.Current())
	s.Observe(50)
	assert.Equal(t, uint64(51), s.Next())
}
