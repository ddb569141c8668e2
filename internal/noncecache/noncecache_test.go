package noncecache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckFreshThenDuplicate(t *testing.T) {
	c := New(60 * time.Second)
	now := time.Now().UnixMilli()

	assert.True(t, c.Check("n1", now))
	assert.False(t, c.Check("n1", now))
	assert.True(t, c.Check("n2", now))
	assert.Equal(t, 2, c.Len())
}

func TestPruneOutsideWindow(t *testing.T) {
	c := New(60 * time.Second)
	base := int64(1_000_000_000)
	clock := base
	c.nowMS = func() int64 { return clock }

	assert.True(t, c.Check("old", base))

	// Past the window the nonce is forgotten and may be seen again.
	clock = base + 61_000
	assert.True(t, c.Check("old", clock))
	assert.Equal(t, 1, c.Len())
}

func TestDuplicateInsideWindow(t *testing.T) {
	c := New(60 * time.Second)
	base := int64(1_000_000_000)
	clock := base
	c.nowMS = func() int64 { return clock }

	assert.True(t, c.Check("n", base))
	clock = base + 59_000
	assert.False(t, c.Check("n", clock))
}

func TestConcurrentSameNonce(t *testing.T) {
	c := New(60 * time.Second)
	now := time.Now().UnixMilli()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Check("contested", now) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

func TestDistinctNoncesAllAccepted(t *testing.T) {
	c := New(60 * time.Second)
	now := time.Now().UnixMilli()
	for i := 0; i < 100; i++ {
		assert.True(t, c.Check(fmt.Sprintf("n-%d", i), now))
	}
	assert.Equal(t, 100, c.Len())
}
