package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounterIncrement(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, 1, c.Increment("builds"))
	assert.Equal(t, 2, c.Increment("builds"))
	assert.Equal(t, 1, c.Increment("cache-hits"))
	assert.Equal(t, 2, c.Get("builds"))
}

func TestCounterConcurrentIncrement(t *testing.T) {
	c := NewCounter()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Increment("builds")
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, c.Get("builds"))
}

func TestTimerStartStop(t *testing.T) {
	tm := NewTimer()
	tm.Start("glibc")
	time.Sleep(5 * time.Millisecond)
	d := tm.Stop("glibc")
	assert.True(t, d > 0)
	assert.Equal(t, d, tm.Elapsed("glibc"))
}

func TestTimerStopWithoutStartIsZero(t *testing.T) {
	tm := NewTimer()
	assert.Equal(t, time.Duration(0), tm.Stop("never-started"))
}
