package tickbarrier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitBlocksUntilAllComplete(t *testing.T) {
	b := New(3)
	done := make(chan struct{})

	go func() {
		b.Wait()
		close(done)
	}()

	for i := 0; i < 2; i++ {
		b.Complete()
	}

	select {
	case <-done:
		t.Fatal("barrier released before all completions")
	case <-time.After(20 * time.Millisecond):
	}

	b.Complete()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("barrier never released")
	}
}

func TestZeroTotalDoesNotBlock(t *testing.T) {
	b := New(0)
	b.Wait()
}

func TestConcurrentCompletions(t *testing.T) {
	const n = 1000
	b := New(n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			b.Complete()
		}()
	}
	wg.Wait()
	b.Wait()
	assert.Equal(t, uint64(n), b.completed.Load())
}
