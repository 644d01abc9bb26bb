package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameKeyRunsInOrder(t *testing.T) {
	p := New(4, 64)

	var (
		mu   sync.Mutex
		seen = map[string][]int{}
	)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("%d", i%3)
		require.NoError(t, p.Submit(context.Background(), key, func() {
			mu.Lock()
			seen[key] = append(seen[key], i)
			mu.Unlock()
		}))
	}
	p.Close()

	total := 0
	for key, order := range seen {
		total += len(order)
		for j := 1; j < len(order); j++ {
			assert.Less(t, order[j-1], order[j], key)
		}
	}
	assert.Equal(t, 50, total)
}

func TestCloseWaitsForQueued(t *testing.T) {
	p := New(2, 8)
	var ran atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(context.Background(), "", func() { ran.Add(1) }))
	}
	p.Close()
	assert.Equal(t, int32(8), ran.Load())
	assert.Zero(t, p.Queued())
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(0, 0)
	assert.Equal(t, 1, p.Size())
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Submit(context.Background(), "", func() {}), ErrClosed)
}

func TestSubmitCancelled(t *testing.T) {
	p := New(1, 1)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Submit(ctx, "k", func() {}), context.Canceled)
}
