package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

var ErrClosed = errors.New("worker: pool closed")

// Pool runs funcs on a fixed set of lanes. Funcs submitted with the same
// non-empty key land on the same lane and run in submission order; keyless
// funcs are spread round-robin.
type Pool struct {
	lanes []chan func()
	rr    atomic.Uint64
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts lanes goroutines sharing a queue of roughly queue pending funcs.
func New(lanes, queue int) *Pool {
	lanes = max(lanes, 1)
	depth := max(queue/lanes, 1)
	p := &Pool{lanes: make([]chan func(), lanes)}
	p.wg.Add(lanes)
	for i := range p.lanes {
		ch := make(chan func(), depth)
		p.lanes[i] = ch
		go func() {
			defer p.wg.Done()
			for fn := range ch {
				fn()
			}
		}()
	}
	return p
}

func (p *Pool) Size() int { return len(p.lanes) }

// Queued reports the funcs waiting across all lanes.
func (p *Pool) Queued() int {
	n := 0
	for _, ch := range p.lanes {
		n += len(ch)
	}
	return n
}

// Submit queues fn on the lane for key, blocking while that lane is full.
func (p *Pool) Submit(ctx context.Context, key string, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.laneFor(key) <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) laneFor(key string) chan func() {
	var n uint64
	if key == "" {
		n = p.rr.Add(1)
	} else {
		n = xxhash.Sum64String(key)
	}
	return p.lanes[n%uint64(len(p.lanes))]
}

// Close stops accepting funcs and waits for the queued ones to finish. It is
// safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, ch := range p.lanes {
			close(ch)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}
