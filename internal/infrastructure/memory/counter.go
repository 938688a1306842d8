package memory

import (
	"context"
	"sync"
	"time"

	"github.com/go-api-guard/internal/domain"
)

const sweepEvery = 1024

type window struct {
	start   time.Time
	expires time.Time
	count   int
}

// Counter is a fixed-window counter store.
type Counter struct {
	mu      sync.Mutex
	windows map[string]*window
	hits    int
}

func NewCounter() *Counter {
	return &Counter{windows: make(map[string]*window)}
}

func (c *Counter) Hit(ctx context.Context, key string, limit int, win time.Duration, now time.Time) (domain.CounterState, error) {
	if err := ctx.Err(); err != nil {
		return domain.CounterState{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits++
	if c.hits%sweepEvery == 0 {
		c.sweep(now)
	}

	w, ok := c.windows[key]
	if !ok || !now.Before(w.start.Add(win)) {
		w = &window{start: now, expires: now.Add(win)}
		c.windows[key] = w
	}
	if w.count < limit {
		w.count++
		return domain.CounterState{Allowed: true, Count: w.count, WindowStart: w.start}, nil
	}
	return domain.CounterState{Allowed: false, Count: w.count, WindowStart: w.start}, nil
}

// Len reports the number of live windows.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

func (c *Counter) sweep(now time.Time) {
	for k, w := range c.windows {
		if !now.Before(w.expires) {
			delete(c.windows, k)
		}
	}
}
