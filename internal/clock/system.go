package clock

import (
	"context"
	"sync"
	"time"
)

type SystemClock struct{}

func (SystemClock) Now(ctx context.Context) time.Time {
	if t, ok := FromContext(ctx); ok {
		return t
	}
	return time.Now().UTC()
}

type ctxKey struct{}

// WithTime pins the clock for everything downstream of ctx. Operators use it to
// replay a resync as of a given date.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKey{}, t.UTC())
}

func FromContext(ctx context.Context) (time.Time, bool) {
	if ctx == nil {
		return time.Time{}, false
	}
	t, ok := ctx.Value(ctxKey{}).(time.Time)
	return t, ok
}

// FixedClock always reports the same instant until Set is called.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t.UTC()}
}

func (c *FixedClock) Now(context.Context) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t.UTC()
}
