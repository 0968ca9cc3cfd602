package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock_ContextOverride(t *testing.T) {
	pinned := time.Date(2024, time.March, 28, 9, 0, 0, 0, time.UTC)
	ctx := WithTime(context.Background(), pinned)

	assert.Equal(t, pinned, SystemClock{}.Now(ctx))
	assert.WithinDuration(t, time.Now().UTC(), SystemClock{}.Now(context.Background()), time.Minute)
}

func TestFixedClock(t *testing.T) {
	c := NewFixedClock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2024, c.Now(context.Background()).Year())

	c.Set(time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.June, c.Now(context.Background()).Month())
}
