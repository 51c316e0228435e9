package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockZero(t *testing.T) {
	t.Parallel()
	c := New()
	assert.False(t, c.Synced())
	assert.Equal(t, time.Duration(0), c.Offset())
	d := time.Since(c.Now())
	assert.True(t, d > -time.Second && d < time.Second, "uncorrected drift d=%v", d)
}

func TestClockSet(t *testing.T) {
	t.Parallel()
	c := New()
	target := time.Date(2020, 3, 14, 15, 9, 26, 0, time.UTC)
	c.Set(target)
	assert.True(t, c.Synced())
	diff := c.Now().Sub(target)
	assert.True(t, diff >= 0 && diff < time.Second, "diff=%v", diff)
	assert.True(t, c.SinceSync() < time.Second)

	// step forward, Now follows without touching OS clock
	c.Set(target.Add(time.Hour))
	diff = c.Now().Sub(target.Add(time.Hour))
	assert.True(t, diff >= 0 && diff < time.Second, "diff=%v", diff)
}
