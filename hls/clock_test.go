package hls

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock(t *testing.T) {
	c, err := NewClock(25)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.Equal(t, int64(40*i), c.Advance().Milliseconds())
	}
	c.Reset()
	assert.Zero(t, c.Now())

	_, err = NewClock(0)
	assert.Error(t, err)
}

func TestClock_NoDrift(t *testing.T) {
	for _, fps := range []int{7, 24, 25, 29, 30, 60, 90} {
		t.Run(fmt.Sprintf("%dfps", fps), func(t *testing.T) {
			c, err := NewClock(fps)
			require.NoError(t, err)
			frames := fps * 3600
			var prev time.Duration = -1
			for n := 0; n < frames; n++ {
				pts := c.Advance()
				want := time.Duration(float64(n) / float64(fps) * float64(time.Second))
				if pts <= prev || (pts-want).Abs() > time.Microsecond {
					require.Failf(t, "clock off", "frame %d: pts %v, want %v, previous %v", n, pts, want, prev)
				}
				prev = pts
			}
			assert.Equal(t, time.Hour, c.Now())
		})
	}
}
