package hls

import (
	"fmt"
	"time"
)

// Clock is the synthetic presentation clock: frame n is at n/FPS seconds.
// Each timestamp is computed from the frame count, so nothing accumulates.
type Clock struct {
	FPS    int
	frames int64
}

func NewClock(fps int) (*Clock, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("clock needs a positive frame rate, got %d", fps)
	}
	return &Clock{FPS: fps}, nil
}

// At is the presentation time of frame n.
func (c *Clock) At(n int64) time.Duration {
	fps := int64(c.FPS)
	return time.Duration(n/fps)*time.Second + time.Duration(n%fps)*time.Second/time.Duration(fps)
}

// Now is the presentation time of the next frame.
func (c *Clock) Now() time.Duration {
	return c.At(c.frames)
}

// Advance returns the presentation time of the current frame and moves past it.
func (c *Clock) Advance() time.Duration {
	pts := c.At(c.frames)
	c.frames++
	return pts
}

func (c *Clock) Reset() {
	c.frames = 0
}
