// Package ratelimit paces a loop at a target frequency.
//
// A Limiter hands out generator-relative elapsed times, one per call to Next.
// The first call returns immediately; every following call blocks until the
// next period boundary. Long waits sleep, short ones spin. When the caller
// overruns a period the boundary is not moved, so subsequent calls return
// without waiting until the schedule is caught up again.
package ratelimit

import (
	"log"
	"math"
	"runtime"
	"time"

	"github.com/greendrake/hlsstream/metrics"
	"github.com/greendrake/hlsstream/util"
)

// Waits longer than this are slept, shorter ones are spun.
const CoarseThreshold = 100 * time.Millisecond

type Limiter struct {
	period  time.Duration
	start   time.Time
	next    time.Time
	started bool
	// true while an overrun episode is in progress
	warned  bool
	emitted bool
	last    float64

	now   func() time.Time
	sleep func(time.Duration)
}

func New(frequency float64) (*Limiter, error) {
	if math.IsNaN(frequency) || math.IsInf(frequency, 0) || frequency <= 0 {
		return nil, util.Invalid("frequency", "must be a positive finite number, got %v", frequency)
	}
	return &Limiter{
		period: time.Duration(float64(time.Second) / frequency),
		now:    time.Now,
		sleep:  time.Sleep,
	}, nil
}

func (l *Limiter) Period() time.Duration {
	return l.period
}

// Next blocks until the next period boundary and returns the seconds elapsed
// since the first call. Values are strictly increasing.
func (l *Limiter) Next() float64 {
	if !l.started {
		l.started = true
		l.start = l.now()
		l.next = l.start.Add(l.period)
		return l.elapsed(l.start)
	}
	remain := l.next.Sub(l.now())
	switch {
	case remain > CoarseThreshold:
		l.sleep(remain)
		l.warned = false
	case remain > 0:
		l.spinUntil(l.next)
		l.warned = false
	case remain < 0:
		metrics.RateOverruns.Inc()
		if !l.warned {
			l.warned = true
			log.Printf("Rate limiter: too slow at %.3fs, behind by %v", l.last, -remain)
		}
	}
	l.next = l.next.Add(l.period)
	return l.elapsed(l.now())
}

func (l *Limiter) spinUntil(t time.Time) {
	for l.now().Before(t) {
		runtime.Gosched()
	}
}

func (l *Limiter) elapsed(t time.Time) float64 {
	v := t.Sub(l.start).Seconds()
	// a coarse clock can report the same instant twice
	if l.emitted && v <= l.last {
		v = math.Nextafter(l.last, math.Inf(1))
	}
	l.emitted = true
	l.last = v
	return v
}
