package frame

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/greendrake/hlsstream/ratelimit"
	"github.com/greendrake/hlsstream/util"
)

var (
	Black = RGB{0, 0, 0}
	White = RGB{255, 255, 255}
	// Colour of the indicator band while no marker event is active.
	Inactive = RGB{0, 255, 255}
	// Colour of the indicator band during a marker event.
	Active = RGB{255, 0, 0}
)

// Ticker yields strictly increasing elapsed seconds, blocking between calls.
type Ticker interface {
	Next() float64
}

type SourceConfig struct {
	Shape Shape
	// Columns the image moves right per tick.
	Roll      int
	BlockSize int
	Frequency float64
	// Mean wait between marker events (exponential inter-arrival).
	EventMean     time.Duration
	EventDuration time.Duration
	Seed          int64
}

// Event is one scheduled marker window on the wall clock.
type Event struct {
	Start time.Time
	End   time.Time
	Label string
}

func (e Event) Contains(t time.Time) bool {
	return !t.Before(e.Start) && t.Before(e.End)
}

// Sample is one emission of the Source.
type Sample struct {
	Tick         float64
	Frame        *Frame
	MarkerActive bool
}

// Source generates a horizontally rolling checkerboard with a marker indicator
// band painted into its first BlockSize columns.
type Source struct {
	cfg       SourceConfig
	base      *Frame
	out       *Frame
	totalRoll int
	ticker    Ticker
	now       func() time.Time
	rnd       *rand.Rand
	event     *Event
	painted   RGB
	events    int
}

type Option func(*Source)

// WithTicker replaces the rate limiter that paces the source.
func WithTicker(t Ticker) Option {
	return func(s *Source) {
		s.ticker = t
	}
}

// WithClock replaces the wall clock used for marker event scheduling.
func WithClock(now func() time.Time) Option {
	return func(s *Source) {
		s.now = now
	}
}

func NewSource(cfg SourceConfig, opts ...Option) (*Source, error) {
	if err := cfg.Shape.Validate(); err != nil {
		return nil, err
	}
	if cfg.BlockSize <= 0 {
		return nil, util.Invalid("block size", "must be positive, got %d", cfg.BlockSize)
	}
	if cfg.EventDuration <= 0 {
		return nil, util.Invalid("event duration", "must be positive, got %v", cfg.EventDuration)
	}
	if cfg.EventMean < 0 {
		return nil, util.Invalid("event mean", "must not be negative, got %v", cfg.EventMean)
	}
	s := &Source{
		cfg:  cfg,
		base: Checkerboard(cfg.Shape, cfg.BlockSize),
		out:  New(cfg.Shape),
		now:  time.Now,
		rnd:  rand.New(rand.NewSource(cfg.Seed)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ticker == nil {
		limiter, err := ratelimit.New(cfg.Frequency)
		if err != nil {
			return nil, err
		}
		s.ticker = limiter
	}
	s.paint(Inactive)
	return s, nil
}

// Checkerboard builds the base pattern: blocks whose row and column parity
// differ are white, the rest black.
func Checkerboard(shape Shape, block int) *Frame {
	f := New(shape)
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			if (y/block+x/block)%2 == 1 {
				f.Set(y, x, White)
			}
		}
	}
	return f
}

// Base returns the current unshifted image including the indicator band.
func (s *Source) Base() *Frame {
	return s.base
}

// Event returns the currently scheduled marker event, if any.
func (s *Source) Event() *Event {
	return s.event
}

// Next waits for the next tick and returns the frame for it. The returned
// frame is reused by the following call; copy it to keep it.
func (s *Source) Next() Sample {
	tick := s.ticker.Next()
	active := s.updateEvent(s.now())
	RollInto(s.out, s.base, s.totalRoll)
	s.totalRoll = (s.totalRoll + s.cfg.Roll) % s.cfg.Shape.Width
	return Sample{
		Tick:         tick,
		Frame:        s.out,
		MarkerActive: active,
	}
}

func (s *Source) updateEvent(now time.Time) bool {
	if s.event == nil || !now.Before(s.event.End) {
		s.schedule(now)
		s.paint(Inactive)
	}
	if s.event.Contains(now) {
		s.paint(Active)
		return true
	}
	return false
}

func (s *Source) schedule(now time.Time) {
	wait := time.Duration(s.rnd.ExpFloat64() * float64(s.cfg.EventMean))
	start := now.Add(wait)
	s.events++
	s.event = &Event{
		Start: start,
		End:   start.Add(s.cfg.EventDuration),
		Label: fmt.Sprintf("Event %d", s.events),
	}
}

func (s *Source) paint(c RGB) {
	if s.painted == c {
		return
	}
	s.painted = c
	w := min(s.cfg.BlockSize, s.cfg.Shape.Width)
	for y := 0; y < s.cfg.Shape.Height; y++ {
		for x := 0; x < w; x++ {
			s.base.Set(y, x, c)
		}
	}
}
