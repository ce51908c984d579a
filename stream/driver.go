// Package stream drives one run of the pipeline: frames from the source go to
// the encoder, and rising edges of the marker flag are published to the
// marker cache.
package stream

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/greendrake/hlsstream/frame"
	"github.com/greendrake/hlsstream/marker"
	"github.com/greendrake/hlsstream/metrics"
	"github.com/greendrake/hlsstream/util"
)

type Source interface {
	Next() frame.Sample
}

type Encoder interface {
	Encode(f *frame.Frame) (float64, error)
}

type Publisher interface {
	Set(key string, value any) error
}

type Driver struct {
	src Source
	enc Encoder
	pub Publisher
	fps float64

	frames     int64
	prevActive bool
	markers    []marker.Marker
	started    bool
}

func New(src Source, enc Encoder, pub Publisher, fps float64) (*Driver, error) {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return nil, util.Invalid("frequency", "must be a positive number, got %v", fps)
	}
	return &Driver{
		src:     src,
		enc:     enc,
		pub:     pub,
		fps:     fps,
		markers: []marker.Marker{},
	}, nil
}

// Start resets the published marker list to empty.
func (d *Driver) Start() error {
	if err := d.pub.Set(marker.Key, d.markers); err != nil {
		return fmt.Errorf("reset markers: %w", err)
	}
	d.started = true
	return nil
}

// VirtualTime is the encoded-media time of the last frame handed to the encoder.
func (d *Driver) VirtualTime() float64 {
	return float64(d.frames) / d.fps
}

// Markers returns a copy of everything published so far.
func (d *Driver) Markers() []marker.Marker {
	return append([]marker.Marker(nil), d.markers...)
}

// Step pulls one sample, encodes it and, on a rising edge of the marker
// flag, appends and republishes a marker. The new marker is returned if any.
func (d *Driver) Step() (*marker.Marker, error) {
	if !d.started {
		if err := d.Start(); err != nil {
			return nil, err
		}
	}
	s := d.src.Next()
	if _, err := d.enc.Encode(s.Frame); err != nil {
		return nil, err
	}
	d.frames++
	rising := s.MarkerActive && !d.prevActive
	d.prevActive = s.MarkerActive
	if !rising {
		return nil, nil
	}
	m := marker.Marker{
		Time: d.VirtualTime(),
		Text: fmt.Sprintf("Marker %d", len(d.markers)+1),
	}
	d.markers = append(d.markers, m)
	if err := d.pub.Set(marker.Key, d.markers); err != nil {
		return nil, fmt.Errorf("publish %v: %w", m.Text, err)
	}
	metrics.MarkersPublished.Inc()
	log.Printf("Stream: %v at %.3fs (tick %.3fs)", m.Text, m.Time, s.Tick)
	return &m, nil
}

// Run steps until ctx is done or a step fails. Cancellation is observed
// between frames only.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if _, err := d.Step(); err != nil {
			return err
		}
	}
}
