package stream

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/greendrake/hlsstream/config"
	"github.com/greendrake/hlsstream/frame"
	"github.com/greendrake/hlsstream/hls"
)

// Run wires a source and an encoder from c and drives them until ctx is done
// or something fails. The encoder process is closed on every exit path.
func Run(ctx context.Context, c *config.Config, pub Publisher, opts ...hls.Option) (err error) {
	sc, err := c.SourceConfig()
	if err != nil {
		return err
	}
	src, err := frame.NewSource(sc)
	if err != nil {
		return err
	}
	ec, err := c.EncoderConfig()
	if err != nil {
		return err
	}
	if err := ec.ResetOutput(); err != nil {
		return fmt.Errorf("reset output: %w", err)
	}
	enc, err := hls.New(ec, opts...)
	if err != nil {
		return err
	}
	if err := enc.Open(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, enc.Close())
	}()

	d, err := New(src, enc, pub, sc.Frequency)
	if err != nil {
		return err
	}
	log.Printf("Stream: %v at %v fps, roll %d px/frame, into %v", sc.Shape, c.Stream.FPS, sc.Roll, ec.Output)
	return d.Run(ctx)
}
