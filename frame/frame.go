package frame

import (
	"fmt"

	"github.com/greendrake/hlsstream/util"
)

// Bytes per pixel of the rgb24 layout.
const Channels = 3

type Shape struct {
	Height int `yaml:"Height"`
	Width  int `yaml:"Width"`
}

func (s Shape) Validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return util.Invalid("shape", "%dx%d must be positive in both dimensions", s.Width, s.Height)
	}
	return nil
}

// Size of one rgb24 frame in bytes.
func (s Shape) Size() int {
	return s.Height * s.Width * Channels
}

// The ffmpeg -s notation, width first.
func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

type RGB [Channels]uint8

// Frame is a row-major rgb24 image.
type Frame struct {
	Shape Shape
	Pix   []byte
}

func New(shape Shape) *Frame {
	return &Frame{
		Shape: shape,
		Pix:   make([]byte, shape.Size()),
	}
}

func (f *Frame) offset(y, x int) int {
	return (y*f.Shape.Width + x) * Channels
}

func (f *Frame) At(y, x int) RGB {
	o := f.offset(y, x)
	return RGB{f.Pix[o], f.Pix[o+1], f.Pix[o+2]}
}

func (f *Frame) Set(y, x int, c RGB) {
	o := f.offset(y, x)
	copy(f.Pix[o:o+Channels], c[:])
}

// Bytes returns the raw rgb24 layout an encoder reads from its input pipe.
func (f *Frame) Bytes() []byte {
	return f.Pix
}

func (f *Frame) Clone() *Frame {
	c := &Frame{Shape: f.Shape, Pix: make([]byte, len(f.Pix))}
	copy(c.Pix, f.Pix)
	return c
}

// FromBytes reads a frame back from the rgb24 layout. The data is copied.
func FromBytes(shape Shape, data []byte) (*Frame, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.Size() {
		return nil, fmt.Errorf("frame %v needs %d bytes, got %d", shape, shape.Size(), len(data))
	}
	f := New(shape)
	copy(f.Pix, data)
	return f, nil
}

// RollInto writes src shifted right by n columns into dst, wrapping around the width.
func RollInto(dst, src *Frame, n int) {
	w := src.Shape.Width
	n %= w
	if n < 0 {
		n += w
	}
	row := w * Channels
	cut := (w - n) * Channels
	for y := 0; y < src.Shape.Height; y++ {
		s := src.Pix[y*row : (y+1)*row]
		d := dst.Pix[y*row : (y+1)*row]
		copy(d[n*Channels:], s[:cut])
		copy(d[:n*Channels], s[cut:])
	}
}
