// Package hls wraps an external ffmpeg process that turns raw rgb24 frames
// into a rolling HLS playlist with a bounded number of segments.
package hls

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/greendrake/hlsstream/frame"
	"github.com/greendrake/hlsstream/metrics"
	"github.com/greendrake/hlsstream/util"
)

const defaultStopTimeout = 10 * time.Second

var (
	ErrEncodingFailure = errors.New("encoding failure")
	ErrNotOpen         = errors.New("encoder is not open")
	ErrAlreadyOpen     = errors.New("encoder is already open")
)

// EncodingError reports a crashed encoder process or a broken input pipe.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrEncodingFailure, e.Op, e.Err)
}

func (e *EncodingError) Unwrap() []error {
	return []error{ErrEncodingFailure, e.Err}
}

type Config struct {
	// Manifest path. Segments are written next to it.
	Output string
	Shape  frame.Shape
	FPS    int
	// Segment duration in seconds.
	SegmentSeconds int
	// Maximum number of segments kept in the manifest and on disk.
	ListSize int
	Preset   Preset
	// Timestamp frames with the wall clock instead of the synthetic frame clock.
	WallClockPTS bool
	// Burn a running timecode into the picture.
	Timecode bool
	Binary   string
	// Zero disables the retention sweeper.
	SweepInterval  time.Duration
	VerifySegments bool
	StopTimeout    time.Duration
}

func (c Config) Validate() error {
	if c.Output == "" {
		return util.Invalid("output", "manifest path is empty")
	}
	if filepath.Ext(c.Output) != ".m3u8" {
		return util.Invalid("output", "%q must end in .m3u8", c.Output)
	}
	if err := c.Shape.Validate(); err != nil {
		return err
	}
	if c.FPS <= 0 {
		return util.Invalid("frame rate", "must be positive, got %d", c.FPS)
	}
	if c.SegmentSeconds <= 0 {
		return util.Invalid("segment duration", "must be positive, got %d", c.SegmentSeconds)
	}
	if c.ListSize <= 0 {
		return util.Invalid("list size", "must be positive, got %d", c.ListSize)
	}
	if c.Preset.Codec == "" {
		return util.Invalid("preset", "no codec selected")
	}
	return nil
}

// KeyframeInterval is the GOP length. Equal to frames per segment so every
// segment boundary lands on a keyframe.
func (c Config) KeyframeInterval() int {
	return c.SegmentSeconds * c.FPS
}

func (c Config) dir() string {
	return filepath.Dir(c.Output)
}

func (c Config) stem() string {
	return strings.TrimSuffix(filepath.Base(c.Output), filepath.Ext(c.Output))
}

// SegmentPattern is the ffmpeg file name template of media segments.
func (c Config) SegmentPattern() string {
	return filepath.Join(c.dir(), c.stem()+"%d.ts")
}

// Args builds the ffmpeg command line.
func (c Config) Args() []string {
	args := []string{
		"-hide_banner", "-loglevel", "warning", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", c.Shape.String(),
		"-framerate", strconv.Itoa(c.FPS),
	}
	if c.WallClockPTS {
		args = append(args, "-use_wallclock_as_timestamps", "1")
	}
	args = append(args, "-i", "pipe:")
	if c.Timecode {
		args = append(args, "-vf", c.timecodeFilter())
	}
	args = append(args, c.Preset.args()...)
	nkey := strconv.Itoa(c.KeyframeInterval())
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-g", nkey,
		"-keyint_min", nkey,
		"-f", "hls",
		"-hls_time", strconv.Itoa(c.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(c.ListSize),
		"-hls_flags", "delete_segments",
		"-start_number", "0",
		"-hls_segment_filename", c.SegmentPattern(),
		c.Output,
	)
	return args
}

func (c Config) timecodeFilter() string {
	opts := []string{
		`timecode='00\:00\:00\:00'`,
		"timecode_rate=" + strconv.Itoa(c.FPS),
		"fontsize=(h/10)",
		"x=(w-text_w)/2",
		"y=h*0.8",
		"fontcolor=white",
		"box=1",
		"boxcolor=black",
	}
	return "drawtext=" + strings.Join(opts, ":")
}

// Encoder owns one ffmpeg process between Open and Close.
type Encoder struct {
	cfg    Config
	launch Launcher
	id     string

	proc    Process
	clock   *Clock
	exited  chan struct{}
	exitErr error

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	sweepMu      sync.Mutex
	lastVerified int
	mu           sync.Mutex
	playlist     *Playlist
}

type Option func(*Encoder)

func WithLauncher(l Launcher) Option {
	return func(e *Encoder) {
		e.launch = l
	}
}

func New(cfg Config, opts ...Option) (*Encoder, error) {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock, err := NewClock(cfg.FPS)
	if err != nil {
		return nil, err
	}
	e := &Encoder{
		cfg:          cfg,
		launch:       ExecLauncher,
		id:           "Encoder [" + cfg.Output + "]",
		clock:        clock,
		lastVerified: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Encoder) Config() Config {
	return e.cfg
}

// Open starts the encoder process and, if configured, the retention sweeper.
func (e *Encoder) Open(ctx context.Context) error {
	if e.proc != nil {
		return ErrAlreadyOpen
	}
	proc, err := e.launch(ctx, e.cfg.Binary, e.cfg.Args())
	if err != nil {
		return &EncodingError{Op: "start", Err: err}
	}
	e.proc = proc
	e.clock.Reset()
	e.exitErr = nil
	e.exited = make(chan struct{})
	go func(exited chan struct{}) {
		e.exitErr = proc.Wait()
		close(exited)
	}(e.exited)
	log.Printf("%v started, pid %d", e.id, proc.Pid())

	if e.cfg.SweepInterval > 0 {
		sweepCtx, cancel := context.WithCancel(ctx)
		e.sweepCancel = cancel
		e.sweepDone = make(chan struct{})
		go e.sweepLoop(sweepCtx, e.sweepDone)
	}
	return nil
}

// Encode writes one frame to the encoder and returns its presentation time in seconds.
func (e *Encoder) Encode(f *frame.Frame) (float64, error) {
	if e.proc == nil {
		return 0, &EncodingError{Op: "encode", Err: ErrNotOpen}
	}
	if f.Shape != e.cfg.Shape {
		return 0, util.Invalid("frame", "shape %v does not match encoder shape %v", f.Shape, e.cfg.Shape)
	}
	select {
	case <-e.exited:
		return 0, &EncodingError{Op: "encode", Err: e.exitReason()}
	default:
	}
	var pts float64
	if e.cfg.WallClockPTS {
		pts = float64(time.Now().UnixNano()) / float64(time.Second)
	} else {
		pts = e.clock.Advance().Seconds()
	}
	if _, err := e.proc.Stdin().Write(f.Bytes()); err != nil {
		select {
		case <-e.exited:
			err = fmt.Errorf("%w (%v)", e.exitReason(), err)
		default:
		}
		return 0, &EncodingError{Op: "write", Err: err}
	}
	metrics.FramesEncoded.Inc()
	return pts, nil
}

func (e *Encoder) exitReason() error {
	if e.exitErr != nil {
		return fmt.Errorf("encoder process exited: %w", e.exitErr)
	}
	return errors.New("encoder process exited")
}

// Close ends the input stream and waits for the process to finish writing.
// A process that does not exit within StopTimeout is killed.
func (e *Encoder) Close() error {
	if e.proc == nil {
		return nil
	}
	if e.sweepCancel != nil {
		e.sweepCancel()
		<-e.sweepDone
		e.sweepCancel = nil
	}
	proc := e.proc
	e.proc = nil
	closeErr := proc.Stdin().Close()

	select {
	case <-e.exited:
	case <-time.After(e.cfg.StopTimeout):
		log.Printf("%v did not exit within %v, killing pid %d", e.id, e.cfg.StopTimeout, proc.Pid())
		if err := proc.Kill(); err != nil {
			log.Printf("%v kill failed: %v", e.id, err)
		}
		<-e.exited
	}
	log.Printf("%v stopped", e.id)
	if e.exitErr != nil {
		return &EncodingError{Op: "close", Err: e.exitErr}
	}
	if closeErr != nil {
		return &EncodingError{Op: "close", Err: closeErr}
	}
	return nil
}
