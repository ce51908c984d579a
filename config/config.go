// Package config reads config.yaml and turns it into component settings.
package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/greendrake/hlsstream/frame"
	"github.com/greendrake/hlsstream/hls"
	"github.com/greendrake/hlsstream/util"
	"gopkg.in/yaml.v3"
)

const DefaultFile = "config.yaml"

const (
	BackendNative = "native"
	BackendRedis  = "redis"
)

type Config struct {
	Stream  StreamConfig  `yaml:"Stream"`
	Encoder EncoderConfig `yaml:"Encoder"`
	Cache   CacheConfig   `yaml:"Cache"`
	Web     WebConfig     `yaml:"Web"`
}

type StreamConfig struct {
	Height    int `yaml:"Height"`
	Width     int `yaml:"Width"`
	FPS       int `yaml:"FPS"`
	BlockSize int `yaml:"BlockSize"`
	// Seconds for the picture to travel its full width.
	RollSeconds   float64       `yaml:"RollSeconds"`
	EventMean     time.Duration `yaml:"EventMean"`
	EventDuration time.Duration `yaml:"EventDuration"`
	Seed          int64         `yaml:"Seed"`
	// Empty disables the metrics listener of the stream process.
	MetricsAddr string `yaml:"MetricsAddr"`
}

type EncoderConfig struct {
	Binary         string        `yaml:"Binary"`
	Output         string        `yaml:"Output"`
	SegmentSeconds int           `yaml:"SegmentSeconds"`
	ListSize       int           `yaml:"ListSize"`
	Preset         string        `yaml:"Preset"`
	Bitrate        string        `yaml:"Bitrate"`
	WallClockPTS   bool          `yaml:"WallClockPTS"`
	Timecode       bool          `yaml:"Timecode"`
	SweepInterval  time.Duration `yaml:"SweepInterval"`
	VerifySegments bool          `yaml:"VerifySegments"`
}

type CacheConfig struct {
	Backend string `yaml:"Backend"`
	Address string `yaml:"Address"`
	Port    int    `yaml:"Port"`
	Secret  string `yaml:"Secret"`
}

type WebConfig struct {
	Address   string `yaml:"Address"`
	StaticDir string `yaml:"StaticDir"`
	VideoDir  string `yaml:"VideoDir"`
	// How often websocket subscribers are checked for new markers.
	PushInterval time.Duration `yaml:"PushInterval"`
}

func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			Height:        180,
			Width:         320,
			FPS:           30,
			BlockSize:     20,
			RollSeconds:   30,
			EventMean:     10 * time.Second,
			EventDuration: 2 * time.Second,
		},
		Encoder: EncoderConfig{
			Binary:         "ffmpeg",
			Output:         "video/chessboard.m3u8",
			SegmentSeconds: 5,
			ListSize:       120,
			Preset:         hls.PresetSoftware.Name,
			SweepInterval:  time.Second,
		},
		Cache: CacheConfig{
			Backend: BackendNative,
			Address: "127.0.0.1",
			Port:    5001,
			Secret:  "password",
		},
		Web: WebConfig{
			Address:      "127.0.0.1:5000",
			StaticDir:    "static",
			VideoDir:     "video",
			PushInterval: time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if err := c.Shape().Validate(); err != nil {
		return err
	}
	if c.Stream.FPS <= 0 {
		return util.Invalid("Stream.FPS", "must be positive, got %d", c.Stream.FPS)
	}
	if c.Stream.RollSeconds <= 0 {
		return util.Invalid("Stream.RollSeconds", "must be positive, got %v", c.Stream.RollSeconds)
	}
	if _, err := c.EncoderConfig(); err != nil {
		return err
	}
	if _, err := c.SourceConfig(); err != nil {
		return err
	}
	switch c.Cache.Backend {
	case BackendNative, BackendRedis:
	default:
		return util.Invalid("Cache.Backend", "%q is neither %q nor %q", c.Cache.Backend, BackendNative, BackendRedis)
	}
	if c.Cache.Port <= 0 || c.Cache.Port > 65535 {
		return util.Invalid("Cache.Port", "%d out of range", c.Cache.Port)
	}
	if _, _, err := net.SplitHostPort(c.Web.Address); err != nil {
		return util.Invalid("Web.Address", "%v", err)
	}
	if c.Web.PushInterval <= 0 {
		return util.Invalid("Web.PushInterval", "must be positive, got %v", c.Web.PushInterval)
	}
	return nil
}

func (c *Config) Shape() frame.Shape {
	return frame.Shape{Height: c.Stream.Height, Width: c.Stream.Width}
}

// Roll is the per-frame shift in columns that moves the picture across its
// width in RollSeconds.
func (c *Config) Roll() int {
	return int(math.Ceil(float64(c.Stream.Width) / (c.Stream.RollSeconds * float64(c.Stream.FPS))))
}

func (c *Config) SourceConfig() (frame.SourceConfig, error) {
	sc := frame.SourceConfig{
		Shape:         c.Shape(),
		Roll:          c.Roll(),
		BlockSize:     c.Stream.BlockSize,
		Frequency:     float64(c.Stream.FPS),
		EventMean:     c.Stream.EventMean,
		EventDuration: c.Stream.EventDuration,
		Seed:          c.Stream.Seed,
	}
	if sc.BlockSize <= 0 {
		return sc, util.Invalid("Stream.BlockSize", "must be positive, got %d", sc.BlockSize)
	}
	if sc.EventDuration <= 0 {
		return sc, util.Invalid("Stream.EventDuration", "must be positive, got %v", sc.EventDuration)
	}
	if sc.EventMean < 0 {
		return sc, util.Invalid("Stream.EventMean", "must not be negative, got %v", sc.EventMean)
	}
	return sc, nil
}

func (c *Config) EncoderConfig() (hls.Config, error) {
	preset, err := hls.LookupPreset(c.Encoder.Preset)
	if err != nil {
		return hls.Config{}, util.Invalid("Encoder.Preset", "%v", err)
	}
	ec := hls.Config{
		Output:         c.Encoder.Output,
		Shape:          c.Shape(),
		FPS:            c.Stream.FPS,
		SegmentSeconds: c.Encoder.SegmentSeconds,
		ListSize:       c.Encoder.ListSize,
		Preset:         preset.WithBitrate(c.Encoder.Bitrate),
		WallClockPTS:   c.Encoder.WallClockPTS,
		Timecode:       c.Encoder.Timecode,
		Binary:         c.Encoder.Binary,
		SweepInterval:  c.Encoder.SweepInterval,
		VerifySegments: c.Encoder.VerifySegments,
	}
	return ec, ec.Validate()
}

// CacheAddr is the host:port of the marker cache.
func (c *Config) CacheAddr() string {
	return net.JoinHostPort(c.Cache.Address, strconv.Itoa(c.Cache.Port))
}
