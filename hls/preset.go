package hls

import (
	"fmt"
	"strings"
)

// Preset selects the video codec and its rate control.
type Preset struct {
	Name    string
	Codec   string
	Speed   string
	Tune    string
	Bitrate string
	MaxRate string
	BufSize string
}

var (
	// libx264 on the CPU
	PresetSoftware = Preset{
		Name:    "software",
		Codec:   "libx264",
		Speed:   "veryfast",
		Bitrate: "6M",
		MaxRate: "6M",
		BufSize: "6M",
	}
	// NVENC, low-latency tuning
	PresetHardware = Preset{
		Name:    "hardware",
		Codec:   "h264_nvenc",
		Speed:   "p3",
		Tune:    "ll",
		Bitrate: "6M",
		MaxRate: "6M",
		BufSize: "6M",
	}
)

var Presets = map[string]Preset{
	PresetSoftware.Name: PresetSoftware,
	PresetHardware.Name: PresetHardware,
}

func LookupPreset(name string) (Preset, error) {
	p, ok := Presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, fmt.Errorf("unknown encoder preset %q", name)
	}
	return p, nil
}

// WithBitrate returns a copy with bitrate, cap and buffer size set to rate.
func (p Preset) WithBitrate(rate string) Preset {
	if rate != "" {
		p.Bitrate, p.MaxRate, p.BufSize = rate, rate, rate
	}
	return p
}

func (p Preset) args() []string {
	args := []string{"-c:v", p.Codec}
	if p.Speed != "" {
		args = append(args, "-preset", p.Speed)
	}
	if p.Tune != "" {
		args = append(args, "-tune", p.Tune)
	}
	return append(args,
		"-b:v", p.Bitrate,
		"-maxrate", p.MaxRate,
		"-bufsize", p.BufSize,
	)
}
