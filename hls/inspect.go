package hls

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/deepch/vdk/format/ts"
)

var ErrEmptySegment = errors.New("segment holds no packets")

type SegmentInfo struct {
	Packets   int
	Keyframes int
	// Whether the first packet is a keyframe, so the segment can be played on its own.
	StartsWithKeyframe bool
	// Time span between the first and the last packet.
	Span time.Duration
}

// Inspect demuxes an MPEG-TS segment file.
func Inspect(path string) (*SegmentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return InspectReader(f)
}

func InspectReader(r io.Reader) (*SegmentInfo, error) {
	demuxer := ts.NewDemuxer(r)
	res := &SegmentInfo{}
	var first, last time.Duration
	for {
		pkt, err := demuxer.ReadPacket()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if res.Packets == 0 {
			first = pkt.Time
			res.StartsWithKeyframe = pkt.IsKeyFrame
		}
		last = pkt.Time
		res.Packets++
		if pkt.IsKeyFrame {
			res.Keyframes++
		}
	}
	if res.Packets == 0 {
		return nil, ErrEmptySegment
	}
	res.Span = last - first
	return res, nil
}
