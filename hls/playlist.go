package hls

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/grafov/m3u8"
)

// ContentType is the MIME type of the manifest.
const ContentType = "application/x-mpegURL"

// SegmentContentType is the MIME type of MPEG-TS media segments.
const SegmentContentType = "video/MP2T"

var ErrNotPlaylist = errors.New("not an m3u8 playlist")

// Segment is one manifest entry.
type Segment struct {
	URI      string
	Duration float64
	Sequence int
}

// Playlist is the part of a decoded media manifest the sweep and the HTTP layer use.
type Playlist struct {
	Version        int
	TargetDuration int
	MediaSequence  int
	Segments       []Segment
	Ended          bool
}

func (p *Playlist) Contains(uri string) bool {
	for _, s := range p.Segments {
		if s.URI == uri {
			return true
		}
	}
	return false
}

// Span returns the first and last referenced sequence numbers, or ok=false
// when the playlist is empty.
func (p *Playlist) Span() (first, last int, ok bool) {
	if len(p.Segments) == 0 {
		return 0, 0, false
	}
	return p.Segments[0].Sequence, p.Segments[len(p.Segments)-1].Sequence, true
}

func ReadPlaylist(path string) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a media playlist into the view the retention logic needs.
func Parse(r io.Reader) (*Playlist, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("#EXTM3U")) {
		return nil, ErrNotPlaylist
	}
	decoded, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	media, ok := decoded.(*m3u8.MediaPlaylist)
	if listType != m3u8.MEDIA || !ok {
		return nil, fmt.Errorf("%w: not a media playlist", ErrNotPlaylist)
	}
	p := &Playlist{
		Version:        int(media.Version()),
		TargetDuration: int(math.Ceil(media.TargetDuration)),
		MediaSequence:  int(media.SeqNo),
		Ended:          media.Closed,
	}
	for _, seg := range media.Segments {
		if seg == nil || uint(len(p.Segments)) == media.Count() {
			break
		}
		p.Segments = append(p.Segments, Segment{
			URI:      seg.URI,
			Duration: seg.Duration,
			Sequence: p.MediaSequence + len(p.Segments),
		})
	}
	return p, nil
}
