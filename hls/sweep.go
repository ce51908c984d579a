package hls

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/greendrake/hlsstream/metrics"
)

func (e *Encoder) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(); err != nil {
				log.Printf("%v sweep: %v", e.id, err)
			}
		}
	}
}

func (c Config) segmentRegexp() *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(c.stem()) + `(\d+)\.ts$`)
}

func (e *Encoder) segmentRegexp() *regexp.Regexp {
	return e.cfg.segmentRegexp()
}

// ResetOutput removes the manifest and the segments of a previous run, creating
// the directory if needed. Other files in the directory are left alone.
func (c Config) ResetOutput() error {
	dir := c.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	name := filepath.Base(c.Output)
	re := c.segmentRegexp()
	for _, entry := range entries {
		n := entry.Name()
		if entry.IsDir() || (n != name && n != name+".tmp" && !re.MatchString(n)) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, n)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Sweep reads the manifest and removes segment files that fell out of it.
// Only files older than the first referenced segment are removed: a file newer
// than the last entry is still being written. Returns the number of files deleted.
func (e *Encoder) Sweep() (int, error) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	pl, err := ReadPlaylist(e.cfg.Output)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read manifest: %w", err)
	}
	e.mu.Lock()
	e.playlist = pl
	e.mu.Unlock()
	metrics.SegmentsRetained.Set(float64(len(pl.Segments)))

	first, _, ok := pl.Span()
	if !ok {
		return 0, nil
	}
	entries, err := os.ReadDir(e.cfg.dir())
	if err != nil {
		return 0, err
	}
	re := e.segmentRegexp()
	deleted := 0
	for _, entry := range entries {
		m := re.FindStringSubmatch(entry.Name())
		if m == nil || pl.Contains(entry.Name()) {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil || seq >= first {
			continue
		}
		err = os.Remove(filepath.Join(e.cfg.dir(), entry.Name()))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return deleted, err
		}
		if err == nil {
			deleted++
			metrics.SegmentsDeleted.Inc()
		}
	}
	if e.cfg.VerifySegments {
		e.verify(pl)
	}
	return deleted, nil
}

func (e *Encoder) verify(pl *Playlist) {
	for _, seg := range pl.Segments {
		if seg.Sequence <= e.lastVerified {
			continue
		}
		e.lastVerified = seg.Sequence
		res, err := Inspect(filepath.Join(e.cfg.dir(), seg.URI))
		if err != nil {
			log.Printf("%v inspect %v: %v", e.id, seg.URI, err)
			continue
		}
		if !res.StartsWithKeyframe {
			log.Printf("%v segment %v does not start on a keyframe", e.id, seg.URI)
		}
	}
}

// Playlist returns the manifest as of the last sweep, nil before the first one.
func (e *Encoder) Playlist() *Playlist {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playlist
}
