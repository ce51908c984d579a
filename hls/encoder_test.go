package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/greendrake/hlsstream/frame"
	"github.com/greendrake/hlsstream/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcess stands in for ffmpeg: it reads rgb24 frames from its stdin and,
// when segmenting, writes one segment file per KeyframeInterval frames plus a
// manifest holding the newest ListSize entries. Old segment files are left on
// disk so the sweep has something to do.
type fakeProcess struct {
	cfg      Config
	r        *io.PipeReader
	w        *io.PipeWriter
	done     chan struct{}
	err      error
	segment  bool
	failures int // exit with an error after this many frames, 0 = never

	mu     sync.Mutex
	frames [][]byte
	args   []string
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.w }
func (p *fakeProcess) Pid() int              { return 4242 }

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *fakeProcess) Kill() error {
	p.r.CloseWithError(errors.New("killed"))
	return nil
}

func (p *fakeProcess) run() {
	defer close(p.done)
	size := p.cfg.Shape.Size()
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(p.r, buf); err != nil {
			if err != io.EOF {
				p.err = err
			}
			return
		}
		p.mu.Lock()
		p.frames = append(p.frames, buf)
		n := len(p.frames)
		p.mu.Unlock()
		if p.segment && n%p.cfg.KeyframeInterval() == 0 {
			p.writeSegment(n/p.cfg.KeyframeInterval() - 1)
		}
		if p.failures > 0 && n >= p.failures {
			p.err = errors.New("exit status 1")
			p.r.CloseWithError(p.err)
			return
		}
	}
}

func (p *fakeProcess) writeSegment(seq int) {
	dir := p.cfg.dir()
	name := fmt.Sprintf("%s%d.ts", p.cfg.stem(), seq)
	_ = os.WriteFile(filepath.Join(dir, name), []byte("segment"), 0o644)

	first := max(0, seq-p.cfg.ListSize+1)
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:%d\n", p.cfg.SegmentSeconds, first)
	for i := first; i <= seq; i++ {
		fmt.Fprintf(&b, "#EXTINF:%d.000000,\n%s%d.ts\n", p.cfg.SegmentSeconds, p.cfg.stem(), i)
	}
	// write-then-rename, like ffmpeg
	tmp := p.cfg.Output + ".tmp"
	_ = os.WriteFile(tmp, []byte(b.String()), 0o644)
	_ = os.Rename(tmp, p.cfg.Output)
}

func (p *fakeProcess) received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

type fakeLauncher struct {
	segment  bool
	failures int
	last     *fakeProcess
	binary   string
}

func (l *fakeLauncher) launch(cfg Config) Launcher {
	return func(ctx context.Context, name string, args []string) (Process, error) {
		r, w := io.Pipe()
		p := &fakeProcess{cfg: cfg, r: r, w: w, done: make(chan struct{}), segment: l.segment, failures: l.failures, args: args}
		l.last = p
		l.binary = name
		go p.run()
		return p, nil
	}
}

func testConfig(t *testing.T) Config {
	return Config{
		Output:         filepath.Join(t.TempDir(), "live.m3u8"),
		Shape:          frame.Shape{Height: 4, Width: 6},
		FPS:            25,
		SegmentSeconds: 1,
		ListSize:       3,
		Preset:         PresetSoftware,
		StopTimeout:    time.Second,
	}
}

func newTestEncoder(t *testing.T, cfg Config, l *fakeLauncher) *Encoder {
	enc, err := New(cfg, WithLauncher(l.launch(cfg)))
	require.NoError(t, err)
	require.NoError(t, enc.Open(context.Background()))
	t.Cleanup(func() { enc.Close() })
	return enc
}

func TestEncoder_FramesRoundTripThroughPipe(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{}
	enc := newTestEncoder(t, cfg, l)

	var sent []*frame.Frame
	for i := 0; i < 3; i++ {
		f := frame.Checkerboard(cfg.Shape, i+1)
		f.Set(0, i, frame.RGB{byte(i), 7, 200})
		sent = append(sent, f)
		_, err := enc.Encode(f)
		require.NoError(t, err)
	}
	require.NoError(t, enc.Close())

	got := l.last.received()
	require.Len(t, got, len(sent))
	for i, raw := range got {
		back, err := frame.FromBytes(cfg.Shape, raw)
		require.NoError(t, err)
		assert.Equal(t, sent[i].Pix, back.Pix, "frame %d", i)
	}
	assert.Equal(t, "ffmpeg", l.binary)
}

func TestEncoder_SyntheticTimestamps(t *testing.T) {
	cfg := testConfig(t)
	enc := newTestEncoder(t, cfg, &fakeLauncher{})

	f := frame.New(cfg.Shape)
	var got []float64
	for i := 0; i < 4; i++ {
		pts, err := enc.Encode(f)
		require.NoError(t, err)
		got = append(got, pts)
	}
	assert.InDeltaSlice(t, []float64{0, 0.04, 0.08, 0.12}, got, 1e-9)
}

func TestEncoder_WallClockTimestamps(t *testing.T) {
	cfg := testConfig(t)
	cfg.WallClockPTS = true
	enc := newTestEncoder(t, cfg, &fakeLauncher{})

	before := float64(time.Now().UnixNano()) / 1e9
	pts, err := enc.Encode(frame.New(cfg.Shape))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pts, before)
}

func TestEncoder_ProcessExitIsEncodingFailure(t *testing.T) {
	cfg := testConfig(t)
	enc := newTestEncoder(t, cfg, &fakeLauncher{failures: 1})
	f := frame.New(cfg.Shape)

	_, err := enc.Encode(f)
	require.NoError(t, err)

	var failed error
	for i := 0; i < 3 && failed == nil; i++ {
		_, failed = enc.Encode(f)
	}
	require.Error(t, failed)
	assert.ErrorIs(t, failed, ErrEncodingFailure)
	var encErr *EncodingError
	assert.ErrorAs(t, failed, &encErr)

	assert.ErrorIs(t, enc.Close(), ErrEncodingFailure)
}

func TestEncoder_EncodeBeforeOpen(t *testing.T) {
	cfg := testConfig(t)
	enc, err := New(cfg)
	require.NoError(t, err)
	_, err = enc.Encode(frame.New(cfg.Shape))
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, err, ErrEncodingFailure)
	assert.NoError(t, enc.Close())
}

func TestEncoder_RejectsWrongShape(t *testing.T) {
	cfg := testConfig(t)
	enc := newTestEncoder(t, cfg, &fakeLauncher{})
	_, err := enc.Encode(frame.New(frame.Shape{Height: 2, Width: 2}))
	var cfgErr *util.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNew_Validation(t *testing.T) {
	cases := map[string]func(c *Config){
		"no output":    func(c *Config) { c.Output = "" },
		"wrong ext":    func(c *Config) { c.Output = "out.mp4" },
		"bad shape":    func(c *Config) { c.Shape.Width = 0 },
		"zero fps":     func(c *Config) { c.FPS = 0 },
		"zero segment": func(c *Config) { c.SegmentSeconds = 0 },
		"zero list":    func(c *Config) { c.ListSize = 0 },
		"no preset":    func(c *Config) { c.Preset = Preset{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			mutate(&cfg)
			_, err := New(cfg)
			var cfgErr *util.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestConfig_Args(t *testing.T) {
	cfg := Config{
		Output:         "video/chessboard.m3u8",
		Shape:          frame.Shape{Height: 180, Width: 320},
		FPS:            30,
		SegmentSeconds: 5,
		ListSize:       120,
		Preset:         PresetHardware,
	}
	args := strings.Join(cfg.Args(), " ")
	assert.Contains(t, args, "-f rawvideo -pix_fmt rgb24 -s 320x180 -framerate 30 -i pipe:")
	assert.Contains(t, args, "-c:v h264_nvenc -preset p3 -tune ll -b:v 6M -maxrate 6M -bufsize 6M")
	assert.Contains(t, args, "-g 150 -keyint_min 150")
	assert.Contains(t, args, "-f hls -hls_time 5 -hls_list_size 120 -hls_flags delete_segments -start_number 0")
	assert.Contains(t, args, "-hls_segment_filename "+filepath.Join("video", "chessboard%d.ts"))
	assert.True(t, strings.HasSuffix(args, " video/chessboard.m3u8"))
	assert.NotContains(t, args, "use_wallclock_as_timestamps")
	assert.NotContains(t, args, "drawtext")

	cfg.WallClockPTS = true
	cfg.Timecode = true
	cfg.Preset = PresetSoftware.WithBitrate("2M")
	args = strings.Join(cfg.Args(), " ")
	assert.Contains(t, args, "-use_wallclock_as_timestamps 1 -i pipe:")
	assert.Contains(t, args, `-vf drawtext=timecode='00\:00\:00\:00':timecode_rate=30:`)
	assert.Contains(t, args, "-c:v libx264 -preset veryfast -b:v 2M -maxrate 2M -bufsize 2M")
	assert.NotContains(t, args, "-tune")
}

func segmentFiles(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".ts") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestEncoder_RetentionKeepsNewestWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.FPS = 2 // two frames per segment
	l := &fakeLauncher{segment: true}
	enc := newTestEncoder(t, cfg, l)

	const produced = 7
	f := frame.New(cfg.Shape)
	for i := 0; i < produced*cfg.KeyframeInterval(); i++ {
		_, err := enc.Encode(f)
		require.NoError(t, err)
	}
	require.NoError(t, enc.Close())

	dir := filepath.Dir(cfg.Output)
	// a segment newer than the manifest is still being written and must survive
	require.NoError(t, os.WriteFile(filepath.Join(dir, "live7.ts"), nil, 0o644))
	require.Len(t, segmentFiles(t, dir), produced+1)

	deleted, err := enc.Sweep()
	require.NoError(t, err)
	assert.Equal(t, produced-cfg.ListSize, deleted)

	pl := enc.Playlist()
	require.NotNil(t, pl)
	require.Len(t, pl.Segments, cfg.ListSize)
	var uris []string
	for _, s := range pl.Segments {
		uris = append(uris, s.URI)
	}
	assert.Equal(t, []string{"live4.ts", "live5.ts", "live6.ts"}, uris)
	assert.ElementsMatch(t, []string{"live4.ts", "live5.ts", "live6.ts", "live7.ts"}, segmentFiles(t, dir))

	// nothing left to do on a second pass
	deleted, err = enc.Sweep()
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestEncoder_SweeperRunsInBackground(t *testing.T) {
	cfg := testConfig(t)
	cfg.FPS = 1
	cfg.ListSize = 1
	cfg.SweepInterval = 10 * time.Millisecond
	enc := newTestEncoder(t, cfg, &fakeLauncher{segment: true})

	f := frame.New(cfg.Shape)
	for i := 0; i < 4; i++ {
		_, err := enc.Encode(f)
		require.NoError(t, err)
	}
	dir := filepath.Dir(cfg.Output)
	assert.Eventually(t, func() bool {
		names := segmentFiles(t, dir)
		return len(names) == 1 && names[0] == "live3.ts"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEncoder_SweepWithoutManifest(t *testing.T) {
	enc, err := New(testConfig(t))
	require.NoError(t, err)
	deleted, err := enc.Sweep()
	assert.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Nil(t, enc.Playlist())
}

func TestConfig_ResetOutputKeepsUnrelatedFiles(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Dir(cfg.Output)
	for _, name := range []string{"live.m3u8", "live.m3u8.tmp", "live0.ts", "live12.ts", "notes.txt", "other3.ts", "live.ts"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "live7.ts"), 0o755))

	require.NoError(t, cfg.ResetOutput())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, entry := range entries {
		left = append(left, entry.Name())
	}
	assert.ElementsMatch(t, []string{"live.ts", "live7.ts", "notes.txt", "other3.ts"}, left)
}

func TestConfig_ResetOutputCreatesDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output = filepath.Join(t.TempDir(), "a", "b", "live.m3u8")
	require.NoError(t, cfg.ResetOutput())
	info, err := os.Stat(filepath.Dir(cfg.Output))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
