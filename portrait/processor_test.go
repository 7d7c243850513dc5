package portrait

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"portrait-mixer/internal/debug/memtracker"
	"portrait-mixer/internal/logger"
	"portrait-mixer/internal/opencv/conversion"
	"portrait-mixer/internal/opencv/safe"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var (
	skin  = color.NRGBA{R: 200, G: 160, B: 140, A: 255}
	wall  = color.NRGBA{R: 10, G: 20, B: 30, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

type stubDetector struct {
	faces []image.Rectangle
	err   error
}

func (d stubDetector) Detect(gocv.Mat) ([]image.Rectangle, error) {
	return d.faces, d.err
}

// columnExtractor builds a matte whose alpha depends only on the column:
// 0 left of x=450, 255 up to x=550 and 128 beyond.
type columnExtractor struct {
	tracker safe.MemoryTracker
	size    image.Point // overrides the image size when set
	calls   int
}

func (e *columnExtractor) Extract(img *safe.Mat, roi image.Rectangle) (*safe.Mat, error) {
	e.calls++

	src, err := img.ToBytes()
	if err != nil {
		return nil, err
	}

	w, h := img.Cols(), img.Rows()
	if e.size != (image.Point{}) {
		w, h = e.size.X, e.size.Y
	}

	data := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			if (y*img.Cols()+x)*3+2 < len(src) {
				copy(data[i:i+3], src[(y*img.Cols()+x)*3:])
			}
			switch {
			case x < 450:
				data[i+3] = 0
			case x < 550:
				data[i+3] = 255
			default:
				data[i+3] = 128
			}
		}
	}

	return safe.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, data, e.tracker, "matte")
}

type fixture struct {
	proc      *Processor
	tracker   *memtracker.Tracker
	extractor *columnExtractor
}

func newFixture(t *testing.T, faces ...image.Rectangle) *fixture {
	t.Helper()

	tracker := memtracker.NewTracker()
	extractor := &columnExtractor{tracker: tracker}

	proc, err := New(nil,
		WithDetector(stubDetector{faces: faces}),
		WithExtractor(extractor),
		WithLogger(logger.NewNop()),
		WithMemoryTracker(tracker),
	)
	require.NoError(t, err)
	t.Cleanup(proc.Close)

	return &fixture{proc: proc, tracker: tracker, extractor: extractor}
}

// photo returns a 1000x1000 RGB photo with a skin-coloured marker over the
// face box (400,300)-(600,500).
func (f *fixture) photo(t *testing.T) *safe.Mat {
	t.Helper()

	img := imaging.New(1000, 1000, wall)
	img = imaging.Paste(img, imaging.New(200, 200, skin), image.Pt(400, 300))

	mat, err := conversion.ImageToMat(img, f.tracker, "photo")
	require.NoError(t, err)
	t.Cleanup(mat.Close)
	return mat
}

var singleFace = image.Rect(400, 300, 600, 500)

func TestProcessSemiFramesFace(t *testing.T) {
	f := newFixture(t, singleFace)
	photo := f.photo(t)

	semi, err := f.proc.ProcessSemi(photo, 300)
	require.NoError(t, err)
	defer semi.Close()

	assert.True(t, photo.Empty(), "photo must be consumed")
	assert.Equal(t, image.Rect(350, 230, 650, 530), semi.FaceArea())
	assert.Equal(t, 300, semi.FaceArea().Dx())
	assert.Equal(t, 300, semi.FaceArea().Dy())
	assert.Equal(t, image.Rect(0, 0, 1000, 1000), semi.Bounds())
	assert.Equal(t, 1, f.extractor.calls)
}

func TestMixConcreteScenario(t *testing.T) {
	f := newFixture(t, singleFace)

	semi, err := f.proc.ProcessSemi(f.photo(t), 300)
	require.NoError(t, err)
	defer semi.Close()

	out, err := f.proc.Mix(semi, image.Pt(200, 260), 0, white)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 200, out.Cols())
	assert.Equal(t, 260, out.Rows())
	assert.Equal(t, gocv.MatTypeCV8UC3, out.Type())

	_, err = f.proc.Mix(semi, image.Pt(2000, 2000), 0, white)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestMixRejectsWindowOutsideImage(t *testing.T) {
	f := newFixture(t, singleFace)

	semi, err := f.proc.ProcessSemi(f.photo(t), 300)
	require.NoError(t, err)
	defer semi.Close()

	tests := []struct {
		name   string
		size   image.Point
		offset int
	}{
		{"larger than image", image.Pt(1001, 100), 0},
		{"pushed below", image.Pt(200, 260), 700},
		{"pushed above", image.Pt(200, 260), -300},
		{"both dimensions", image.Pt(2000, 2000), 0},
	}

	before := f.tracker.GetStats().AllocationCount
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.proc.Mix(semi, tt.size, tt.offset, white)
			assert.ErrorIs(t, err, ErrOutOfRange)
			assert.Nil(t, out)
		})
	}
	assert.Equal(t, before, f.tracker.GetStats().AllocationCount, "no buffers allocated for rejected windows")

	_, err = f.proc.Mix(semi, image.Pt(0, 10), 0, white)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMixBlendsExactly(t *testing.T) {
	f := newFixture(t, singleFace)

	semi, err := f.proc.ProcessSemi(f.photo(t), 300)
	require.NoError(t, err)
	defer semi.Close()

	back := color.RGBA{R: 0, G: 128, B: 255, A: 255}
	out, err := f.proc.Mix(semi, image.Pt(200, 260), 0, back)
	require.NoError(t, err)
	defer out.Close()

	// The window is (400,250)-(600,510). Row 0 is image row 250, which is
	// wall colour; row 100 is image row 350, inside the skin marker.
	expect := func(s, b, a uint8) uint8 {
		v := float64(s)*float64(a)/255 + float64(b)*float64(255-a)/255
		return uint8(v + 0.5)
	}

	tests := []struct {
		row, col int
		src      color.NRGBA
		alpha    uint8
	}{
		{0, 10, wall, 0},
		{0, 100, wall, 255},
		{0, 180, wall, 128},
		{100, 60, skin, 255},
		{100, 160, skin, 128},
	}

	for _, tt := range tests {
		got := [3]uint8{}
		for c := 0; c < 3; c++ {
			v, err := out.GetUCharAt3(tt.row, tt.col, c)
			require.NoError(t, err)
			got[c] = v
		}
		want := [3]uint8{
			expect(tt.src.R, back.R, tt.alpha),
			expect(tt.src.G, back.G, tt.alpha),
			expect(tt.src.B, back.B, tt.alpha),
		}
		assert.Equal(t, want, got, "pixel (%d,%d)", tt.row, tt.col)
	}
}

func TestMixReusesArtifact(t *testing.T) {
	f := newFixture(t, singleFace)

	semi, err := f.proc.ProcessSemi(f.photo(t), 300)
	require.NoError(t, err)
	defer semi.Close()

	for _, back := range []color.RGBA{white, {R: 67, G: 142, B: 219, A: 255}, {A: 255}} {
		out, err := f.proc.Mix(semi, image.Pt(300, 400), 40, back)
		require.NoError(t, err)

		v, err := out.GetUCharAt3(0, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, back.B, v, "alpha 0 yields the background")
		out.Close()
	}

	assert.Equal(t, 1, f.extractor.calls)
	assert.False(t, semi.Empty())
}

func TestProcessSemiFaceCount(t *testing.T) {
	tests := []struct {
		name  string
		faces []image.Rectangle
	}{
		{"no face", nil},
		{"two faces", []image.Rectangle{singleFace, image.Rect(700, 100, 800, 200)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.faces...)
			photo := f.photo(t)

			semi, err := f.proc.ProcessSemi(photo, 300)
			require.Error(t, err)
			assert.Nil(t, semi)
			assert.ErrorIs(t, err, ErrFaceCount)
			assert.True(t, photo.Empty())
			assert.Zero(t, f.extractor.calls)
			assert.Zero(t, f.tracker.GetStats().CurrentlyActive)
		})
	}
}

func TestProcessSemiDetectorError(t *testing.T) {
	tracker := memtracker.NewTracker()
	boom := errors.New("classifier failed")

	proc, err := New(nil,
		WithDetector(stubDetector{err: boom}),
		WithExtractor(&columnExtractor{tracker: tracker}),
		WithLogger(logger.NewNop()),
		WithMemoryTracker(tracker),
	)
	require.NoError(t, err)

	photo, err := conversion.ImageToMat(imaging.New(100, 100, wall), tracker, "photo")
	require.NoError(t, err)

	_, err = proc.ProcessSemi(photo, 50)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, tracker.GetStats().CurrentlyActive)
}

func TestProcessSemiInvalidArguments(t *testing.T) {
	f := newFixture(t, singleFace)

	_, err := f.proc.ProcessSemi(nil, 300)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.proc.ProcessSemi(&safe.Mat{}, 300)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	photo := f.photo(t)
	_, err = f.proc.ProcessSemi(photo, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.True(t, photo.Empty())

	_, err = f.proc.ProcessSemi(f.photo(t), 1200)
	assert.ErrorIs(t, err, ErrOutOfRange)

	assert.Zero(t, f.tracker.GetStats().CurrentlyActive)
}

func TestProcessSemiMatteMismatch(t *testing.T) {
	f := newFixture(t, singleFace)
	f.extractor.size = image.Pt(500, 500)

	semi, err := f.proc.ProcessSemi(f.photo(t), 300)
	assert.ErrorIs(t, err, ErrMatteMismatch)
	assert.Nil(t, semi)
	assert.Zero(t, f.tracker.GetStats().CurrentlyActive)
}

func TestProcessAllReleasesEverything(t *testing.T) {
	f := newFixture(t, singleFace)

	out, err := f.proc.ProcessAll(f.photo(t), 300, image.Pt(200, 260), 0, white)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 260), out.Bounds())

	assert.Equal(t, int64(1), f.tracker.GetStats().CurrentlyActive)
	out.Close()

	stats := f.tracker.GetStats()
	assert.Zero(t, stats.CurrentlyActive)
	assert.Zero(t, stats.UntrackedReleases)
	assert.Empty(t, f.tracker.Outstanding())
}

func TestProcessAllPropagatesErrors(t *testing.T) {
	f := newFixture(t, singleFace)

	_, err := f.proc.ProcessAll(f.photo(t), 300, image.Pt(2000, 2000), 0, white)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, f.tracker.GetStats().CurrentlyActive)

	f = newFixture(t)
	_, err = f.proc.ProcessAll(f.photo(t), 300, image.Pt(200, 260), 0, white)
	assert.ErrorIs(t, err, ErrFaceCount)
}

func TestProcessImage(t *testing.T) {
	f := newFixture(t, singleFace)

	img := imaging.New(1000, 1000, wall)
	out, err := f.proc.ProcessImage(img, 300, image.Pt(200, 260), 0, white)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 200, 260), out.Bounds())
	r, g, b, _ := out.At(0, 0).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})
	assert.Zero(t, f.tracker.GetStats().CurrentlyActive)

	_, err = f.proc.ProcessImage(nil, 300, image.Pt(200, 260), 0, white)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestProcessorLogsFaceCount(t *testing.T) {
	var buf bytes.Buffer
	proc, err := New(nil,
		WithDetector(stubDetector{}),
		WithExtractor(&columnExtractor{}),
		WithLogger(logger.NewZerolog(&buf, zerolog.DebugLevel)),
	)
	require.NoError(t, err)

	photo, err := conversion.ImageToMat(imaging.New(100, 100, wall), nil, "photo")
	require.NoError(t, err)

	_, err = proc.ProcessSemi(photo, 50)
	require.Error(t, err)

	assert.Contains(t, buf.String(), "face count mismatch")
	assert.Contains(t, buf.String(), `"component":"Portrait"`)
}

func TestProcessorRecordsTimings(t *testing.T) {
	f := newFixture(t, singleFace)

	out, err := f.proc.ProcessAll(f.photo(t), 300, image.Pt(200, 260), 0, white)
	require.NoError(t, err)
	out.Close()

	for _, op := range []string{"detect", "frame", "matte", "mix"} {
		assert.Len(t, f.proc.Timings().GetTimings(op), 1, op)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Framing.TopRatio = -0.5
	_, err := New(cfg, WithDetector(stubDetector{}), WithExtractor(&columnExtractor{}))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	cfg = DefaultConfig()
	cfg.Detection.Backend = "pigo"
	cfg.Detection.ModelPath = filepath.Join(t.TempDir(), "missing")
	_, err = New(cfg, WithLogger(logger.NewNop()))
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	_, err = New(cfg, WithDetector(stubDetector{}))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
