package pdfdocx

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// checker returns a w x h black and white checkerboard.
func checker(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/2+y/2)%2 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func blank(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

type fakeStrategy struct {
	name  string
	img   image.Image
	err   error
	block bool // Wait for cancellation instead of returning
}

func (s fakeStrategy) Name() string { return s.name }

func (s fakeStrategy) Extract(ctx context.Context, region PageRegion, _ EmbeddedIndex, _ *Scratch) (*ImageCandidate, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	b := s.img.Bounds()
	return &ImageCandidate{Image: s.img, Format: "png", Width: b.Dx(), Height: b.Dy()}, nil
}

// fakeIndex serves one embedded object and a checkerboard page raster.
type fakeIndex struct {
	objects  map[int]EmbeddedObject
	decoded  image.Image
	pageSize float64

	mu      sync.Mutex
	renders map[float64]int
}

func (x *fakeIndex) Object(id int) (EmbeddedObject, bool) {
	obj, ok := x.objects[id]
	return obj, ok
}

func (x *fakeIndex) Decode(ctx context.Context, id int) (image.Image, error) {
	return x.decoded, nil
}

func (x *fakeIndex) Render(ctx context.Context, scale float64) (image.Image, error) {
	x.mu.Lock()
	if x.renders == nil {
		x.renders = map[float64]int{}
	}
	x.renders[scale]++
	x.mu.Unlock()
	n := int(x.pageSize * scale)
	return checker(n, n), nil
}

var imageRegion = PageRegion{Page: 2, Box: Rect{X0: 0, Y0: 0, X1: 100, Y1: 50}, Kind: RegionImage}

func TestScore(t *testing.T) {
	settings := DefaultImageSettings()

	assert.Zero(t, Score(nil, imageRegion, settings))
	assert.Zero(t, Score(&ImageCandidate{Image: blank(100, 50), Width: 100, Height: 50}, imageRegion, settings))

	low := Score(&ImageCandidate{Image: checker(100, 50), Width: 100, Height: 50}, imageRegion, settings)
	high := Score(&ImageCandidate{Image: checker(300, 150), Width: 300, Height: 150}, imageRegion, settings)
	skewed := Score(&ImageCandidate{Image: checker(300, 300), Width: 300, Height: 300}, imageRegion, settings)

	assert.InDelta(t, 1.0, high, 0.0001)
	assert.Less(t, low, high)
	assert.Less(t, skewed, high)
	assert.Greater(t, low, 0.0)
}

func TestImagePipeline_HighestScoreWins(t *testing.T) {
	pipeline := NewImagePipeline(DefaultImageSettings(),
		fakeStrategy{name: "low", img: checker(100, 50)},
		fakeStrategy{name: "high", img: checker(300, 150)},
		fakeStrategy{name: "blank", img: blank(600, 300)},
		fakeStrategy{name: "broken", err: errors.New("boom")},
	)

	c, err := pipeline.Extract(context.Background(), imageRegion, nil)
	require.NoError(t, err)
	assert.Equal(t, "high", c.Strategy)
	assert.Equal(t, 300, c.Width)
	assert.Equal(t, 150, c.Height)
	assert.Equal(t, imageRegion, c.Region)
	assert.InDelta(t, 1.0, c.Score, 0.0001)
}

func TestImagePipeline_TiesKeepEarlierCandidate(t *testing.T) {
	pipeline := NewImagePipeline(DefaultImageSettings(),
		fakeStrategy{name: "first", img: checker(300, 150)},
		fakeStrategy{name: "second", img: checker(300, 150)},
	)

	c, err := pipeline.Extract(context.Background(), imageRegion, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", c.Strategy)
}

func TestImagePipeline_AllStrategiesFail(t *testing.T) {
	pipeline := NewImagePipeline(DefaultImageSettings(),
		fakeStrategy{name: "broken", err: errors.New("boom")},
		fakeStrategy{name: "blank", img: blank(300, 150)},
		fakeStrategy{name: "tiny", img: checker(4, 4)},
	)

	c, err := pipeline.Extract(context.Background(), imageRegion, nil)
	assert.Nil(t, c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtractionFailure))

	var failure *ExtractionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, imageRegion, failure.Region)
	require.Len(t, failure.Causes, 3)
	assert.Equal(t, "broken", failure.Causes[0].Strategy)
	assert.Equal(t, "blank", failure.Causes[1].Strategy)
	assert.Contains(t, failure.Causes[2].Err.Error(), "below minimum size")
	assert.False(t, failure.TimedOut())
}

func TestImagePipeline_Timeout(t *testing.T) {
	settings := DefaultImageSettings()
	settings.StrategyTimeout = 20 * time.Millisecond

	pipeline := NewImagePipeline(settings, fakeStrategy{name: "slow", block: true})
	_, err := pipeline.Extract(context.Background(), imageRegion, nil)

	var failure *ExtractionFailure
	require.True(t, errors.As(err, &failure))
	assert.True(t, failure.TimedOut())
	assert.True(t, errors.Is(failure.Causes[0].Err, ErrTimeout))

	// A timed out strategy does not stop the others
	pipeline = NewImagePipeline(settings,
		fakeStrategy{name: "slow", block: true},
		fakeStrategy{name: "fast", img: checker(300, 150)},
	)
	c, err := pipeline.Extract(context.Background(), imageRegion, nil)
	require.NoError(t, err)
	assert.Equal(t, "fast", c.Strategy)
}

func TestImagePipeline_Cancellation(t *testing.T) {
	pipeline := NewImagePipeline(DefaultImageSettings(), fakeStrategy{name: "ok", img: checker(300, 150)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, err := pipeline.Extract(ctx, imageRegion, nil)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, context.Canceled)

	// Cancellation while a strategy runs is not reported as a timeout
	ctx, cancel = context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	pipeline = NewImagePipeline(DefaultImageSettings(), fakeStrategy{name: "slow", block: true})
	_, err = pipeline.Extract(ctx, imageRegion, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrExtractionFailure))
}

// stubbornStrategy ignores its context and returns only once released.
type stubbornStrategy struct {
	release chan struct{}
}

func (stubbornStrategy) Name() string { return "stubborn" }

func (s stubbornStrategy) Extract(context.Context, PageRegion, EmbeddedIndex, *Scratch) (*ImageCandidate, error) {
	<-s.release
	return &ImageCandidate{Image: checker(300, 150), Width: 300, Height: 150}, nil
}

func TestImagePipeline_CancellationDoesNotWaitForStrategy(t *testing.T) {
	for _, timeout := range []time.Duration{time.Minute, 0} {
		settings := DefaultImageSettings()
		settings.StrategyTimeout = timeout
		strategy := stubbornStrategy{release: make(chan struct{})}

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)

		start := time.Now()
		c, err := NewImagePipeline(settings, strategy).Extract(ctx, imageRegion, nil)
		elapsed := time.Since(start)
		close(strategy.release)

		assert.Nil(t, c)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, elapsed, 5*time.Second, "timeout %s", timeout)
	}
}

func TestScore_MarginCropEarnsNoExtraResolution(t *testing.T) {
	settings := DefaultImageSettings()

	// 2 px/pt over the region, and over the region grown by 10% each side
	tight := &ImageCandidate{Image: checker(200, 100), Width: 200, Height: 100, SourceWidth: 100}
	grown := &ImageCandidate{Image: checker(240, 120), Width: 240, Height: 120, SourceWidth: 120}
	assert.InDelta(t, Score(tight, imageRegion, settings), Score(grown, imageRegion, settings), 0.0001)

	// Without a source width the pixels are measured against the region
	grown.SourceWidth = 0
	assert.Greater(t, Score(grown, imageRegion, settings), Score(tight, imageRegion, settings))
}

func TestImagePipeline_MarginRenderDoesNotOutscoreTightRender(t *testing.T) {
	index := &fakeIndex{pageSize: 200}
	region := PageRegion{Page: 1, Box: Rect{X0: 50, Y0: 50, X1: 100, Y1: 100}, Kind: RegionImage}

	pipeline := NewImagePipeline(DefaultImageSettings(),
		RegionRender{Scale: 2},
		RegionRender{Scale: 2, Margin: 0.1},
	)
	c, err := pipeline.Extract(context.Background(), region, index)
	require.NoError(t, err)
	assert.Equal(t, "region_render", c.Strategy)
	assert.Equal(t, 100, c.Width)
	assert.InDelta(t, 50.0, c.SourceWidth, 0.0001)
}

func TestImagePipeline_LowerCandidatesNeverDisplaceBest(t *testing.T) {
	best := fakeStrategy{name: "high", img: checker(300, 150)}
	weaker := []ExtractionStrategy{
		fakeStrategy{name: "low", img: checker(100, 50)},
		fakeStrategy{name: "skewed", img: checker(300, 300)},
		fakeStrategy{name: "blank", img: blank(600, 300)},
		fakeStrategy{name: "tiny", img: checker(4, 4)},
		fakeStrategy{name: "broken", err: errors.New("boom")},
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		strategies := append([]ExtractionStrategy{best}, weaker[:rng.Intn(len(weaker)+1)]...)
		rng.Shuffle(len(strategies), func(a, b int) {
			strategies[a], strategies[b] = strategies[b], strategies[a]
		})

		c, err := NewImagePipeline(DefaultImageSettings(), strategies...).Extract(context.Background(), imageRegion, nil)
		require.NoError(t, err)
		assert.Equal(t, "high", c.Strategy, "order %v", strategyNames(strategies))
	}
}

func strategyNames(strategies []ExtractionStrategy) []string {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.Name()
	}
	return names
}

func TestImagePipeline_Downscale(t *testing.T) {
	settings := DefaultImageSettings()
	settings.MaxImagePixels = 300 * 150 / 4

	pipeline := NewImagePipeline(settings, fakeStrategy{name: "big", img: checker(300, 150)})
	c, err := pipeline.Extract(context.Background(), imageRegion, nil)
	require.NoError(t, err)
	assert.Equal(t, 150, c.Width)
	assert.Equal(t, 75, c.Height)
	assert.Equal(t, image.Rect(0, 0, 150, 75), c.Image.Bounds())
}

func TestImagePipeline_DefaultStrategies(t *testing.T) {
	settings := DefaultImageSettings()
	index := &fakeIndex{
		objects:  map[int]EmbeddedObject{7: {ID: 7, Width: 20, Height: 20, Format: "jpeg"}},
		decoded:  checker(20, 20),
		pageSize: 200,
	}
	region := PageRegion{Page: 1, Box: Rect{X0: 50, Y0: 50, X1: 100, Y1: 100}, Kind: RegionImage, ObjectID: 7}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	c, err := NewImagePipeline(settings).WithLogger(logger).Extract(context.Background(), region, index)
	require.NoError(t, err)

	// The native object is too coarse; the region render at 4x wins the tie
	// with its margin variant.
	assert.Equal(t, "region_render", c.Strategy)
	assert.Equal(t, 200, c.Width)
	assert.Equal(t, 200, c.Height)
	assert.Equal(t, 2, index.renders[settings.RegionScale])
	assert.Equal(t, 1, index.renders[settings.PageScale])

	scored := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Image candidate scored" {
			scored++
			assert.Equal(t, 1, e.Data["page"])
		}
	}
	assert.Equal(t, 4, scored)
}

func TestImagePipeline_NoRasterizer(t *testing.T) {
	region := PageRegion{Page: 1, Box: Rect{X0: 50, Y0: 50, X1: 100, Y1: 100}, Kind: RegionImage}

	_, err := NewImagePipeline(DefaultImageSettings()).Extract(context.Background(), region, nil)
	var failure *ExtractionFailure
	require.True(t, errors.As(err, &failure))
	require.Len(t, failure.Causes, 4)
	assert.True(t, errors.Is(failure.Causes[0].Err, ErrNoEmbeddedObject))
	for _, cause := range failure.Causes[1:] {
		assert.True(t, errors.Is(cause.Err, ErrNoRasterizer))
	}
}

func TestImagePipeline_Concurrent(t *testing.T) {
	pipeline := NewImagePipeline(DefaultImageSettings(),
		fakeStrategy{name: "low", img: checker(100, 50)},
		fakeStrategy{name: "high", img: checker(300, 150)},
	)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			c, err := pipeline.Extract(context.Background(), imageRegion, nil)
			if err != nil {
				return err
			}
			if c.Strategy != "high" {
				return errors.Errorf("got %s", c.Strategy)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestScratch_ReusesBuffers(t *testing.T) {
	var s Scratch
	a := s.RGBA(10, 10)
	a.Pix[0] = 42
	s.Reset()

	b := s.RGBA(5, 5)
	assert.Equal(t, uint8(0), b.Pix[0])
	assert.Same(t, &a.Pix[0], &b.Pix[0])
	assert.Len(t, b.Pix, 100)
}
