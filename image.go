package pdfdocx

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// EmbeddedObject describes an image object embedded in a page.
type EmbeddedObject struct {
	ID     int
	Box    Rect   // Placement on the page
	Width  int    // Native pixel width, 0 when unknown
	Height int    // Native pixel height, 0 when unknown
	Format string // Source encoding such as "jpeg", empty when unknown
}

// EmbeddedIndex gives access to a page's embedded objects and rasteriser.
// Implementations are scoped to one page of one job.
type EmbeddedIndex interface {
	// Object looks up an embedded object by id.
	Object(id int) (EmbeddedObject, bool)

	// Decode returns the object's pixels at native resolution.
	Decode(ctx context.Context, id int) (image.Image, error)

	// Render rasterises the whole page at scale pixels per point. The image
	// origin is the page's top-left corner. Implementations cache renders so
	// repeated calls for the same scale are cheap.
	Render(ctx context.Context, scale float64) (image.Image, error)
}

// ImageCandidate is one strategy's attempt at extracting a region.
type ImageCandidate struct {
	Image  image.Image
	Format string
	Width  int
	Height int
	// SourceWidth is the page width in points the pixels cover, 0 when they
	// cover exactly the region.
	SourceWidth float64
	Score       float64
	Strategy    string
	Region      PageRegion
}

// ImageSettings configures the extraction pipeline and its scoring.
type ImageSettings struct {
	StrategyTimeout time.Duration

	RegionScale  float64 // Pixels per point for region renders
	RegionMargin float64 // Fraction of the region size added on every side by the margin strategy
	PageScale    float64 // Pixels per point for the full page render

	ResolutionWeight float64
	ContentWeight    float64
	AspectWeight     float64

	// ResolutionTarget is the pixels-per-point density that scores full marks.
	ResolutionTarget float64
	// MinContentRatio is the non-blank pixel ratio that scores full marks.
	MinContentRatio float64
	// BlankRatio is the non-blank ratio below which a candidate scores zero.
	BlankRatio float64
	// AspectTolerance is the relative aspect deviation still scoring full marks;
	// AspectFalloff is the log-ratio deviation at which the aspect score hits zero.
	AspectTolerance float64
	AspectFalloff   float64

	MinImageSize   int // Candidates narrower or shorter than this are rejected
	MaxImagePixels int // Winners above this are downscaled, 0 disables
}

// DefaultImageSettings returns the default extraction settings.
func DefaultImageSettings() ImageSettings {
	return ImageSettings{
		StrategyTimeout: 10 * time.Second,

		RegionScale:  4,
		RegionMargin: 0.10,
		PageScale:    2,

		ResolutionWeight: 0.40,
		ContentWeight:    0.35,
		AspectWeight:     0.25,

		ResolutionTarget: 3,
		MinContentRatio:  0.02,
		BlankRatio:       0.002,
		AspectTolerance:  0.10,
		AspectFalloff:    0.60,

		MinImageSize:   8,
		MaxImagePixels: 16 << 20,
	}
}

// ExtractionStrategy produces an image candidate for a region. Candidates may
// reference buffers from scratch; they stay valid until the scratch is reset.
type ExtractionStrategy interface {
	Name() string
	Extract(ctx context.Context, region PageRegion, objects EmbeddedIndex, scratch *Scratch) (*ImageCandidate, error)
}

// DirectReference decodes the region's embedded object at native resolution.
type DirectReference struct{}

func (DirectReference) Name() string { return "direct_reference" }

func (DirectReference) Extract(ctx context.Context, region PageRegion, objects EmbeddedIndex, _ *Scratch) (*ImageCandidate, error) {
	if region.ObjectID == NoObject || objects == nil {
		return nil, ErrNoEmbeddedObject
	}
	obj, ok := objects.Object(region.ObjectID)
	if !ok {
		return nil, errors.Wrapf(ErrNoEmbeddedObject, "object %d", region.ObjectID)
	}

	img, err := objects.Decode(ctx, obj.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "decode object %d", obj.ID)
	}
	b := img.Bounds()
	return &ImageCandidate{
		Image:  img,
		Format: obj.Format,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// RegionRender rasterises the page at Scale and crops the region, grown by
// Margin of its size on every side.
type RegionRender struct {
	Scale  float64
	Margin float64
}

func (r RegionRender) Name() string {
	if r.Margin > 0 {
		return "region_render_margin"
	}
	return "region_render"
}

func (r RegionRender) Extract(ctx context.Context, region PageRegion, objects EmbeddedIndex, scratch *Scratch) (*ImageCandidate, error) {
	box := region.Box
	if r.Margin > 0 {
		box = Rect{
			X0: box.X0 - box.Width()*r.Margin,
			Y0: box.Y0 - box.Height()*r.Margin,
			X1: box.X1 + box.Width()*r.Margin,
			Y1: box.Y1 + box.Height()*r.Margin,
		}
	}
	return renderCrop(ctx, box, r.Scale, objects, scratch)
}

// FullPageRender crops the region out of a single page raster that the index
// shares between all regions of the page.
type FullPageRender struct {
	Scale float64
}

func (FullPageRender) Name() string { return "full_page_render" }

func (f FullPageRender) Extract(ctx context.Context, region PageRegion, objects EmbeddedIndex, scratch *Scratch) (*ImageCandidate, error) {
	return renderCrop(ctx, region.Box, f.Scale, objects, scratch)
}

func renderCrop(ctx context.Context, box Rect, scale float64, objects EmbeddedIndex, scratch *Scratch) (*ImageCandidate, error) {
	if objects == nil {
		return nil, ErrNoRasterizer
	}
	page, err := objects.Render(ctx, scale)
	if err != nil {
		return nil, errors.Wrapf(err, "render page at %.1fx", scale)
	}

	pb := page.Bounds()
	r := image.Rect(
		pb.Min.X+int(math.Floor(box.X0*scale)),
		pb.Min.Y+int(math.Floor(box.Y0*scale)),
		pb.Min.X+int(math.Ceil(box.X1*scale)),
		pb.Min.Y+int(math.Ceil(box.Y1*scale)),
	).Intersect(pb)
	if r.Empty() {
		return nil, errors.Errorf("region %v lies outside the %dx%d raster", box, pb.Dx(), pb.Dy())
	}

	dst := scratch.RGBA(r.Dx(), r.Dy())
	draw.Copy(dst, image.Point{}, page, r, draw.Src, nil)
	return &ImageCandidate{
		Image:       dst,
		Format:      "png",
		Width:       r.Dx(),
		Height:      r.Dy(),
		SourceWidth: float64(r.Dx()) / scale,
	}, nil
}

// DefaultStrategies returns the default strategy chain, tried in order.
func DefaultStrategies(settings ImageSettings) []ExtractionStrategy {
	return []ExtractionStrategy{
		DirectReference{},
		RegionRender{Scale: settings.RegionScale},
		RegionRender{Scale: settings.RegionScale, Margin: settings.RegionMargin},
		FullPageRender{Scale: settings.PageScale},
	}
}

// Score rates a candidate for the region in [0, 1]. Blank candidates score 0.
// Resolution is measured over the page area the pixels cover, so a crop grown
// past the region earns nothing for its extra pixels.
func Score(c *ImageCandidate, region PageRegion, settings ImageSettings) float64 {
	if c == nil || c.Image == nil || c.Width <= 0 || c.Height <= 0 {
		return 0
	}

	ratio := contentRatio(c.Image)
	if ratio < settings.BlankRatio {
		return 0
	}
	content := math.Min(1, ratio/settings.MinContentRatio)

	resolution := 1.0
	w := c.SourceWidth
	if w <= 0 {
		w = region.Box.Width()
	}
	if w > 0 && settings.ResolutionTarget > 0 {
		resolution = math.Min(1, float64(c.Width)/w/settings.ResolutionTarget)
	}

	aspect := 1.0
	if !region.Box.IsEmpty() {
		dev := math.Abs(math.Log(float64(c.Width)/float64(c.Height)) - math.Log(region.Box.Width()/region.Box.Height()))
		tol := math.Log(1 + settings.AspectTolerance)
		if dev > tol {
			aspect = clamp(1-(dev-tol)/(settings.AspectFalloff-tol), 0, 1)
		}
	}

	return settings.ResolutionWeight*resolution + settings.ContentWeight*content + settings.AspectWeight*aspect
}

// contentRatio returns the fraction of pixels that differ visibly from the
// image's dominant colour. Large images are sampled on a grid.
func contentRatio(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	step := 1
	for (b.Dx()/step)*(b.Dy()/step) > 250_000 {
		step++
	}

	type rgb struct{ r, g, b uint8 }
	sample := func(x, y int) rgb {
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		// Transparent pixels count as white paper
		if c.A < 128 {
			return rgb{255, 255, 255}
		}
		return rgb{c.R, c.G, c.B}
	}

	counts := map[rgb]int{}
	var total int
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			p := sample(x, y)
			counts[rgb{p.r >> 3, p.g >> 3, p.b >> 3}]++
			total++
		}
	}

	var dominant rgb
	best := -1
	for k, n := range counts {
		if n > best || (n == best && (k.r+k.g+k.b) > (dominant.r+dominant.g+dominant.b)) {
			dominant, best = k, n
		}
	}
	dr, dg, db := int(dominant.r)<<3+4, int(dominant.g)<<3+4, int(dominant.b)<<3+4

	var differing int
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			p := sample(x, y)
			if absInt(int(p.r)-dr) > 24 || absInt(int(p.g)-dg) > 24 || absInt(int(p.b)-db) > 24 {
				differing++
			}
		}
	}
	return float64(differing) / float64(total)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Scratch owns reusable pixel buffers for one strategy attempt.
type Scratch struct {
	bufs [][]uint8
	used int
}

// RGBA returns a w x h image backed by a reused buffer. It stays valid until
// Reset.
func (s *Scratch) RGBA(w, h int) *image.RGBA {
	n := w * h * 4
	if s.used == len(s.bufs) {
		s.bufs = append(s.bufs, nil)
	}
	buf := s.bufs[s.used]
	if cap(buf) < n {
		buf = make([]uint8, n)
	}
	buf = buf[:n]
	clear(buf)
	s.bufs[s.used] = buf
	s.used++
	return &image.RGBA{Pix: buf, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
}

// Reset makes every buffer available again.
func (s *Scratch) Reset() {
	s.used = 0
}

// ScratchPool hands out scratch buffers. A scratch is owned by exactly one
// strategy attempt at a time.
type ScratchPool struct {
	pool sync.Pool
}

// NewScratchPool creates an empty pool.
func NewScratchPool() *ScratchPool {
	return &ScratchPool{pool: sync.Pool{New: func() any { return &Scratch{} }}}
}

// Get takes a scratch out of the pool.
func (p *ScratchPool) Get() *Scratch {
	return p.pool.Get().(*Scratch)
}

// Put resets the scratch and returns it to the pool.
func (p *ScratchPool) Put(s *Scratch) {
	s.Reset()
	p.pool.Put(s)
}

// ImagePipeline runs extraction strategies against a region and keeps the
// best scoring candidate.
type ImagePipeline struct {
	strategies []ExtractionStrategy
	settings   ImageSettings
	pool       *ScratchPool
	logger     logrus.FieldLogger
}

// NewImagePipeline creates a pipeline. Without explicit strategies it uses
// DefaultStrategies.
func NewImagePipeline(settings ImageSettings, strategies ...ExtractionStrategy) *ImagePipeline {
	if len(strategies) == 0 {
		strategies = DefaultStrategies(settings)
	}
	return &ImagePipeline{
		strategies: strategies,
		settings:   settings,
		pool:       NewScratchPool(),
		logger:     logrus.StandardLogger(),
	}
}

// WithLogger sets the logger used for per-strategy diagnostics.
func (p *ImagePipeline) WithLogger(logger logrus.FieldLogger) *ImagePipeline {
	p.logger = logger
	return p
}

type attempt struct {
	candidate *ImageCandidate
	err       error
}

// Extract tries every strategy and returns the highest scoring candidate.
// When no strategy yields a non-blank candidate it returns nil and an
// *ExtractionFailure. Context cancellation is returned as is.
func (p *ImagePipeline) Extract(ctx context.Context, region PageRegion, objects EmbeddedIndex) (*ImageCandidate, error) {
	var best *ImageCandidate
	var owned []*Scratch
	failure := &ExtractionFailure{Region: region}
	entry := p.logger.WithFields(logrus.Fields{"page": region.Page, "region": region.Box})
	defer func() {
		for _, s := range owned {
			p.pool.Put(s)
		}
	}()

	for _, strategy := range p.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		scratch := p.pool.Get()
		c, err := p.run(ctx, strategy, region, objects, scratch)
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Abandoned like a timed out strategy, scratch included.
			return nil, ctxErr
		}
		if errors.Is(err, ErrTimeout) {
			// The strategy may still be writing into its scratch; leave it to the GC.
			failure.Causes = append(failure.Causes, StrategyError{Strategy: strategy.Name(), Err: err})
			entry.WithField("strategy", strategy.Name()).Debug("Image strategy timed out")
			continue
		}
		owned = append(owned, scratch)

		if err == nil {
			err = p.check(c)
		}
		if err != nil {
			failure.Causes = append(failure.Causes, StrategyError{Strategy: strategy.Name(), Err: err})
			entry.WithField("strategy", strategy.Name()).WithError(err).Debug("Image strategy failed")
			continue
		}

		c.Strategy = strategy.Name()
		c.Region = region
		c.Score = Score(c, region, p.settings)
		entry.WithFields(logrus.Fields{"strategy": c.Strategy, "score": c.Score}).Debug("Image candidate scored")

		if c.Score <= 0 {
			failure.Causes = append(failure.Causes, StrategyError{Strategy: strategy.Name(), Err: errors.New("blank candidate")})
			continue
		}
		if best == nil || c.Score > best.Score {
			best = c
		}
	}

	if best == nil {
		return nil, failure
	}

	best.Image = p.finalize(best.Image)
	b := best.Image.Bounds()
	best.Width, best.Height = b.Dx(), b.Dy()
	return best, nil
}

// run executes one strategy bounded by the strategy timeout. It returns as
// soon as ctx is cancelled, even if the strategy keeps running.
func (p *ImagePipeline) run(ctx context.Context, s ExtractionStrategy, region PageRegion, objects EmbeddedIndex, scratch *Scratch) (*ImageCandidate, error) {
	var tctx context.Context
	var cancel context.CancelFunc
	if p.settings.StrategyTimeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, p.settings.StrategyTimeout)
	} else {
		tctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan attempt, 1)
	go func() {
		c, err := s.Extract(tctx, region, objects, scratch)
		done <- attempt{candidate: c, err: err}
	}()

	select {
	case a := <-done:
		if a.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(ErrTimeout, "%s after %s", s.Name(), p.settings.StrategyTimeout)
		}
		return a.candidate, a.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(ErrTimeout, "%s after %s", s.Name(), p.settings.StrategyTimeout)
	}
}

func (p *ImagePipeline) check(c *ImageCandidate) error {
	if c == nil || c.Image == nil {
		return errors.New("strategy returned no image")
	}
	if c.Width < p.settings.MinImageSize || c.Height < p.settings.MinImageSize {
		return errors.Errorf("image %dx%d below minimum size %d", c.Width, c.Height, p.settings.MinImageSize)
	}
	return nil
}

// finalize copies the winner out of scratch memory, downscaling images above
// MaxImagePixels.
func (p *ImagePipeline) finalize(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if limit := p.settings.MaxImagePixels; limit > 0 && w*h > limit {
		f := math.Sqrt(float64(limit) / float64(w*h))
		w, h = max(int(float64(w)*f), 1), max(int(float64(h)*f), 1)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		return dst
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
	return dst
}
