package pdfdocx

import (
	"context"
	"runtime"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/rtree"
	"golang.org/x/sync/errgroup"
)

// TopologyInferrer reconstructs a table grid for a region.
type TopologyInferrer interface {
	Infer(region PageRegion, rulings []LineSegment, blocks []TextLine) (*TableGrid, error)
}

// ImageExtractor produces the best image for a region.
type ImageExtractor interface {
	Extract(ctx context.Context, region PageRegion, objects EmbeddedIndex) (*ImageCandidate, error)
}

// BoundaryClassifier groups lines into paragraphs.
type BoundaryClassifier interface {
	Classify(lines []TextLine) []ParagraphBlock
}

// BlockKind identifies the type of an output block.
type BlockKind string

const (
	BlockParagraph   BlockKind = "paragraph"
	BlockTable       BlockKind = "table"
	BlockImage       BlockKind = "image"
	BlockPlaceholder BlockKind = "placeholder"
	BlockPageBreak   BlockKind = "page_break"
)

// Block is one element of the reconstructed block stream.
type Block interface {
	Kind() BlockKind
	Region() PageRegion
}

func (p ParagraphBlock) Kind() BlockKind { return BlockParagraph }

func (p ParagraphBlock) Region() PageRegion {
	return PageRegion{Page: p.Page, Box: p.Box, Kind: RegionText}
}

// TableBlock is a reconstructed table.
type TableBlock struct {
	Grid   *TableGrid
	Source PageRegion
}

func (t TableBlock) Kind() BlockKind    { return BlockTable }
func (t TableBlock) Region() PageRegion { return t.Source }

// ImageBlock is an extracted image placed at its source region.
type ImageBlock struct {
	Image  *ImageCandidate
	Source PageRegion
}

func (i ImageBlock) Kind() BlockKind    { return BlockImage }
func (i ImageBlock) Region() PageRegion { return i.Source }

// PlaceholderBlock stands in for an image no strategy could extract.
type PlaceholderBlock struct {
	Source PageRegion
	Reason string
}

func (p PlaceholderBlock) Kind() BlockKind    { return BlockPlaceholder }
func (p PlaceholderBlock) Region() PageRegion { return p.Source }

// PageBreakBlock separates the blocks of consecutive pages.
type PageBreakBlock struct {
	Page int // Page that just ended
}

func (p PageBreakBlock) Kind() BlockKind    { return BlockPageBreak }
func (p PageBreakBlock) Region() PageRegion { return PageRegion{Page: p.Page} }

// DegradationReport counts regions that were converted in a degraded form.
type DegradationReport struct {
	FallbackTables           int // Tables inferred from text alignment instead of rulings
	PlainTextTables          int // Table regions emitted as paragraphs
	MissingImages            int // Image regions replaced by placeholders
	WidenedSpans             int // Spans covering cells beyond the merge request
	HeuristicParagraphSplits int // Paragraph breaks inferred from layout signals
}

// Add accumulates another report.
func (r *DegradationReport) Add(o DegradationReport) {
	r.FallbackTables += o.FallbackTables
	r.PlainTextTables += o.PlainTextTables
	r.MissingImages += o.MissingImages
	r.WidenedSpans += o.WidenedSpans
	r.HeuristicParagraphSplits += o.HeuristicParagraphSplits
}

// Degraded reports whether any region lost structure.
func (r DegradationReport) Degraded() bool {
	return r.FallbackTables > 0 || r.PlainTextTables > 0 || r.MissingImages > 0 || r.WidenedSpans > 0
}

// Orchestrator drives the reconstruction components over a page.
type Orchestrator struct {
	tables     TopologyInferrer
	images     ImageExtractor
	paragraphs BoundaryClassifier

	workers         int
	detectTables    bool
	proposeTables   bool
	textTables      bool
	extractImages   bool
	proposeSettings TableSettings
	logger          logrus.FieldLogger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithWorkers limits how many regions of a page are reconstructed at once.
func WithWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the logger for degradation warnings.
func WithLogger(logger logrus.FieldLogger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTableDetection controls table handling. With detect unset, table regions
// are treated as flowing text. With propose set, pages whose decoder supplied
// no table regions are searched for ruling clusters, and also for aligned text
// runs when textTables is set.
func WithTableDetection(detect, propose, textTables bool, settings TableSettings) OrchestratorOption {
	return func(o *Orchestrator) {
		o.detectTables = detect
		o.proposeTables = propose
		o.textTables = textTables
		o.proposeSettings = settings
	}
}

// WithImages controls whether image regions are extracted.
func WithImages(extract bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.extractImages = extract
	}
}

// NewOrchestrator creates an orchestrator from its components.
func NewOrchestrator(tables TopologyInferrer, images ImageExtractor, paragraphs BoundaryClassifier, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		tables:          tables,
		images:          images,
		paragraphs:      paragraphs,
		workers:         runtime.GOMAXPROCS(0),
		detectTables:    true,
		proposeTables:   true,
		extractImages:   true,
		proposeSettings: DefaultTableSettings(),
		logger:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type taskKind int

const (
	textTask taskKind = iota
	tableTask
	imageTask
)

// task is one independent unit of reconstruction on a page.
type task struct {
	kind   taskKind
	region PageRegion
	lines  []TextLine
}

type taskResult struct {
	blocks []Block
	report DegradationReport
}

// ReconstructPage turns a decoded page into blocks in reading order. Region
// tasks run concurrently; component failures degrade the affected region and
// are counted in the report. Only cancellation makes it fail, in which case
// no blocks are returned.
func (o *Orchestrator) ReconstructPage(ctx context.Context, page *PageContent) ([]Block, DegradationReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, DegradationReport{}, err
	}

	tasks := o.planTasks(page)
	results := make([]taskResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, t := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := o.runTask(gctx, page, t)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, DegradationReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, DegradationReport{}, err
	}

	var blocks []Block
	var report DegradationReport
	for _, r := range results {
		blocks = append(blocks, r.blocks...)
		report.Add(r.report)
	}
	return blocks, report, nil
}

// planTasks splits the page into text, table and image tasks in reading order.
func (o *Orchestrator) planTasks(page *PageContent) []task {
	var regions []PageRegion
	hasTables := false
	for _, r := range page.Regions {
		switch r.Kind {
		case RegionTable:
			if o.detectTables {
				regions = append(regions, r)
				hasTables = true
			}
		case RegionImage:
			if o.extractImages {
				regions = append(regions, r)
			}
		}
	}
	if o.detectTables && o.proposeTables && !hasTables {
		regions = append(regions, ProposeTableRegions(page, o.proposeSettings, o.textTables)...)
	}
	sortRegions(regions)
	regions = dropOverlappingTables(regions)

	// Lines whose centre falls in a table region belong to that table; the
	// rest keep the decoder's reading order.
	var index rtree.RTreeG[int]
	for i, r := range regions {
		if r.Kind == RegionTable {
			index.Insert([2]float64{r.Box.X0, r.Box.Y0}, [2]float64{r.Box.X1, r.Box.Y1}, i)
		}
	}
	owned := make([][]TextLine, len(regions))
	var free []TextLine
	for _, l := range page.Lines {
		pt := [2]float64{l.Box.CenterX(), l.Box.CenterY()}
		owner := -1
		index.Search(pt, pt, func(_, _ [2]float64, i int) bool {
			if owner < 0 || i < owner {
				owner = i
			}
			return true
		})
		if owner >= 0 {
			owned[owner] = append(owned[owner], l)
			continue
		}
		free = append(free, l)
	}

	var tasks []task
	next := 0
	for i, r := range regions {
		var above []TextLine
		for next < len(free) && free[next].Box.CenterY() < r.Box.Y0 {
			above = append(above, free[next])
			next++
		}
		if len(above) > 0 {
			tasks = append(tasks, task{kind: textTask, lines: above})
		}

		if r.Kind == RegionTable {
			tasks = append(tasks, task{kind: tableTask, region: r, lines: owned[i]})
		} else {
			tasks = append(tasks, task{kind: imageTask, region: r})
		}
	}
	if next < len(free) {
		tasks = append(tasks, task{kind: textTask, lines: free[next:]})
	}
	return tasks
}

func sortRegions(regions []PageRegion) {
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Box.Y0 != regions[j].Box.Y0 {
			return regions[i].Box.Y0 < regions[j].Box.Y0
		}
		return regions[i].Box.X0 < regions[j].Box.X0
	})
}

// dropOverlappingTables keeps the first of any overlapping table regions.
func dropOverlappingTables(regions []PageRegion) []PageRegion {
	var result []PageRegion
	for _, r := range regions {
		keep := true
		if r.Kind == RegionTable {
			for _, k := range result {
				if k.Kind == RegionTable && rectsOverlap(k.Box, r.Box) {
					keep = false
					break
				}
			}
		}
		if keep {
			result = append(result, r)
		}
	}
	return result
}

func (o *Orchestrator) runTask(ctx context.Context, page *PageContent, t task) (taskResult, error) {
	switch t.kind {
	case tableTask:
		return o.runTable(page, t), nil
	case imageTask:
		return o.runImage(ctx, page, t)
	default:
		var res taskResult
		res.blocks = o.classify(page.Number, t.lines, &res.report)
		return res, nil
	}
}

func (o *Orchestrator) classify(pageNumber int, lines []TextLine, report *DegradationReport) []Block {
	var blocks []Block
	for _, p := range o.paragraphs.Classify(lines) {
		p.Page = pageNumber
		if p.Opening.Heuristic() {
			report.HeuristicParagraphSplits++
		}
		blocks = append(blocks, p)
	}
	return blocks
}

func (o *Orchestrator) runTable(page *PageContent, t task) taskResult {
	var res taskResult
	entry := o.logger.WithFields(logrus.Fields{"page": page.Number, "region": t.region.Box})

	grid, err := o.tables.Infer(t.region, page.Rulings, t.lines)
	if err != nil || grid == nil {
		res.report.PlainTextTables++
		entry.WithError(err).Warn("Table topology not inferred, emitting region as text")
		if len(t.lines) == 0 {
			res.blocks = []Block{TableBlock{Grid: emptyGrid(t.region), Source: t.region}}
			return res
		}
		res.blocks = o.classify(page.Number, t.lines, &res.report)
		return res
	}

	if grid.Strategy == StrategyText {
		res.report.FallbackTables++
		entry.WithField("grid", grid.String()).Warn("Table inferred from text alignment")
	}
	if n := grid.WidenedSpans(); n > 0 {
		res.report.WidenedSpans += n
		entry.WithField("spans", n).Warn("Merged cells widened to rectangles")
	}

	for i := range grid.Spans {
		var content []ParagraphBlock
		for _, b := range o.classify(page.Number, grid.Spans[i].Lines, &res.report) {
			content = append(content, b.(ParagraphBlock))
		}
		grid.Spans[i].Content = content
	}
	res.blocks = []Block{TableBlock{Grid: grid, Source: t.region}}
	return res
}

// emptyGrid is the one-cell table emitted for a textless region whose
// topology could not be inferred.
func emptyGrid(region PageRegion) *TableGrid {
	b := region.Box
	return &TableGrid{
		Rows:      1,
		Cols:      1,
		Spans:     []CellSpan{{RowSpan: 1, ColSpan: 1, Box: b}},
		Box:       b,
		RowBounds: []float64{b.Y0, b.Y1},
		ColBounds: []float64{b.X0, b.X1},
	}
}

func (o *Orchestrator) runImage(ctx context.Context, page *PageContent, t task) (taskResult, error) {
	var res taskResult
	cand, err := o.images.Extract(ctx, t.region, page.Objects)
	if err == nil && (cand == nil || cand.Image == nil) {
		err = errors.New("no image candidate")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		res.report.MissingImages++
		o.logger.WithFields(logrus.Fields{"page": page.Number, "region": t.region.Box}).
			WithError(err).Warn("Image extraction failed, emitting placeholder")
		res.blocks = []Block{PlaceholderBlock{Source: t.region, Reason: err.Error()}}
		return res, nil
	}
	res.blocks = []Block{ImageBlock{Image: cand, Source: t.region}}
	return res, nil
}
