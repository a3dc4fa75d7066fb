package pdfdocx

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Decoder yields the geometry of a document's pages.
type Decoder interface {
	PageCount() int
	// DecodePage decodes the page at the 0-based index.
	DecodePage(ctx context.Context, index int) (*PageContent, error)
	Close() error
}

// Writer serialises a block stream into an output format.
type Writer interface {
	Write(out io.Writer, blocks []Block) error
}

// Result is a converted document.
type Result struct {
	Blocks  []Block
	Report  DegradationReport
	Metrics ProcessingMetrics
}

// Write serialises the blocks with w.
func (r *Result) Write(out io.Writer, w Writer) error {
	return errors.Wrap(w.Write(out, r.Blocks), "failed to write document")
}

// ProcessingMetrics contains timing and statistics for PDF conversion
type ProcessingMetrics struct {
	TotalTime       time.Duration
	DocumentOpen    time.Duration
	PageExtractions []PageMetrics
	Statistics      DocumentStatistics
	Degraded        DegradationReport
}

// PageMetrics contains timing for a single page
type PageMetrics struct {
	PageNumber     int
	Decode         time.Duration
	Reconstruction time.Duration
}

// DocumentStatistics contains document-level statistics
type DocumentStatistics struct {
	TotalPages      int
	TotalParagraphs int
	TotalTables     int
	TotalImages     int
	TotalHeadings   int
	TotalWords      int
	TotalCharacters int
}

// DecoderKind selects the page decoder used for file and byte input.
type DecoderKind string

const (
	DecoderPdfium DecoderKind = "pdfium"
	DecoderGo     DecoderKind = "go"
)

// Config controls conversion behavior.
type Config struct {
	// IncludePageBreaks adds a page break block between pages (default: true)
	IncludePageBreaks bool

	// Decoder selects the page decoder. Without a pdfium instance the pure-Go
	// decoder is always used. (default: DecoderPdfium)
	Decoder DecoderKind

	// DetectTables enables table reconstruction (default: true)
	DetectTables bool

	// ProposeTables searches pages without pre-detected table regions for
	// ruling clusters (default: true)
	ProposeTables bool

	// UseSegmentBasedTables also proposes tables from aligned text segments.
	// This works better for tables without ruling lines (default: false)
	UseSegmentBasedTables bool

	// TableSettings configures table detection behavior (default: DefaultTableSettings())
	TableSettings TableSettings

	// ExtractImages enables image extraction (default: true)
	ExtractImages bool

	// ImageSettings configures the image pipeline (default: DefaultImageSettings())
	ImageSettings ImageSettings

	// BreakWeights configures paragraph break detection (default: DefaultBreakWeights())
	BreakWeights BreakWeights

	// PageWorkers limits pages reconstructed at once, RegionWorkers the regions
	// within a page. Zero uses GOMAXPROCS.
	PageWorkers   int
	RegionWorkers int

	// EnableMetricsLogging enables processing time and statistics logging (default: false)
	EnableMetricsLogging bool

	// Logger receives degradation warnings and metrics (default: logrus standard logger)
	Logger logrus.FieldLogger
}

// DefaultConfig returns the default converter configuration.
func DefaultConfig() Config {
	return Config{
		IncludePageBreaks:     true,
		Decoder:               DecoderPdfium,
		DetectTables:          true,
		ProposeTables:         true,
		UseSegmentBasedTables: false, // Opt-in: good for PDFs without ruling lines
		TableSettings:         DefaultTableSettings(),
		ExtractImages:         true,
		ImageSettings:         DefaultImageSettings(),
		BreakWeights:          DefaultBreakWeights(),
	}
}

// Converter converts PDFs into a block stream.
type Converter struct {
	instance pdfium.Pdfium
	config   Config
	logger   logrus.FieldLogger
}

// NewConverter creates a converter with default configuration. The instance
// may be nil, in which case documents are decoded by the pure-Go decoder.
func NewConverter(instance pdfium.Pdfium) *Converter {
	return NewConverterWithConfig(instance, DefaultConfig())
}

// NewConverterWithConfig creates a converter with custom configuration.
func NewConverterWithConfig(instance pdfium.Pdfium, config Config) *Converter {
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Converter{
		instance: instance,
		config:   config,
		logger:   logger,
	}
}

func (c *Converter) usePdfium() bool {
	return c.instance != nil && c.config.Decoder != DecoderGo
}

// Open opens a PDF file with the configured decoder.
func (c *Converter) Open(filePath string) (Decoder, error) {
	if c.usePdfium() {
		return OpenPdfiumFile(c.instance, filePath)
	}
	return OpenGoFile(filePath)
}

// ConvertFile converts a PDF file.
func (c *Converter) ConvertFile(ctx context.Context, filePath string) (*Result, error) {
	openStart := time.Now()
	dec, err := c.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return c.convert(ctx, dec, time.Since(openStart), 0, dec.PageCount()-1)
}

// ConvertBytes converts an in-memory PDF.
func (c *Converter) ConvertBytes(ctx context.Context, pdfBytes []byte) (*Result, error) {
	openStart := time.Now()
	var dec Decoder
	var err error
	if c.usePdfium() {
		dec, err = OpenPdfiumBytes(c.instance, pdfBytes)
	} else {
		dec, err = OpenGoReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	}
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return c.convert(ctx, dec, time.Since(openStart), 0, dec.PageCount()-1)
}

// ConvertReader converts a PDF from an io.ReadSeeker.
func (c *Converter) ConvertReader(ctx context.Context, reader io.ReadSeeker) (*Result, error) {
	if c.usePdfium() {
		openStart := time.Now()
		dec, err := OpenPdfiumReader(c.instance, reader)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return c.convert(ctx, dec, time.Since(openStart), 0, dec.PageCount()-1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read PDF")
	}
	return c.ConvertBytes(ctx, data)
}

// ConvertPageRange converts the 0-based, inclusive page range of a file.
// Negative bounds select the first and last page respectively.
func (c *Converter) ConvertPageRange(ctx context.Context, filePath string, startPage, endPage int) (*Result, error) {
	openStart := time.Now()
	dec, err := c.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	pageCount := dec.PageCount()
	if startPage < 0 {
		startPage = 0
	}
	if endPage < 0 || endPage >= pageCount {
		endPage = pageCount - 1
	}
	if startPage > endPage {
		return nil, errors.New("invalid page range: start page must be <= end page")
	}
	return c.convert(ctx, dec, time.Since(openStart), startPage, endPage)
}

// Convert converts every page of an open document. The decoder stays owned
// by the caller.
func (c *Converter) Convert(ctx context.Context, dec Decoder) (*Result, error) {
	return c.convert(ctx, dec, 0, 0, dec.PageCount()-1)
}

// orchestrator wires the reconstruction components from the configuration.
func (c *Converter) orchestrator() *Orchestrator {
	images := NewImagePipeline(c.config.ImageSettings).WithLogger(c.logger)
	return NewOrchestrator(
		NewTableInferrer(c.config.TableSettings),
		images,
		NewParagraphClassifier(c.config.BreakWeights),
		WithWorkers(c.config.RegionWorkers),
		WithLogger(c.logger),
		WithTableDetection(c.config.DetectTables, c.config.ProposeTables, c.config.UseSegmentBasedTables, c.config.TableSettings),
		WithImages(c.config.ExtractImages),
	)
}

type pageOutput struct {
	blocks []Block
	report DegradationReport
}

// convert decodes pages in order and reconstructs them concurrently. Either
// every page converts or the job fails as a whole.
func (c *Converter) convert(ctx context.Context, dec Decoder, openTime time.Duration, startPage, endPage int) (*Result, error) {
	startTime := time.Now()
	if endPage < startPage {
		return &Result{Metrics: ProcessingMetrics{DocumentOpen: openTime}}, nil
	}

	orch := c.orchestrator()
	n := endPage - startPage + 1
	outputs := make([]pageOutput, n)
	metrics := make([]PageMetrics, n)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(jobCtx)
	if c.config.PageWorkers > 0 {
		g.SetLimit(c.config.PageWorkers)
	}

	// Decoding stays sequential: decoders are not safe for concurrent use.
	var decodeErr error
	for i := 0; i < n; i++ {
		pageStart := time.Now()
		page, err := dec.DecodePage(gctx, startPage+i)
		if err != nil {
			decodeErr = errors.Wrapf(err, "failed to extract page %d", startPage+i+1)
			cancel()
			break
		}
		metrics[i] = PageMetrics{PageNumber: page.Number, Decode: time.Since(pageStart)}

		g.Go(func() error {
			reconStart := time.Now()
			blocks, report, err := orch.ReconstructPage(gctx, page)
			if err != nil {
				return errors.Wrapf(err, "failed to reconstruct page %d", page.Number)
			}
			outputs[i] = pageOutput{blocks: blocks, report: report}
			metrics[i].Reconstruction = time.Since(reconStart)
			if c.config.EnableMetricsLogging {
				c.logger.WithFields(logrus.Fields{
					"page":     page.Number,
					"decode":   metrics[i].Decode,
					"reconstr": metrics[i].Reconstruction,
				}).Info("Page converted")
			}
			return nil
		})
	}
	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for i, out := range outputs {
		if i > 0 && c.config.IncludePageBreaks {
			result.Blocks = append(result.Blocks, PageBreakBlock{Page: metrics[i-1].PageNumber})
		}
		result.Blocks = append(result.Blocks, out.blocks...)
		result.Report.Add(out.report)
	}

	result.Metrics = ProcessingMetrics{
		TotalTime:       time.Since(startTime) + openTime,
		DocumentOpen:    openTime,
		PageExtractions: metrics,
		Statistics:      calculateDocumentStatistics(result.Blocks, n),
		Degraded:        result.Report,
	}
	if c.config.EnableMetricsLogging {
		logProcessingMetrics(c.logger, result.Metrics)
	}
	if result.Report.Degraded() {
		c.logger.WithFields(degradationFields(result.Report)).Warn("Document converted with degraded regions")
	}
	return result, nil
}

// calculateDocumentStatistics calculates statistics for the block stream.
func calculateDocumentStatistics(blocks []Block, pages int) DocumentStatistics {
	stats := DocumentStatistics{TotalPages: pages}

	countText := func(p ParagraphBlock) {
		text := p.Text()
		stats.TotalWords += len(strings.Fields(text))
		stats.TotalCharacters += len(text)
	}
	for _, b := range blocks {
		switch b := b.(type) {
		case ParagraphBlock:
			stats.TotalParagraphs++
			if b.HeadingLevel > 0 {
				stats.TotalHeadings++
			}
			countText(b)
		case TableBlock:
			stats.TotalTables++
			for _, span := range b.Grid.Spans {
				for _, p := range span.Content {
					countText(p)
				}
			}
		case ImageBlock:
			stats.TotalImages++
		}
	}
	return stats
}

func degradationFields(r DegradationReport) logrus.Fields {
	return logrus.Fields{
		"fallback_tables":   r.FallbackTables,
		"plain_text_tables": r.PlainTextTables,
		"missing_images":    r.MissingImages,
		"widened_spans":     r.WidenedSpans,
		"heuristic_splits":  r.HeuristicParagraphSplits,
	}
}

// logProcessingMetrics logs the processing metrics as structured fields.
func logProcessingMetrics(logger logrus.FieldLogger, metrics ProcessingMetrics) {
	fields := logrus.Fields{
		"total_time":    metrics.TotalTime.Round(time.Millisecond),
		"document_open": metrics.DocumentOpen.Round(time.Millisecond),
		"pages":         metrics.Statistics.TotalPages,
		"paragraphs":    metrics.Statistics.TotalParagraphs,
		"headings":      metrics.Statistics.TotalHeadings,
		"tables":        metrics.Statistics.TotalTables,
		"images":        metrics.Statistics.TotalImages,
		"words":         metrics.Statistics.TotalWords,
		"characters":    metrics.Statistics.TotalCharacters,
	}
	if len(metrics.PageExtractions) > 0 {
		fields["avg_per_page"] = (metrics.TotalTime / time.Duration(len(metrics.PageExtractions))).Round(time.Millisecond)
	}
	for k, v := range degradationFields(metrics.Degraded) {
		fields[k] = v
	}
	logger.WithFields(fields).Info("PDF processing metrics")
}

// GetDocumentInfo returns basic information about a PDF without converting it.
func (c *Converter) GetDocumentInfo(filePath string) (*DocumentInfo, error) {
	dec, err := c.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	return &DocumentInfo{
		PageCount: dec.PageCount(),
	}, nil
}
