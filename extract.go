package pdfdocx

import (
	"context"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// PdfiumDecoder decodes pages of a document opened in a pdfium instance.
// Calls into the instance are serialised, so pages may be rendered while
// later pages are decoded.
type PdfiumDecoder struct {
	instance pdfium.Pdfium
	doc      references.FPDF_DOCUMENT
	pages    int
	mu       *sync.Mutex
}

// OpenPdfiumFile opens a PDF file for decoding.
func OpenPdfiumFile(instance pdfium.Pdfium, filePath string) (*PdfiumDecoder, error) {
	return openPdfium(instance, &requests.OpenDocument{FilePath: &filePath})
}

// OpenPdfiumBytes opens an in-memory PDF for decoding.
func OpenPdfiumBytes(instance pdfium.Pdfium, pdfBytes []byte) (*PdfiumDecoder, error) {
	return openPdfium(instance, &requests.OpenDocument{File: &pdfBytes})
}

// OpenPdfiumReader opens a PDF from a reader for decoding.
func OpenPdfiumReader(instance pdfium.Pdfium, reader io.ReadSeeker) (*PdfiumDecoder, error) {
	return openPdfium(instance, &requests.OpenDocument{FileReader: reader})
}

func openPdfium(instance pdfium.Pdfium, req *requests.OpenDocument) (*PdfiumDecoder, error) {
	if instance == nil {
		return nil, errors.New("pdfium instance is required")
	}
	doc, err := instance.OpenDocument(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PDF document")
	}

	pageCount, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		return nil, errors.Wrap(err, "failed to get page count")
	}

	return &PdfiumDecoder{
		instance: instance,
		doc:      doc.Document,
		pages:    pageCount.PageCount,
		mu:       &sync.Mutex{},
	}, nil
}

// PageCount returns the number of pages in the document.
func (d *PdfiumDecoder) PageCount() int {
	return d.pages
}

// Close releases the document.
func (d *PdfiumDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.doc})
	return errors.Wrap(err, "failed to close PDF document")
}

// DecodePage extracts text lines, rulings and image regions of the page at
// the 0-based index.
func (d *PdfiumDecoder) DecodePage(ctx context.Context, index int) (*PageContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= d.pages {
		return nil, errors.Errorf("page index %d out of range [0,%d)", index, d.pages)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pageResp, err := d.instance.FPDF_LoadPage(&requests.FPDF_LoadPage{
		Document: d.doc,
		Index:    index,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load page")
	}
	defer d.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{
		Page: pageResp.Page,
	})
	page := pageResp.Page

	pageWidth, err := d.instance.FPDF_GetPageWidthF(&requests.FPDF_GetPageWidthF{
		Page: requests.Page{ByReference: &page},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get page width")
	}
	pageHeight, err := d.instance.FPDF_GetPageHeightF(&requests.FPDF_GetPageHeightF{
		Page: requests.Page{ByReference: &page},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get page height")
	}
	width, height := float64(pageWidth.PageWidth), float64(pageHeight.PageHeight)

	content := &PageContent{
		Number: index + 1,
		Width:  width,
		Height: height,
	}

	runs, err := d.extractRuns(page, height)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extract text")
	}
	content.Lines = assembleLines(runs, width)

	// Rulings and images are optional; a page without them still converts.
	content.Rulings, _ = extractRulings(d.instance, page, width, height)

	objIndex := newPdfiumIndex(d.instance, d.mu, d.doc, index)
	objects, _ := extractImageObjects(d.instance, page, height)
	for _, obj := range objects {
		objIndex.add(obj)
		content.Regions = append(content.Regions, PageRegion{
			Page:     content.Number,
			Box:      obj.info.Box,
			Kind:     RegionImage,
			ObjectID: obj.info.ID,
		})
	}
	content.Objects = objIndex

	return content, nil
}

// glyph is one character with its metadata.
type glyph struct {
	Text       rune
	Box        Rect
	FontSize   float64
	FontWeight int
	FontName   string
	FontFlags  int
	FillColor  RGBA
	Angle      float32
}

// extractRuns reads every character of the page and groups them into word
// runs.
func (d *PdfiumDecoder) extractRuns(page references.FPDF_PAGE, pageHeight float64) ([]Run, error) {
	textPage, err := d.instance.FPDFText_LoadPage(&requests.FPDFText_LoadPage{
		Page: requests.Page{ByReference: &page},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load text page")
	}
	defer d.instance.FPDFText_ClosePage(&requests.FPDFText_ClosePage{
		TextPage: textPage.TextPage,
	})

	charCount, err := d.instance.FPDFText_CountChars(&requests.FPDFText_CountChars{
		TextPage: textPage.TextPage,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to count characters")
	}
	if charCount.Count == 0 {
		return nil, nil
	}

	glyphs := extractGlyphs(d.instance, textPage.TextPage, charCount.Count, pageHeight)
	return groupGlyphsIntoRuns(glyphs), nil
}

// extractGlyphs extracts all characters with their metadata.
func extractGlyphs(instance pdfium.Pdfium, textPage references.FPDF_TEXTPAGE, count int, pageHeight float64) []glyph {
	glyphs := make([]glyph, 0, count)

	for i := range count {
		unicodeRes, err := instance.FPDFText_GetUnicode(&requests.FPDFText_GetUnicode{
			TextPage: textPage,
			Index:    i,
		})
		if err != nil || unicodeRes.Unicode == 0 {
			continue
		}

		charBox, err := instance.FPDFText_GetCharBox(&requests.FPDFText_GetCharBox{
			TextPage: textPage,
			Index:    i,
		})
		if err != nil {
			continue
		}

		// Convert PDF coordinates (origin bottom-left) to standard (origin top-left)
		g := glyph{
			Text: rune(unicodeRes.Unicode),
			Box: Rect{
				X0: charBox.Left,
				Y0: pageHeight - charBox.Top,
				X1: charBox.Right,
				Y1: pageHeight - charBox.Bottom,
			},
			FontSize:   12,
			FontWeight: 400,
			FillColor:  RGBA{A: 255},
		}

		if fontSize, err := instance.FPDFText_GetFontSize(&requests.FPDFText_GetFontSize{
			TextPage: textPage,
			Index:    i,
		}); err == nil {
			g.FontSize = fontSize.FontSize
		}

		if fontWeight, err := instance.FPDFText_GetFontWeight(&requests.FPDFText_GetFontWeight{
			TextPage: textPage,
			Index:    i,
		}); err == nil {
			g.FontWeight = fontWeight.FontWeight
		}

		if fontInfo, err := instance.FPDFText_GetFontInfo(&requests.FPDFText_GetFontInfo{
			TextPage: textPage,
			Index:    i,
		}); err == nil {
			g.FontName = fontInfo.FontName
			g.FontFlags = fontInfo.Flags
		}

		if fillColor, err := instance.FPDFText_GetFillColor(&requests.FPDFText_GetFillColor{
			TextPage: textPage,
			Index:    i,
		}); err == nil {
			g.FillColor = RGBA{R: fillColor.R, G: fillColor.G, B: fillColor.B, A: fillColor.A}
		}

		if angle, err := instance.FPDFText_GetCharAngle(&requests.FPDFText_GetCharAngle{
			TextPage: textPage,
			Index:    i,
		}); err == nil {
			g.Angle = angle.CharAngle
		}

		glyphs = append(glyphs, g)
	}

	return glyphs
}

// rotation returns the glyph's quantised angle in degrees; see quantizeAngle.
func (g glyph) rotation() float64 {
	return quantizeAngle(float64(g.Angle) * 180 / math.Pi)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == 0xA0
}

// groupGlyphsIntoRuns groups characters into word runs. Words end at
// whitespace, at a change of rotation, and wherever the text jumps to another
// line or backwards along its reading direction.
func groupGlyphsIntoRuns(glyphs []glyph) []Run {
	var runs []Run
	var word []glyph

	flush := func() {
		if len(word) > 0 {
			runs = append(runs, aggregateRun(word))
			word = nil
		}
	}

	for _, g := range glyphs {
		if isSpace(g.Text) {
			flush()
			continue
		}
		if len(word) > 0 {
			prev := word[len(word)-1]
			if prev.rotation() != g.rotation() || !continuesWord(prev, g) {
				flush()
			}
		}
		word = append(word, g)
	}
	flush()
	return runs
}

// continuesWord reports whether next sits on prev's line and does not step
// back against the reading direction. Both glyphs share a rotation.
func continuesWord(prev, next glyph) bool {
	size := math.Max(prev.FontSize, next.FontSize)
	angle := prev.rotation()
	if angle == 0 {
		lineJump := math.Abs(next.Box.CenterY()-prev.Box.CenterY()) > size*0.5
		backwards := next.Box.X1 < prev.Box.X0
		return !lineJump && !backwards
	}

	along, across := readingAxes(angle)
	lineJump := math.Abs(projectCentre(next.Box, across)-projectCentre(prev.Box, across)) > size*0.5
	prevStart, _ := project(prev.Box, along)
	_, nextEnd := project(next.Box, along)
	return !lineJump && nextEnd >= prevStart
}

// aggregateRun creates a run from a word's characters.
func aggregateRun(chars []glyph) Run {
	var sb strings.Builder
	box := chars[0].Box
	var totalFontSize float64
	weightCounts := make(map[int]int)
	fontCounts := make(map[string]int)
	for _, c := range chars {
		sb.WriteRune(c.Text)
		box = mergeRects(box, c.Box)
		totalFontSize += c.FontSize
		weightCounts[c.FontWeight]++
		fontCounts[c.FontName]++
	}

	// Find dominant font weight and name (most common)
	var dominantWeight, maxCount int
	for weight, count := range weightCounts {
		if count > maxCount || (count == maxCount && weight > dominantWeight) {
			dominantWeight, maxCount = weight, count
		}
	}
	var dominantFont string
	maxCount = 0
	for font, count := range fontCounts {
		if count > maxCount || (count == maxCount && font < dominantFont) {
			dominantFont, maxCount = font, count
		}
	}

	flags := chars[0].FontFlags
	lowerName := strings.ToLower(dominantFont)
	return Run{
		// Ligatures and compatibility forms expand to plain letters
		Text:       norm.NFKC.String(sb.String()),
		Box:        box,
		FontName:   dominantFont,
		FontSize:   totalFontSize / float64(len(chars)),
		FontWeight: dominantWeight,
		Bold:       dominantWeight >= 700 || strings.Contains(lowerName, "bold"),
		Italic:     flags&0x40 != 0 || strings.Contains(lowerName, "italic") || strings.Contains(lowerName, "oblique"),
		Monospace:  flags&0x01 != 0,
		Color:      chars[0].FillColor,
		Rotation:   chars[0].rotation(),
	}
}
