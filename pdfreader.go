package pdfdocx

import (
	"context"
	"io"
	"math"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// defaultMediaBox is US Letter, used when a page carries no usable MediaBox.
var defaultMediaBox = [4]float64{0, 0, 612, 792}

// GoDecoder decodes pages with a pure-Go PDF parser. It yields text and
// rectangle rulings only: it has no rasteriser, so image regions are never
// reported.
type GoDecoder struct {
	reader *pdf.Reader
	file   *os.File
}

// OpenGoFile opens a PDF file for pure-Go decoding.
func OpenGoFile(path string) (*GoDecoder, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PDF document")
	}
	return &GoDecoder{reader: reader, file: f}, nil
}

// OpenGoReader decodes a PDF held by r.
func OpenGoReader(r io.ReaderAt, size int64) (*GoDecoder, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PDF document")
	}
	return &GoDecoder{reader: reader}, nil
}

// PageCount returns the number of pages in the document.
func (d *GoDecoder) PageCount() int {
	return d.reader.NumPage()
}

// Close releases the underlying file, if the decoder opened one.
func (d *GoDecoder) Close() error {
	if d.file == nil {
		return nil
	}
	return errors.Wrap(d.file.Close(), "failed to close PDF document")
}

// DecodePage extracts text lines and rulings of the page at the 0-based index.
// Malformed content streams make the parser panic; those are reported as
// errors for the page.
func (d *GoDecoder) DecodePage(ctx context.Context, index int) (content *PageContent, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= d.PageCount() {
		return nil, errors.Errorf("page index %d out of range [0,%d)", index, d.PageCount())
	}

	defer func() {
		if r := recover(); r != nil {
			content, err = nil, errors.Errorf("malformed content on page %d: %v", index+1, r)
		}
	}()

	page := d.reader.Page(index + 1)
	if page.V.IsNull() {
		return nil, errors.Errorf("page %d not found", index+1)
	}

	box := mediaBox(page.V)
	width, height := box[2]-box[0], box[3]-box[1]
	content = &PageContent{
		Number: index + 1,
		Width:  width,
		Height: height,
	}

	pc := page.Content()
	runs := textToRuns(pc.Text, box[0], box[3])
	content.Lines = assembleLines(runs, width)

	for _, r := range pc.Rect {
		x0, x1 := math.Min(r.Min.X, r.Max.X)-box[0], math.Max(r.Min.X, r.Max.X)-box[0]
		y0, y1 := box[3]-math.Max(r.Min.Y, r.Max.Y), box[3]-math.Min(r.Min.Y, r.Max.Y)
		for _, seg := range boundsToSegments(x0, y0, x1, y1) {
			if !isPageBorder(seg, width, height) {
				content.Rulings = append(content.Rulings, seg)
			}
		}
	}

	return content, nil
}

// mediaBox reads the page's MediaBox, following the inheritance chain through
// parent page tree nodes.
func mediaBox(v pdf.Value) [4]float64 {
	for node := v; !node.IsNull(); node = node.Key("Parent") {
		mb := node.Key("MediaBox")
		if mb.Kind() != pdf.Array || mb.Len() != 4 {
			continue
		}
		var box [4]float64
		for i := range box {
			box[i] = mb.Index(i).Float64()
		}
		if box[0] > box[2] {
			box[0], box[2] = box[2], box[0]
		}
		if box[1] > box[3] {
			box[1], box[3] = box[3], box[1]
		}
		if box[2]-box[0] > 0 && box[3]-box[1] > 0 {
			return box
		}
	}
	return defaultMediaBox
}

// textToRuns groups the parser's glyph-level text into word runs. Words end
// at spaces, at horizontal gaps wider than a fifth of the font size, on a
// baseline change, and on a font change.
func textToRuns(texts []pdf.Text, originX, top float64) []Run {
	var runs []Run
	var sb strings.Builder
	var cur Run
	var lastX1, lastY float64
	open := false

	flush := func() {
		if open && strings.TrimSpace(sb.String()) != "" {
			cur.Text = norm.NFKC.String(strings.TrimSpace(sb.String()))
			runs = append(runs, cur)
		}
		sb.Reset()
		open = false
	}

	for _, t := range texts {
		if t.S == "" {
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = 12
		}
		x := t.X - originX
		if open {
			sameLine := math.Abs(t.Y-lastY) <= size*0.2
			gap := x - lastX1
			if !sameLine || gap > size*0.2 || gap < -size || t.Font != cur.FontName || size != cur.FontSize {
				flush()
			}
		}
		if strings.TrimSpace(t.S) == "" {
			flush()
			lastX1, lastY = x+t.W, t.Y
			continue
		}

		box := Rect{X0: x, Y0: top - t.Y - 0.8*size, X1: x + t.W, Y1: top - t.Y + 0.2*size}
		if !open {
			cur = runFromFont(t.Font, size)
			cur.Box = box
			open = true
		} else {
			cur.Box = mergeRects(cur.Box, box)
		}
		sb.WriteString(t.S)
		lastX1, lastY = x+t.W, t.Y
	}
	flush()
	return runs
}

// runFromFont derives style flags from a base font name such as
// "ABCDEF+Helvetica-BoldOblique".
func runFromFont(font string, size float64) Run {
	name := font
	if i := strings.IndexByte(name, '+'); i == 6 {
		name = name[i+1:]
	}
	lower := strings.ToLower(name)
	bold := strings.Contains(lower, "bold") || strings.Contains(lower, "black") || strings.Contains(lower, "heavy")
	weight := 400
	if bold {
		weight = 700
	}
	mono := false
	for _, m := range []string{"courier", "mono", "consolas", "menlo"} {
		if strings.Contains(lower, m) {
			mono = true
			break
		}
	}
	return Run{
		FontName:   font,
		FontSize:   size,
		FontWeight: weight,
		Bold:       bold,
		Italic:     strings.Contains(lower, "italic") || strings.Contains(lower, "oblique"),
		Monospace:  mono,
		Color:      RGBA{A: 255},
	}
}
