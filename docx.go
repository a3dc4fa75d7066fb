package pdfdocx

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fumiama/go-docx"
	"github.com/pkg/errors"
)

// headingSizes are the run sizes in half-points for heading levels 1-6.
var headingSizes = [...]int{40, 32, 28, 26, 24, 22}

// DocxWriter writes a block stream as a Word document. Merged table cells are
// written as real merges: horizontal spans with gridSpan and vertical spans
// with vMerge.
type DocxWriter struct{}

// NewDocxWriter creates a Word document writer.
func NewDocxWriter() *DocxWriter {
	return &DocxWriter{}
}

func (w *DocxWriter) Write(out io.Writer, blocks []Block) error {
	doc := docx.New().WithDefaultTheme()

	for _, b := range normalizeHeadings(blocks) {
		switch b := b.(type) {
		case ParagraphBlock:
			writeParagraphDocx(doc.AddParagraph, b)
		case TableBlock:
			writeTableDocx(doc, b.Grid)
		case ImageBlock:
			if b.Image == nil || b.Image.Image == nil {
				doc.AddParagraph().AddText(fmt.Sprintf("[Image unavailable (page %d)]", b.Source.Page)).Italic()
				break
			}
			data, err := encodePNG(b.Image.Image)
			if err != nil {
				return errors.Wrapf(err, "page %d", b.Source.Page)
			}
			if _, err := doc.AddParagraph().AddInlineDrawing(data); err != nil {
				return errors.Wrapf(err, "failed to embed image on page %d", b.Source.Page)
			}
		case PlaceholderBlock:
			doc.AddParagraph().AddText(fmt.Sprintf("[Image unavailable (page %d)]", b.Source.Page)).Italic()
		case PageBreakBlock:
			doc.AddParagraph().AddPageBreaks()
		}
	}

	_, err := doc.WriteTo(out)
	return errors.Wrap(err, "failed to write docx")
}

// writeParagraphDocx adds the block through add, which appends a paragraph to
// the body or a table cell. Code blocks become one paragraph per line.
func writeParagraphDocx(add func() *docx.Paragraph, p ParagraphBlock) {
	if p.IsCode {
		for _, line := range p.SoftBreaks() {
			add().AddText(line).Font("Courier New", "Courier New", "Courier New", "default")
		}
		return
	}

	para := add()
	switch p.Alignment {
	case AlignmentCenter:
		para.Justification("center")
	case AlignmentRight:
		para.Justification("right")
	case AlignmentJustified:
		para.Justification("both")
	}

	spans := formattedSpans(p)
	if p.HeadingLevel > 0 {
		level := min(p.HeadingLevel, len(headingSizes))
		para.Style("Heading" + strconv.Itoa(level))
		r := para.AddText(p.Text()).Bold().Size(strconv.Itoa(headingSizes[level-1]))
		if len(spans) > 0 {
			// Headings keep their level's size but the source face and colour
			f := spans[0].Format
			f.HalfPoints = 0
			applyFormat(r, f)
		}
		return
	}

	if p.IsList && len(spans) > 0 {
		para.AddText("\t")
	}
	for _, s := range spans {
		r := para.AddText(s.Text)
		if s.Bold {
			r.Bold()
		}
		if s.Italic {
			r.Italic()
		}
		applyFormat(r, s.Format)
	}
}

// applyFormat sets the run's font family, size and colour where known.
func applyFormat(r *docx.Run, f textFormat) {
	if f.Family != "" {
		r.Font(f.Family, f.Family, f.Family, "default")
	}
	if f.HalfPoints > 0 {
		r.Size(strconv.Itoa(f.HalfPoints))
	}
	if f.Color != "" {
		r.Color(f.Color)
	}
}

// writeTableDocx adds the grid as a table. Only the origin cell of a span
// carries content; cells covered horizontally are removed from their row and
// the origin's gridSpan widened, and rows below the origin continue the
// vertical merge.
func writeTableDocx(doc *docx.Docx, grid *TableGrid) {
	if grid == nil || grid.Rows == 0 || grid.Cols == 0 {
		return
	}

	tbl := doc.AddTable(grid.Rows, grid.Cols, 0, nil)
	for r, row := range tbl.TableRows {
		kept := row.TableCells[:0]
		for c, cell := range row.TableCells {
			span, ok := grid.SpanAt(r, c)
			if !ok || c != span.Col {
				continue
			}

			if cell.TableCellProperties == nil {
				cell.TableCellProperties = &docx.WTableCellProperties{}
			}
			if span.ColSpan > 1 {
				cell.TableCellProperties.GridSpan = &docx.WGridSpan{Val: span.ColSpan}
			}
			if span.RowSpan > 1 {
				if r == span.Row {
					cell.TableCellProperties.VMerge = &docx.WvMerge{Val: "restart"}
				} else {
					cell.TableCellProperties.VMerge = &docx.WvMerge{}
				}
			}

			if r == span.Row && len(span.Content) > 0 {
				for _, p := range span.Content {
					writeParagraphDocx(cell.AddParagraph, p)
				}
			} else {
				cell.AddParagraph()
			}
			kept = append(kept, cell)
		}
		row.TableCells = kept
	}
}
