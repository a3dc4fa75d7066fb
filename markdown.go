package pdfdocx

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/ivanvanderbyl/markdown"
	"github.com/pkg/errors"
)

// MarkdownWriter writes a block stream as GitHub flavoured Markdown. Merged
// table cells are written into their origin cell and the cells they cover are
// left empty, since Markdown tables cannot express spans.
type MarkdownWriter struct {
	// EmbedImages writes images inline as PNG data URIs; otherwise only
	// their alt text is written.
	EmbedImages bool
}

// NewMarkdownWriter returns a writer that embeds images.
func NewMarkdownWriter() *MarkdownWriter {
	return &MarkdownWriter{EmbedImages: true}
}

func (w *MarkdownWriter) Write(out io.Writer, blocks []Block) error {
	md := markdown.NewMarkdown(out)

	images := 0
	for _, b := range normalizeHeadings(blocks) {
		switch b := b.(type) {
		case ParagraphBlock:
			writeParagraphMarkdown(md, b)
		case TableBlock:
			writeTableMarkdown(md, b.Grid)
		case ImageBlock:
			if b.Image == nil || b.Image.Image == nil {
				md.PlainText(markdown.Italic(fmt.Sprintf("[Image unavailable (page %d)]", b.Source.Page)))
				break
			}
			images++
			alt := fmt.Sprintf("Image %d (page %d)", images, b.Source.Page)
			if !w.EmbedImages {
				md.PlainText(markdown.Italic("[" + alt + "]"))
				break
			}
			data, err := encodePNG(b.Image.Image)
			if err != nil {
				return errors.Wrapf(err, "page %d", b.Source.Page)
			}
			md.PlainText(fmt.Sprintf("![%s](data:image/png;base64,%s)", alt, base64.StdEncoding.EncodeToString(data)))
		case PlaceholderBlock:
			md.PlainText(markdown.Italic(fmt.Sprintf("[Image unavailable (page %d)]", b.Source.Page)))
		case PageBreakBlock:
			md.HorizontalRule()
		}
		md.LF()
	}

	return errors.Wrap(md.Build(), "failed to build markdown")
}

// writeParagraphMarkdown converts a single paragraph using the builder.
func writeParagraphMarkdown(md *markdown.Markdown, para ParagraphBlock) {
	if len(para.Lines) == 0 {
		return
	}

	if para.HeadingLevel > 0 {
		text := strings.TrimSpace(para.Text())
		switch para.HeadingLevel {
		case 1:
			md.H1(text)
		case 2:
			md.H2(text)
		case 3:
			md.H3(text)
		case 4:
			md.H4(text)
		case 5:
			md.H5(text)
		default:
			md.H6(text)
		}
		return
	}

	if para.IsCode {
		lines := para.SoftBreaks()
		for i, line := range lines {
			lines[i] = strings.TrimRight(line, " \t")
		}
		md.CodeBlocks(markdown.SyntaxHighlightNone, strings.Join(lines, "\n"))
		return
	}

	text := inlineMarkdown(para)
	if para.IsList {
		text = stripListMarker(text, para.ListKind)
		if para.ListKind == ListNumbered {
			md.OrderedList(text)
		} else {
			md.BulletList(text)
		}
		return
	}

	md.PlainText(text)
}

// inlineMarkdown renders a paragraph's text with bold, italic and code spans.
func inlineMarkdown(para ParagraphBlock) string {
	var sb strings.Builder
	for _, s := range styledSpans(para) {
		body := strings.TrimSpace(s.Text)
		if body == "" {
			sb.WriteString(s.Text)
			continue
		}
		lead := s.Text[:len(s.Text)-len(strings.TrimLeft(s.Text, " "))]
		trail := s.Text[len(strings.TrimRight(s.Text, " ")):]

		sb.WriteString(lead)
		switch {
		case s.Monospace:
			sb.WriteString(markdown.Code(body))
		case s.Bold && s.Italic:
			sb.WriteString(markdown.BoldItalic(body))
		case s.Bold:
			sb.WriteString(markdown.Bold(body))
		case s.Italic:
			sb.WriteString(markdown.Italic(body))
		default:
			sb.WriteString(body)
		}
		sb.WriteString(trail)
	}
	return strings.TrimSpace(sb.String())
}

// writeTableMarkdown converts a grid using the builder; the first row is the
// header.
func writeTableMarkdown(md *markdown.Markdown, grid *TableGrid) {
	if grid == nil || grid.Rows == 0 || grid.Cols == 0 {
		return
	}

	cells := make([][]string, grid.Rows)
	for r := range cells {
		cells[r] = make([]string, grid.Cols)
	}
	for _, span := range grid.Spans {
		var parts []string
		for _, p := range span.Content {
			if t := inlineMarkdown(p); t != "" {
				parts = append(parts, t)
			}
		}
		// Pipes would end the cell early.
		text := strings.ReplaceAll(strings.Join(parts, " "), "|", `\|`)
		cells[span.Row][span.Col] = strings.ReplaceAll(text, "\n", " ")
	}

	rows := cells[1:]
	// A header-only table still needs a body row to be valid
	if len(rows) == 0 {
		rows = [][]string{make([]string, grid.Cols)}
	}

	md.Table(markdown.TableSet{
		Header: cells[0],
		Rows:   rows,
	})
}
