package pdfdocx

import (
	"bytes"
	"image"
	"image/png"
	"strings"

	"github.com/pkg/errors"
)

// styledText is a piece of paragraph text sharing one inline style.
type styledText struct {
	Text      string
	Bold      bool
	Italic    bool
	Monospace bool
	Format    textFormat
}

func (s styledText) sameStyle(o styledText) bool {
	return s.Bold == o.Bold && s.Italic == o.Italic && s.Monospace == o.Monospace && s.Format == o.Format
}

// styledSpans flattens a paragraph into styled pieces of text, joining wrapped
// lines the way ParagraphBlock.Text does.
func styledSpans(p ParagraphBlock) []styledText {
	return flattenSpans(p, nil)
}

// formattedSpans is styledSpans that also splits on font family, size and
// colour.
func formattedSpans(p ParagraphBlock) []styledText {
	return flattenSpans(p, runFormat)
}

func flattenSpans(p ParagraphBlock, format func(Run) textFormat) []styledText {
	var spans []styledText
	push := func(s styledText) {
		if n := len(spans); n > 0 && spans[n-1].sameStyle(s) {
			spans[n-1].Text += s.Text
			return
		}
		spans = append(spans, s)
	}
	space := func(s styledText) styledText {
		s.Text = " "
		return s
	}

	for _, l := range p.Lines {
		text := l.Text()
		if text == "" {
			continue
		}
		if len(spans) > 0 {
			last := &spans[len(spans)-1]
			if strings.HasSuffix(last.Text, "-") && startsLower(text) && !p.IsCode {
				last.Text = strings.TrimSuffix(last.Text, "-")
			} else {
				push(space(*last))
			}
		}
		for i, r := range l.Runs {
			run := strings.TrimSpace(r.Text)
			if run == "" {
				continue
			}
			s := styledText{Bold: r.Bold || r.FontWeight >= 600, Italic: r.Italic, Monospace: r.Monospace}
			if format != nil {
				s.Format = format(r)
			}
			if i > 0 && needsSpace(l.Runs[i-1], r) {
				push(space(s))
			}
			s.Text = run
			push(s)
		}
	}
	return spans
}

// normalizeHeadings shifts heading levels so the largest heading in the
// document becomes level 1.
func normalizeHeadings(blocks []Block) []Block {
	top := 0
	for _, b := range blocks {
		if p, ok := b.(ParagraphBlock); ok && p.HeadingLevel > 0 && (top == 0 || p.HeadingLevel < top) {
			top = p.HeadingLevel
		}
	}
	if top <= 1 {
		return blocks
	}

	result := make([]Block, len(blocks))
	for i, b := range blocks {
		if p, ok := b.(ParagraphBlock); ok && p.HeadingLevel > 0 {
			p.HeadingLevel -= top - 1
			b = p
		}
		result[i] = b
	}
	return result
}

// encodePNG encodes an extracted image for embedding.
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "failed to encode image")
	}
	return buf.Bytes(), nil
}

// stripListMarker removes the bullet or ordinal that opens a list item.
func stripListMarker(text string, kind ListKind) string {
	if kind == ListNone {
		return text
	}
	if _, rest, found := strings.Cut(text, " "); found {
		return strings.TrimSpace(rest)
	}
	return text
}
