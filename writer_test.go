package pdfdocx

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cellParagraph(text string) []ParagraphBlock {
	return []ParagraphBlock{{Lines: []TextLine{textLine(0, 0, 10, text)}}}
}

// mergedGrid has a header spanning both columns and a row label spanning the
// two body rows.
func mergedGrid() *TableGrid {
	return &TableGrid{
		Rows: 3,
		Cols: 2,
		Spans: []CellSpan{
			{Row: 0, Col: 0, RowSpan: 1, ColSpan: 2, Content: cellParagraph("Header")},
			{Row: 1, Col: 0, RowSpan: 2, ColSpan: 1, Content: cellParagraph("Group")},
			{Row: 1, Col: 1, RowSpan: 1, ColSpan: 1, Content: cellParagraph("a|b")},
			{Row: 2, Col: 1, RowSpan: 1, ColSpan: 1, Content: cellParagraph("last")},
		},
	}
}

func sampleBlocks() []Block {
	body := textLine(100, 100, 10, "some bold text")
	body.Runs[1].Bold = true
	body.Runs[1].FontWeight = 700

	return []Block{
		ParagraphBlock{Page: 1, HeadingLevel: 2, Lines: []TextLine{textLine(100, 50, 20, "Title")}},
		ParagraphBlock{Page: 1, Lines: []TextLine{body}},
		ParagraphBlock{Page: 1, IsList: true, ListKind: ListBullet, Lines: []TextLine{textLine(100, 130, 10, "• first item")}},
		ParagraphBlock{Page: 1, IsCode: true, Lines: paragraphLines(100, 160, 10, 12, "x := 1", "y := 2")},
		TableBlock{Grid: mergedGrid(), Source: tableRegion(Rect{X0: 100, Y0: 200, X1: 300, Y1: 300})},
		PageBreakBlock{Page: 1},
		ImageBlock{Image: &ImageCandidate{Image: checker(4, 4), Width: 4, Height: 4}, Source: PageRegion{Page: 2, Kind: RegionImage}},
		PlaceholderBlock{Source: PageRegion{Page: 2, Kind: RegionImage}, Reason: "no candidate"},
	}
}

func TestMarkdownWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMarkdownWriter().Write(&buf, sampleBlocks()))
	out := buf.String()

	// The only heading level is 2, so it is promoted to 1
	assert.Contains(t, out, "# Title")
	assert.NotContains(t, out, "## Title")

	assert.Contains(t, out, "some **bold** text")

	assert.Contains(t, out, "first item")
	assert.NotContains(t, out, "•")

	assert.Contains(t, out, "```")
	assert.Contains(t, out, "x := 1\ny := 2")

	assert.Contains(t, out, "Header")
	assert.Contains(t, out, "Group")
	assert.Contains(t, out, `a\|b`)
	assert.Contains(t, out, "|")

	assert.Contains(t, out, "---")
	assert.Contains(t, out, "![Image 1 (page 2)](data:image/png;base64,")
	assert.Contains(t, out, "[Image unavailable (page 2)]")

	// Reading order is kept
	assert.Less(t, strings.Index(out, "Title"), strings.Index(out, "Header"))
	assert.Less(t, strings.Index(out, "Header"), strings.Index(out, "Image unavailable"))
}

func TestMarkdownWriter_WithoutImages(t *testing.T) {
	var buf bytes.Buffer
	w := &MarkdownWriter{EmbedImages: false}
	require.NoError(t, w.Write(&buf, sampleBlocks()))

	assert.Contains(t, buf.String(), "[Image 1 (page 2)]")
	assert.NotContains(t, buf.String(), "data:image")
}

func TestMarkdownWriter_HeaderOnlyTable(t *testing.T) {
	grid := &TableGrid{Rows: 1, Cols: 2, Spans: []CellSpan{
		{Row: 0, Col: 0, RowSpan: 1, ColSpan: 1, Content: cellParagraph("Left")},
		{Row: 0, Col: 1, RowSpan: 1, ColSpan: 1, Content: cellParagraph("Right")},
	}}

	var buf bytes.Buffer
	require.NoError(t, NewMarkdownWriter().Write(&buf, []Block{TableBlock{Grid: grid}}))
	assert.Contains(t, buf.String(), "Left")
	assert.Contains(t, buf.String(), "Right")
}

func TestHTMLWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewHTMLWriter().Write(&buf, sampleBlocks()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<h1>Title</h1>")
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<img")
	assert.True(t, strings.HasSuffix(out, "</html>\n"))
}

// documentXML returns word/document.xml from a written docx.
func documentXML(t *testing.T, data []byte) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(body)
	}
	t.Fatal("word/document.xml not found")
	return ""
}

func TestDocxWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewDocxWriter().Write(&buf, sampleBlocks()))

	xml := documentXML(t, buf.Bytes())
	assert.Contains(t, xml, "Title")
	assert.Contains(t, xml, "first item")
	assert.Contains(t, xml, "Header")
	assert.Contains(t, xml, "Group")
	assert.Contains(t, xml, "gridSpan")
	assert.Contains(t, xml, "vMerge")
	assert.Contains(t, xml, "Image unavailable (page 2)")
}

func TestResult_Write(t *testing.T) {
	result := &Result{Blocks: []Block{
		ParagraphBlock{Lines: []TextLine{textLine(0, 0, 10, "hello world")}},
	}}

	var buf bytes.Buffer
	require.NoError(t, result.Write(&buf, NewMarkdownWriter()))
	assert.Contains(t, buf.String(), "hello world")
}

func TestStyledSpans(t *testing.T) {
	t.Run("hyphenated words are joined", func(t *testing.T) {
		p := ParagraphBlock{Lines: paragraphLines(0, 0, 10, 12, "inter-", "national trade")}
		assert.Equal(t, []styledText{{Text: "international trade"}}, styledSpans(p))
	})

	t.Run("hyphen before a capital is kept", func(t *testing.T) {
		p := ParagraphBlock{Lines: paragraphLines(0, 0, 10, 12, "Anglo-", "Saxon")}
		assert.Equal(t, []styledText{{Text: "Anglo- Saxon"}}, styledSpans(p))
	})

	t.Run("adjacent runs with one style merge", func(t *testing.T) {
		l := styled(textLine(0, 0, 10, "all bold words"), bold)
		spans := styledSpans(ParagraphBlock{Lines: []TextLine{l}})
		assert.Equal(t, []styledText{{Text: "all bold words", Bold: true}}, spans)
	})

	t.Run("style changes split spans", func(t *testing.T) {
		l := textLine(0, 0, 10, "call fn now")
		l.Runs[1].Monospace = true
		spans := styledSpans(ParagraphBlock{Lines: []TextLine{l}})
		assert.Equal(t, []styledText{
			{Text: "call"},
			{Text: " fn", Monospace: true},
			{Text: " now"},
		}, spans)
	})

	t.Run("blank lines are skipped", func(t *testing.T) {
		p := ParagraphBlock{Lines: []TextLine{textLine(0, 0, 10, "one"), {}, textLine(0, 24, 10, "two")}}
		assert.Equal(t, []styledText{{Text: "one two"}}, styledSpans(p))
	})
}

func TestStripListMarker(t *testing.T) {
	assert.Equal(t, "first item", stripListMarker("• first item", ListBullet))
	assert.Equal(t, "second", stripListMarker("2. second", ListNumbered))
	assert.Equal(t, "• kept", stripListMarker("• kept", ListNone))
	assert.Equal(t, "-", stripListMarker("-", ListBullet))
}

func TestNormalizeHeadings(t *testing.T) {
	blocks := []Block{
		ParagraphBlock{HeadingLevel: 3},
		ParagraphBlock{},
		ParagraphBlock{HeadingLevel: 4},
		PageBreakBlock{Page: 1},
	}
	result := normalizeHeadings(blocks)
	assert.Equal(t, 1, result[0].(ParagraphBlock).HeadingLevel)
	assert.Equal(t, 0, result[1].(ParagraphBlock).HeadingLevel)
	assert.Equal(t, 2, result[2].(ParagraphBlock).HeadingLevel)
	assert.Equal(t, PageBreakBlock{Page: 1}, result[3])
	// The input is untouched
	assert.Equal(t, 3, blocks[0].(ParagraphBlock).HeadingLevel)

	top := []Block{ParagraphBlock{HeadingLevel: 1}, ParagraphBlock{HeadingLevel: 2}}
	assert.Equal(t, top, normalizeHeadings(top))
}

func TestWriters_ImageBlockWithoutImage(t *testing.T) {
	blocks := []Block{ImageBlock{Source: PageRegion{Page: 5, Kind: RegionImage}}}

	var md bytes.Buffer
	require.NoError(t, NewMarkdownWriter().Write(&md, blocks))
	assert.Contains(t, md.String(), "[Image unavailable (page 5)]")

	var doc bytes.Buffer
	require.NoError(t, NewDocxWriter().Write(&doc, blocks))
	assert.Contains(t, documentXML(t, doc.Bytes()), "Image unavailable (page 5)")
}
