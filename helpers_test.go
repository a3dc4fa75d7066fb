package pdfdocx

import (
	"strings"
)

// textLine lays out words left to right from x with the line's top at y.
// Glyphs are half the font size wide and words are separated by a quarter.
func textLine(x, y, size float64, text string) TextLine {
	var runs []Run
	cursor := x
	for _, word := range strings.Fields(text) {
		w := float64(len([]rune(word))) * size * 0.5
		runs = append(runs, Run{
			Text:       word,
			Box:        Rect{X0: cursor, Y0: y, X1: cursor + w, Y1: y + size},
			FontSize:   size,
			FontWeight: 400,
		})
		cursor += w + size*0.25
	}
	box := Rect{X0: x, Y0: y, X1: x, Y1: y + size}
	if len(runs) > 0 {
		box.X1 = runs[len(runs)-1].Box.X1
	}
	return TextLine{Runs: runs, Box: box, Baseline: y + size*0.8, FontSize: size}
}

// styled returns a copy of the line with every run restyled by fn.
func styled(l TextLine, fn func(*Run)) TextLine {
	runs := make([]Run, len(l.Runs))
	copy(runs, l.Runs)
	for i := range runs {
		fn(&runs[i])
	}
	l.Runs = runs
	return l
}

func bold(r *Run)      { r.Bold = true; r.FontWeight = 700 }
func monospace(r *Run) { r.Monospace = true }

// paragraphLines lays out consecutive lines with the given line pitch.
func paragraphLines(x, y, size, pitch float64, texts ...string) []TextLine {
	lines := make([]TextLine, 0, len(texts))
	for i, t := range texts {
		lines = append(lines, textLine(x, y+float64(i)*pitch, size, t))
	}
	return lines
}

// gridRulings draws full horizontal rulings at ys and vertical rulings at xs.
func gridRulings(xs, ys []float64) []LineSegment {
	var segs []LineSegment
	for _, y := range ys {
		segs = append(segs, LineSegment{X0: xs[0], Y0: y, X1: xs[len(xs)-1], Y1: y, Width: 1})
	}
	for _, x := range xs {
		segs = append(segs, LineSegment{X0: x, Y0: ys[0], X1: x, Y1: ys[len(ys)-1], Width: 1})
	}
	return segs
}

func tableRegion(box Rect) PageRegion {
	return PageRegion{Page: 1, Box: box, Kind: RegionTable}
}

func texts(paragraphs []ParagraphBlock) []string {
	result := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		result = append(result, p.Text())
	}
	return result
}
