package pdfdocx

import (
	"math"
	"sort"
)

// Segment is a group of horizontally adjacent runs within one line, the text
// unit of a table cell. Based on the PDF-TREX segmenting step.
type Segment = TextLine

// LineType represents the classification of a line in table detection
type LineType string

const (
	FlowLine    LineType = "TxL" // Text line (single segment spanning > 50% width)
	TableLine   LineType = "TbL" // Table line (multiple segments)
	UnknownLine LineType = "UnL" // Unknown line (single segment spanning < 50% width)
)

// TaggedLine is a line with its type classification
type TaggedLine struct {
	Line     TextLine
	Segments []Segment
	Type     LineType
}

// medianLineHeight returns the median height of the lines, zero for none.
func medianLineHeight(lines []TextLine) float64 {
	heights := make([]float64, 0, len(lines))
	for _, l := range lines {
		if h := l.Height(); h > 0 {
			heights = append(heights, h)
		}
	}
	return calculateMedian(heights)
}

// buildSegmentsFromLine splits a line into segments wherever the horizontal
// gap between consecutive runs exceeds hT.
func buildSegmentsFromLine(line TextLine, hT float64) []Segment {
	if len(line.Runs) == 0 {
		return nil
	}

	runs := make([]Run, len(line.Runs))
	copy(runs, line.Runs)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Box.X0 < runs[j].Box.X0 })

	var segments []Segment
	current := []Run{runs[0]}
	for _, run := range runs[1:] {
		if horizontalDistance(current[len(current)-1].Box, run.Box) > hT {
			segments = append(segments, segmentFromRuns(line, current))
			current = []Run{run}
			continue
		}
		current = append(current, run)
	}
	segments = append(segments, segmentFromRuns(line, current))

	// Drop whitespace-only segments
	result := segments[:0]
	for _, s := range segments {
		if !s.IsBlank() {
			result = append(result, s)
		}
	}
	return result
}

// segmentFromRuns builds a segment that inherits the line's metrics.
func segmentFromRuns(line TextLine, runs []Run) Segment {
	box := runs[0].Box
	for _, r := range runs[1:] {
		box = mergeRects(box, r.Box)
	}
	if box.Height() <= 0 {
		box.Y0, box.Y1 = line.Box.Y0, line.Box.Y1
	}
	return Segment{
		Runs:     runs,
		Box:      box,
		Baseline: line.Baseline,
		FontSize: line.FontSize,
	}
}

// splitIntoSegments segments every line using a gap threshold derived from the
// median line height and returns the segments sorted top-to-bottom, left-to-right.
func splitIntoSegments(lines []TextLine, gapFactor float64) []Segment {
	hT := medianLineHeight(lines) * gapFactor
	if hT <= 0 {
		hT = 12 * gapFactor
	}

	var segments []Segment
	for _, line := range lines {
		segments = append(segments, buildSegmentsFromLine(line, hT)...)
	}
	sortLinesReadingOrder(segments)
	return segments
}

// tagLine classifies a line based on its segments
// Implements PDF-TREX line tagging algorithm
func tagLine(segments []Segment, pageWidth float64) LineType {
	if len(segments) == 0 {
		return UnknownLine
	}

	if len(segments) == 1 {
		// Single segment: check if it spans more than half the page width
		if segments[0].Box.Width() > pageWidth*0.5 {
			return FlowLine
		}
		return UnknownLine
	}

	// Multiple segments indicate table structure
	return TableLine
}

// buildTaggedLines creates tagged lines with segments from regular lines
func buildTaggedLines(lines []TextLine, hT float64, pageWidth float64) []TaggedLine {
	taggedLines := make([]TaggedLine, 0, len(lines))
	for _, line := range lines {
		segments := buildSegmentsFromLine(line, hT)
		taggedLines = append(taggedLines, TaggedLine{
			Line:     line,
			Segments: segments,
			Type:     tagLine(segments, pageWidth),
		})
	}
	return taggedLines
}

// alignedStarts counts segment left edges of b that line up with one of a's.
func alignedStarts(a, b []Segment, tol float64) int {
	n := 0
	for _, sb := range b {
		for _, sa := range a {
			if math.Abs(sa.Box.X0-sb.Box.X0) <= tol {
				n++
				break
			}
		}
	}
	return n
}

// ProposeTableRegions finds candidate table regions on a page whose decoder
// supplied none. Connected clusters of rulings always qualify; runs of
// consecutive multi-segment lines with aligned columns qualify when
// textTables is set.
func ProposeTableRegions(page *PageContent, settings TableSettings, textTables bool) []PageRegion {
	var regions []PageRegion
	for _, box := range rulingClusters(page.Rulings, settings) {
		regions = append(regions, PageRegion{Page: page.Number, Box: box, Kind: RegionTable})
	}

	if textTables {
		for _, box := range textTableAreas(page, settings) {
			overlaps := false
			for _, r := range page.Regions {
				if rectsOverlap(r.Box, box) {
					overlaps = true
					break
				}
			}
			for _, r := range regions {
				if rectsOverlap(r.Box, box) {
					overlaps = true
					break
				}
			}
			if !overlaps {
				regions = append(regions, PageRegion{Page: page.Number, Box: box, Kind: RegionTable})
			}
		}
	}

	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Box.Y0 != regions[j].Box.Y0 {
			return regions[i].Box.Y0 < regions[j].Box.Y0
		}
		return regions[i].Box.X0 < regions[j].Box.X0
	})
	return regions
}

// rulingClusters groups touching rulings and returns the bounding box of every
// group with at least three horizontal and three vertical rulings.
func rulingClusters(rulings []LineSegment, settings TableSettings) []Rect {
	type item struct {
		box Rect
		o   Orientation
	}
	var items []item
	for _, seg := range rulings {
		o := seg.Orientation()
		if o == Oblique || seg.Length() < settings.EdgeMinLength {
			continue
		}
		items = append(items, item{box: seg.Bounds(), o: o})
	}

	parent := make([]int, len(items))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range items {
		a := expandRect(items[i].box, settings.JoinTolerance)
		for j := i + 1; j < len(items); j++ {
			b := items[j].box
			if a.X1 >= b.X0 && b.X1 >= a.X0 && a.Y1 >= b.Y0 && b.Y1 >= a.Y0 {
				parent[find(j)] = find(i)
			}
		}
	}

	type cluster struct {
		box  Rect
		h, v int
	}
	clusters := map[int]*cluster{}
	var order []int
	for i, it := range items {
		root := find(i)
		c, ok := clusters[root]
		if !ok {
			c = &cluster{box: it.box}
			clusters[root] = c
			order = append(order, root)
		}
		c.box = mergeRects(c.box, it.box)
		if it.o == Horizontal {
			c.h++
		} else {
			c.v++
		}
	}

	var boxes []Rect
	for _, root := range order {
		c := clusters[root]
		if c.h >= 3 && c.v >= 3 {
			boxes = append(boxes, c.box)
		}
	}
	return boxes
}

// textTableAreas returns areas made of at least two consecutive table lines
// whose segment starts align.
func textTableAreas(page *PageContent, settings TableSettings) []Rect {
	mh := medianLineHeight(page.Lines)
	if mh <= 0 {
		return nil
	}
	tagged := buildTaggedLines(page.Lines, mh*settings.SegmentGapFactor, page.Width)
	colTol := mh * settings.ColumnGapFactor

	var areas []Rect
	var current []TaggedLine
	flush := func() {
		if len(current) >= 2 {
			box := current[0].Line.Box
			for _, tl := range current[1:] {
				box = mergeRects(box, tl.Line.Box)
			}
			areas = append(areas, box)
		}
		current = nil
	}

	for _, tl := range tagged {
		if tl.Type != TableLine {
			flush()
			continue
		}
		if len(current) > 0 && alignedStarts(current[len(current)-1].Segments, tl.Segments, colTol) < 2 {
			flush()
		}
		current = append(current, tl)
	}
	flush()
	return areas
}
