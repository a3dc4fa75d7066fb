package pdfdocx

import (
	"math"
	"sort"
)

// assembleLines groups word runs into text lines and orders them for reading.
// Runs sharing a vertical band form a line; lines are split where they cross a
// column gutter so that multi-column pages read one column at a time.
// Rotated runs form their own lines, placed by their top edge.
func assembleLines(runs []Run, pageWidth float64) []TextLine {
	if len(runs) == 0 {
		return nil
	}

	runs, rotated := splitRotated(runs)
	if len(runs) == 0 {
		return mergeRotatedLines(nil, rotated)
	}
	gutters := detectGutters(runs, pageWidth)

	sorted := make([]Run, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Box.CenterY() != sorted[j].Box.CenterY() {
			return sorted[i].Box.CenterY() < sorted[j].Box.CenterY()
		}
		return sorted[i].Box.X0 < sorted[j].Box.X0
	})

	var lines []TextLine
	var current []Run
	var centre float64
	for _, r := range sorted {
		size := math.Max(r.FontSize, r.Box.Height())
		if len(current) > 0 && math.Abs(r.Box.CenterY()-centre) <= size*0.5 {
			current = append(current, r)
			continue
		}
		lines = append(lines, splitAtGutters(current, gutters)...)
		current = []Run{r}
		centre = r.Box.CenterY()
	}
	lines = append(lines, splitAtGutters(current, gutters)...)

	return mergeRotatedLines(orderByColumns(lines, gutters), rotated)
}

// splitAtGutters turns one band of runs into lines, breaking wherever a gap
// between runs contains a gutter.
func splitAtGutters(runs []Run, gutters []float64) []TextLine {
	if len(runs) == 0 {
		return nil
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Box.X0 < runs[j].Box.X0 })

	var lines []TextLine
	start := 0
	for i := 1; i < len(runs); i++ {
		gapStart, gapEnd := runs[i-1].Box.X1, runs[i].Box.X0
		for _, g := range gutters {
			if g > gapStart && g < gapEnd {
				lines = append(lines, lineFromRuns(runs[start:i]))
				start = i
				break
			}
		}
	}
	return append(lines, lineFromRuns(runs[start:]))
}

// lineFromRuns builds a line with the union box, median baseline and the
// font size covering most characters.
func lineFromRuns(runs []Run) TextLine {
	line := TextLine{Runs: append([]Run(nil), runs...), Box: runs[0].Box}
	var bottoms []float64
	sizes := map[float64]int{}
	for _, r := range runs {
		line.Box = mergeRects(line.Box, r.Box)
		bottoms = append(bottoms, r.Box.Y1)
		sizes[math.Round(r.FontSize*2)/2] += len([]rune(r.Text))
	}
	line.Baseline = calculateMedian(bottoms)

	best := -1
	for size, n := range sizes {
		if n > best || (n == best && size > line.FontSize) {
			line.FontSize, best = size, n
		}
	}
	return line
}

// detectGutters finds vertical whitespace channels using a projection profile
// of run extents. It returns the x position of each gutter's centre.
func detectGutters(runs []Run, pageWidth float64) []float64 {
	if pageWidth <= 0 {
		return nil
	}

	// Build vertical projection profile (histogram of text density)
	numBins := int(math.Ceil(pageWidth))
	bins := make([]int, numBins)
	for _, r := range runs {
		startBin := int(math.Max(0, r.Box.X0))
		endBin := int(math.Ceil(r.Box.X1))
		for bin := startBin; bin < endBin && bin < numBins; bin++ {
			bins[bin]++
		}
	}

	return findSignificantValleys(bins, pageWidth)
}

// findSignificantValleys identifies gaps in the text density histogram
func findSignificantValleys(bins []int, pageWidth float64) []float64 {
	var sum, nonZero, first, last int
	first = -1
	for i, count := range bins {
		sum += count
		if count > 0 {
			nonZero++
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if nonZero == 0 {
		return nil
	}

	avgDensity := float64(sum) / float64(nonZero)

	const minValleyWidth = 20.0 // Minimum 20 points wide
	const valleyThreshold = 0.2 // Valley density < 20% of average
	const edgeMargin = 50.0     // Ignore valleys within 50 points of edges
	threshold := int(avgDensity * valleyThreshold)

	// Only valleys between the outermost text count; margins are not gutters.
	var valleys []float64
	valleyStart := -1
	for i := first; i <= last; i++ {
		if bins[i] <= threshold {
			if valleyStart == -1 {
				valleyStart = i
			}
			continue
		}
		if valleyStart != -1 {
			if float64(i-valleyStart) >= minValleyWidth {
				centre := float64(valleyStart+i) / 2.0
				if centre > edgeMargin && centre < pageWidth-edgeMargin {
					valleys = append(valleys, centre)
				}
			}
			valleyStart = -1
		}
	}
	return valleys
}

// orderByColumns emits lines top-to-bottom. Lines crossing a gutter act as
// band separators; between them lines are read column by column.
func orderByColumns(lines []TextLine, gutters []float64) []TextLine {
	sortLinesReadingOrder(lines)
	if len(gutters) == 0 {
		return lines
	}

	column := func(l TextLine) int {
		return sort.SearchFloat64s(gutters, l.Box.CenterX())
	}
	crosses := func(l TextLine) bool {
		for _, g := range gutters {
			if l.Box.X0 < g && l.Box.X1 > g {
				return true
			}
		}
		return false
	}

	ordered := make([]TextLine, 0, len(lines))
	var band []TextLine
	flush := func() {
		sort.SliceStable(band, func(i, j int) bool { return column(band[i]) < column(band[j]) })
		ordered = append(ordered, band...)
		band = nil
	}
	for _, l := range lines {
		if crosses(l) {
			flush()
			ordered = append(ordered, l)
			continue
		}
		band = append(band, l)
	}
	flush()
	return ordered
}
