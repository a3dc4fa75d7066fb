package pdfdocx

import (
	"math"
	"sort"
)

// TableInferrer reconstructs table topology from rulings and text geometry.
// It holds no state besides its settings and is safe for concurrent use.
type TableInferrer struct {
	settings TableSettings
}

// NewTableInferrer creates an inferrer with the given settings.
func NewTableInferrer(settings TableSettings) *TableInferrer {
	return &TableInferrer{settings: settings}
}

// Infer builds a TableGrid for the region. Ruling-based inference is tried
// first, then text clustering. When neither yields a valid grid it returns a
// nil grid and an *InferenceFailure; the caller should treat the region as
// flowing text.
func (t *TableInferrer) Infer(region PageRegion, rulings []LineSegment, blocks []TextLine) (*TableGrid, error) {
	inside := linesInRegion(region.Box, blocks, t.settings.SnapTolerance)
	segments := splitIntoSegments(inside, t.settings.SegmentGapFactor)

	if grid := t.inferFromRulings(region, rulings, segments); grid != nil {
		return grid, nil
	}

	if !t.settings.DisableTextFallback {
		if grid := t.inferFromText(region, segments); grid != nil {
			return grid, nil
		}
	}

	return nil, &InferenceFailure{Region: region, Reason: "no ruling grid and text did not form two or more columns"}
}

// linesInRegion returns copies of the lines whose centre falls inside the
// region, sorted into reading order.
func linesInRegion(box Rect, lines []TextLine, tol float64) []TextLine {
	area := expandRect(box, tol)
	var result []TextLine
	for _, l := range lines {
		if area.ContainsPoint(l.Box.CenterX(), l.Box.CenterY()) {
			result = append(result, l)
		}
	}
	sortLinesReadingOrder(result)
	return result
}

// inferFromRulings clusters rulings into row/column boundaries. It returns nil
// unless the boundaries form at least a 2x2 grid.
func (t *TableInferrer) inferFromRulings(region PageRegion, rulings []LineSegment, segments []Segment) *TableGrid {
	if len(rulings) == 0 {
		return nil
	}

	rs := collectRulings(region.Box, rulings, t.settings)
	ys := rs.boundaries(Horizontal)
	xs := rs.boundaries(Vertical)
	if len(ys) < 3 || len(xs) < 3 {
		return nil
	}

	b := &gridBuilder{
		xs:       xs,
		ys:       ys,
		settings: t.settings,
		// A missing interior ruling joins the neighbouring cells.
		separatedV: func(col, row int) bool { return rs.covered(Vertical, xs[col], ys[row], ys[row+1]) },
		separatedH: func(row, col int) bool { return rs.covered(Horizontal, ys[row], xs[col], xs[col+1]) },
	}
	// Text only joins cells across boundaries without a ruling.
	b.crossableV = func(col, row int) bool { return !b.separatedV(col, row) }
	b.crossableH = func(row, col int) bool { return !b.separatedH(row, col) }

	return b.build(StrategyRulings, segments)
}

// inferFromText groups text segments into columns by x alignment and rows by
// y alignment with a greedy interval clustering pass. The threshold derives
// from the median line height. It returns nil for fewer than two columns.
func (t *TableInferrer) inferFromText(region PageRegion, segments []Segment) *TableGrid {
	if len(segments) < 2 {
		return nil
	}

	mh := medianLineHeight(segments)
	if mh <= 0 {
		return nil
	}

	var x0s, y0s []float64
	maxX1, maxY1 := math.Inf(-1), math.Inf(-1)
	for _, s := range segments {
		x0s = append(x0s, s.Box.X0)
		y0s = append(y0s, s.Box.Y0)
		maxX1 = math.Max(maxX1, s.Box.X1)
		maxY1 = math.Max(maxY1, s.Box.Y1)
	}

	colStarts := clusterStarts(x0s, mh*t.settings.ColumnGapFactor)
	rowStarts := clusterStarts(y0s, mh*t.settings.RowGapFactor)
	if len(colStarts) < 2 || len(rowStarts) < 1 {
		return nil
	}

	xs := append(colStarts, maxX1)
	ys := append(rowStarts, maxY1)
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return nil
		}
	}
	for i := 1; i < len(ys); i++ {
		if ys[i] <= ys[i-1] {
			return nil
		}
	}

	b := &gridBuilder{
		xs:         xs,
		ys:         ys,
		settings:   t.settings,
		separatedV: func(int, int) bool { return true },
		separatedH: func(int, int) bool { return true },
		crossableV: func(int, int) bool { return true },
		crossableH: func(int, int) bool { return true },
	}
	return b.build(StrategyText, segments)
}

// clusterStarts sorts the values and starts a new cluster whenever the gap to
// the previous value exceeds threshold. It returns each cluster's minimum.
func clusterStarts(values []float64, threshold float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	starts := []float64{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] > threshold {
			starts = append(starts, sorted[i])
		}
	}
	return starts
}

// gridBuilder turns boundaries plus separator predicates into a partition of
// cell spans.
type gridBuilder struct {
	xs, ys   []float64
	settings TableSettings

	// separatedV(col, row) reports whether the vertical boundary xs[col]
	// separates cells (row, col-1) and (row, col); separatedH(row, col) is the
	// same for the horizontal boundary ys[row] between rows row-1 and row.
	separatedV func(col, row int) bool
	separatedH func(row, col int) bool

	// crossableV/H report whether text overhanging the boundary merges the
	// cells on both sides.
	crossableV func(col, row int) bool
	crossableH func(row, col int) bool
}

func (b *gridBuilder) build(strategy TableStrategy, segments []Segment) *TableGrid {
	rows, cols := len(b.ys)-1, len(b.xs)-1
	bounds := GridBounds{Rows: rows, Cols: cols}

	uf := newUnionFind(rows * cols)
	cell := func(r, c int) int { return r*cols + c }

	// Ruling gaps
	for r := 0; r < rows; r++ {
		for c := 1; c < cols; c++ {
			if !b.separatedV(c, r) {
				uf.union(cell(r, c-1), cell(r, c))
			}
		}
	}
	for r := 1; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if !b.separatedH(r, c) {
				uf.union(cell(r-1, c), cell(r, c))
			}
		}
	}

	// Text crossing boundaries
	tol := b.settings.CrossTolerance
	for _, s := range segments {
		c0, c1 := coveredRange(b.xs, s.Box.X0, s.Box.X1, tol)
		r0, r1 := coveredRange(b.ys, s.Box.Y0, s.Box.Y1, tol)
		if c0 < 0 || r0 < 0 {
			continue
		}
		for r := r0; r <= r1; r++ {
			for c := c0 + 1; c <= c1; c++ {
				if b.crossableV(c, r) {
					uf.union(cell(r, c-1), cell(r, c))
				}
			}
		}
		for c := c0; c <= c1; c++ {
			for r := r0 + 1; r <= r1; r++ {
				if b.crossableH(r, c) {
					uf.union(cell(r-1, c), cell(r, c))
				}
			}
		}
	}

	spans, ok := partition(bounds, uf.components(rows*cols, cols))
	if !ok {
		return nil
	}

	grid := &TableGrid{
		Rows:      rows,
		Cols:      cols,
		Spans:     spans,
		Box:       Rect{X0: b.xs[0], Y0: b.ys[0], X1: b.xs[cols], Y1: b.ys[rows]},
		Strategy:  strategy,
		RowBounds: b.ys,
		ColBounds: b.xs,
	}
	for i := range grid.Spans {
		s := &grid.Spans[i]
		s.Box = Rect{X0: b.xs[s.Col], Y0: b.ys[s.Row], X1: b.xs[s.Col+s.ColSpan], Y1: b.ys[s.Row+s.RowSpan]}
	}
	assignSegments(grid, segments)

	if grid.Validate() != nil {
		return nil
	}
	return grid
}

// coveredRange returns the first and last interval index of bounds that the
// extent [lo, hi] overlaps by more than tol, or -1 when it overlaps none.
func coveredRange(bounds []float64, lo, hi, tol float64) (int, int) {
	first, last := -1, -1
	for i := 0; i+1 < len(bounds); i++ {
		if hi-tol > bounds[i] && lo+tol < bounds[i+1] {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last
}

// partition resolves each component into a rectangle. Rectangles that overlap
// an earlier span absorb it and are resolved again, so the final spans cover
// every cell exactly once.
func partition(bounds GridBounds, components []MergeRequest) ([]CellSpan, bool) {
	owner := make([]int, bounds.Rows*bounds.Cols)
	for i := range owner {
		owner[i] = -1
	}
	var spans []CellSpan
	var requests []MergeRequest
	alive := []bool{}

	for _, comp := range components {
		req := append(MergeRequest(nil), comp...)
		widened := false
		for {
			span, err := Resolve(bounds, req)
			if err != nil {
				return nil, false
			}
			// Absorbing a neighbour keeps the span widened even once the
			// combined request fills the rectangle.
			widened = widened || span.Widened()

			var hits []int
			for _, c := range span.Cells() {
				if o := owner[c.Row*bounds.Cols+c.Col]; o >= 0 && !containsInt(hits, o) {
					hits = append(hits, o)
				}
			}
			if len(hits) == 0 {
				if widened {
					span.Fit = SpanWidened
				}
				idx := len(spans)
				spans = append(spans, span)
				requests = append(requests, req)
				alive = append(alive, true)
				for _, c := range span.Cells() {
					owner[c.Row*bounds.Cols+c.Col] = idx
				}
				break
			}

			for _, h := range hits {
				widened = widened || spans[h].Widened()
				req = append(req, requests[h]...)
				alive[h] = false
				for _, c := range spans[h].Cells() {
					owner[c.Row*bounds.Cols+c.Col] = -1
				}
			}
		}
	}

	result := make([]CellSpan, 0, len(spans))
	for i, s := range spans {
		if alive[i] {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Row != result[j].Row {
			return result[i].Row < result[j].Row
		}
		return result[i].Col < result[j].Col
	})
	return result, true
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// assignSegments appends each segment to the span containing its centre.
func assignSegments(grid *TableGrid, segments []Segment) {
	for _, s := range segments {
		cx, cy := s.Box.CenterX(), s.Box.CenterY()
		col := intervalIndex(grid.ColBounds, cx)
		row := intervalIndex(grid.RowBounds, cy)
		if col < 0 || row < 0 {
			continue
		}
		for i := range grid.Spans {
			if grid.Spans[i].Contains(CellCoord{Row: row, Col: col}) {
				grid.Spans[i].Lines = append(grid.Spans[i].Lines, s)
				break
			}
		}
	}
}

// intervalIndex returns i such that bounds[i] <= v < bounds[i+1], clamping
// values on the outer edges, or -1 when v lies outside.
func intervalIndex(bounds []float64, v float64) int {
	n := len(bounds) - 1
	if n < 1 || v < bounds[0] || v > bounds[n] {
		return -1
	}
	for i := 0; i < n; i++ {
		if v < bounds[i+1] {
			return i
		}
	}
	return n - 1
}

// unionFind is a disjoint-set over cell indices.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Keep the smaller index as root so component order is deterministic.
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// components returns every set as a merge request, ordered by its first cell.
func (u *unionFind) components(n, cols int) []MergeRequest {
	byRoot := map[int]int{}
	var result []MergeRequest
	for i := 0; i < n; i++ {
		root := u.find(i)
		idx, ok := byRoot[root]
		if !ok {
			idx = len(result)
			byRoot[root] = idx
			result = append(result, nil)
		}
		result[idx] = append(result[idx], CellCoord{Row: i / cols, Col: i % cols})
	}
	return result
}
