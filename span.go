package pdfdocx

// CellCoord addresses one grid cell.
type CellCoord struct {
	Row int
	Col int
}

// GridBounds is the size of a table grid.
type GridBounds struct {
	Rows int
	Cols int
}

// Contains reports whether c lies inside the grid.
func (b GridBounds) Contains(c CellCoord) bool {
	return c.Row >= 0 && c.Row < b.Rows && c.Col >= 0 && c.Col < b.Cols
}

// MergeRequest is a set of cells a caller wants to unify into one cell.
// Duplicates are ignored.
type MergeRequest []CellCoord

// SpanFit tells whether a resolved span matches the requested cells exactly.
type SpanFit int

const (
	// SpanExact means every cell of the rectangle was requested.
	SpanExact SpanFit = iota
	// SpanWidened means the request was not rectangular and the span covers
	// cells that were never asked for.
	SpanWidened
)

func (f SpanFit) String() string {
	if f == SpanWidened {
		return "widened"
	}
	return "exact"
}

// CellSpan is a rectangular group of grid cells treated as one logical cell.
type CellSpan struct {
	Row     int
	Col     int
	RowSpan int
	ColSpan int
	Fit     SpanFit

	Box     Rect             // Page area covered by the span
	Lines   []TextLine       // Text segments whose centre falls inside the span
	Content []ParagraphBlock // Classified content, filled by the orchestrator
}

// Widened reports whether the span covers cells that were not requested.
func (s CellSpan) Widened() bool {
	return s.Fit == SpanWidened
}

// Contains reports whether the span covers the cell.
func (s CellSpan) Contains(c CellCoord) bool {
	return c.Row >= s.Row && c.Row < s.Row+s.RowSpan && c.Col >= s.Col && c.Col < s.Col+s.ColSpan
}

// Cells enumerates every cell covered by the span in row-major order.
func (s CellSpan) Cells() []CellCoord {
	cells := make([]CellCoord, 0, s.RowSpan*s.ColSpan)
	for r := s.Row; r < s.Row+s.RowSpan; r++ {
		for c := s.Col; c < s.Col+s.ColSpan; c++ {
			cells = append(cells, CellCoord{Row: r, Col: c})
		}
	}
	return cells
}

// Overlaps reports whether two spans share at least one cell.
func (s CellSpan) Overlaps(o CellSpan) bool {
	return s.Row < o.Row+o.RowSpan && o.Row < s.Row+s.RowSpan &&
		s.Col < o.Col+o.ColSpan && o.Col < s.Col+s.ColSpan
}

// Resolve turns an arbitrary merge request into the smallest rectangle that
// contains every requested cell. Non-rectangular requests are widened, never
// rejected; the result's Fit says which happened. It fails only for an empty
// request or a cell outside bounds.
func Resolve(bounds GridBounds, req MergeRequest) (CellSpan, error) {
	if bounds.Rows <= 0 || bounds.Cols <= 0 {
		return CellSpan{}, &InvalidRegionError{Reason: "grid has no cells", Bounds: bounds}
	}
	if len(req) == 0 {
		return CellSpan{}, &InvalidRegionError{Reason: "empty request", Bounds: bounds}
	}

	rowMin, rowMax := req[0].Row, req[0].Row
	colMin, colMax := req[0].Col, req[0].Col
	distinct := make(map[CellCoord]struct{}, len(req))

	for _, c := range req {
		if !bounds.Contains(c) {
			cell := c
			return CellSpan{}, &InvalidRegionError{Reason: "out of bounds", Cell: &cell, Bounds: bounds}
		}
		distinct[c] = struct{}{}
		rowMin = min(rowMin, c.Row)
		rowMax = max(rowMax, c.Row)
		colMin = min(colMin, c.Col)
		colMax = max(colMax, c.Col)
	}

	span := CellSpan{
		Row:     rowMin,
		Col:     colMin,
		RowSpan: rowMax - rowMin + 1,
		ColSpan: colMax - colMin + 1,
	}
	if len(distinct) != span.RowSpan*span.ColSpan {
		span.Fit = SpanWidened
	}
	return span, nil
}
