package pdfdocx

import (
	"fmt"

	"github.com/pkg/errors"
)

// TableStrategy records which inference strategy produced a grid.
type TableStrategy string

const (
	StrategyRulings TableStrategy = "rulings"
	StrategyText    TableStrategy = "text"
)

// TableGrid is a table's row/column topology with its cell spans.
// Every cell in [0,Rows)x[0,Cols) is covered by exactly one span.
type TableGrid struct {
	Rows     int
	Cols     int
	Spans    []CellSpan // Row-major by origin
	Box      Rect
	Strategy TableStrategy

	// RowBounds has Rows+1 y positions, ColBounds has Cols+1 x positions.
	RowBounds []float64
	ColBounds []float64
}

// Bounds returns the grid size.
func (g *TableGrid) Bounds() GridBounds {
	return GridBounds{Rows: g.Rows, Cols: g.Cols}
}

// SpanAt returns the span covering (row, col).
func (g *TableGrid) SpanAt(row, col int) (CellSpan, bool) {
	c := CellCoord{Row: row, Col: col}
	for _, s := range g.Spans {
		if s.Contains(c) {
			return s, true
		}
	}
	return CellSpan{}, false
}

// IsOrigin reports whether (row, col) is the top-left cell of its span.
func (g *TableGrid) IsOrigin(row, col int) bool {
	s, ok := g.SpanAt(row, col)
	return ok && s.Row == row && s.Col == col
}

// WidenedSpans counts spans that cover cells nobody asked to merge.
func (g *TableGrid) WidenedSpans() int {
	n := 0
	for _, s := range g.Spans {
		if s.Widened() {
			n++
		}
	}
	return n
}

// Validate checks that spans lie inside the grid and cover every cell exactly once.
func (g *TableGrid) Validate() error {
	if g.Rows <= 0 || g.Cols <= 0 {
		return errors.Errorf("grid %dx%d has no cells", g.Rows, g.Cols)
	}

	owner := make([]int, g.Rows*g.Cols)
	for i := range owner {
		owner[i] = -1
	}

	for i, s := range g.Spans {
		if s.RowSpan < 1 || s.ColSpan < 1 {
			return errors.Errorf("span %d at (%d,%d) has size %dx%d", i, s.Row, s.Col, s.RowSpan, s.ColSpan)
		}
		if s.Row < 0 || s.Col < 0 || s.Row+s.RowSpan > g.Rows || s.Col+s.ColSpan > g.Cols {
			return errors.Errorf("span %d at (%d,%d) size %dx%d exceeds %dx%d grid",
				i, s.Row, s.Col, s.RowSpan, s.ColSpan, g.Rows, g.Cols)
		}
		for _, c := range s.Cells() {
			idx := c.Row*g.Cols + c.Col
			if owner[idx] >= 0 {
				return errors.Errorf("cell (%d,%d) covered by spans %d and %d", c.Row, c.Col, owner[idx], i)
			}
			owner[idx] = i
		}
	}

	for idx, o := range owner {
		if o < 0 {
			return errors.Errorf("cell (%d,%d) not covered", idx/g.Cols, idx%g.Cols)
		}
	}
	return nil
}

// String renders the span layout for debugging.
func (g *TableGrid) String() string {
	return fmt.Sprintf("TableGrid{%dx%d, %d spans, %s}", g.Rows, g.Cols, len(g.Spans), g.Strategy)
}

// TableSettings configures table detection behavior.
type TableSettings struct {
	// SnapTolerance merges ruling positions closer than this into one boundary.
	SnapTolerance float64

	// JoinTolerance joins collinear ruling pieces separated by small gaps.
	JoinTolerance float64

	// EdgeMinLength drops rulings shorter than this.
	EdgeMinLength float64

	// MinCellSize drops boundaries that would create degenerate rows/columns.
	MinCellSize float64

	// RulingCoverage is the fraction of a cell side a ruling must cover to
	// count as a separator.
	RulingCoverage float64

	// RowGapFactor and ColumnGapFactor scale the median line height into the
	// clustering thresholds of the text fallback.
	RowGapFactor    float64
	ColumnGapFactor float64

	// SegmentGapFactor scales the median line height into the horizontal gap
	// that splits a text line into cell segments.
	SegmentGapFactor float64

	// CrossTolerance is how far text may overhang a boundary before it is
	// treated as spanning it.
	CrossTolerance float64

	// DisableTextFallback turns off the text-clustering strategy.
	DisableTextFallback bool
}

// DefaultTableSettings returns default settings for table detection.
func DefaultTableSettings() TableSettings {
	return TableSettings{
		SnapTolerance:    2.0,
		JoinTolerance:    3.0,
		EdgeMinLength:    3.0,
		MinCellSize:      4.0,
		RulingCoverage:   0.5,
		RowGapFactor:     0.5,
		ColumnGapFactor:  1.0,
		SegmentGapFactor: 1.0,
		CrossTolerance:   2.0,
	}
}
