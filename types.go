package pdfdocx

import (
	"math"
	"slices"
	"strings"
	"unicode"
)

// Rect represents a bounding box in page coordinates (points, origin top-left).
type Rect struct {
	X0 float64 // Left
	Y0 float64 // Top (after conversion from PDF coordinates)
	X1 float64 // Right
	Y1 float64 // Bottom (after conversion from PDF coordinates)
}

// Width returns the width of the rectangle.
func (r Rect) Width() float64 {
	return r.X1 - r.X0
}

// Height returns the height of the rectangle.
func (r Rect) Height() float64 {
	return r.Y1 - r.Y0
}

// CenterX returns the horizontal center of the rectangle.
func (r Rect) CenterX() float64 {
	return (r.X0 + r.X1) / 2
}

// CenterY returns the vertical center of the rectangle.
func (r Rect) CenterY() float64 {
	return (r.Y0 + r.Y1) / 2
}

// Area returns the area of the rectangle, zero for degenerate rectangles.
func (r Rect) Area() float64 {
	if r.IsEmpty() {
		return 0
	}
	return r.Width() * r.Height()
}

// IsEmpty reports whether the rectangle has no area.
func (r Rect) IsEmpty() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

// ContainsPoint reports whether (x, y) lies inside the rectangle, edges included.
func (r Rect) ContainsPoint(x, y float64) bool {
	return x >= r.X0 && x <= r.X1 && y >= r.Y0 && y <= r.Y1
}

// Intersect returns the overlapping part of two rectangles.
func (r Rect) Intersect(o Rect) Rect {
	return Rect{
		X0: math.Max(r.X0, o.X0),
		Y0: math.Max(r.Y0, o.Y0),
		X1: math.Min(r.X1, o.X1),
		Y1: math.Min(r.Y1, o.Y1),
	}
}

// RGBA represents a color.
type RGBA struct {
	R, G, B, A uint
}

// Run is a horizontally contiguous piece of text sharing one style.
type Run struct {
	Text       string
	Box        Rect
	FontName   string
	FontSize   float64
	FontWeight int
	Bold       bool
	Italic     bool
	Monospace  bool
	Color      RGBA
	Rotation   float64 // Degrees counter-clockwise, 0 for upright text
}

// TextLine represents a horizontal line of styled runs.
type TextLine struct {
	Runs     []Run
	Box      Rect
	Baseline float64 // Y-coordinate of the baseline
	FontSize float64 // Dominant font size

	// HardBreak is set when the source text carries an explicit line break
	// after this line, or when the next line runs in another direction.
	HardBreak bool
}

// Text returns the concatenated text of all runs.
func (l TextLine) Text() string {
	var sb strings.Builder
	for i, run := range l.Runs {
		if i > 0 && needsSpace(l.Runs[i-1], run) {
			sb.WriteByte(' ')
		}
		sb.WriteString(run.Text)
	}
	return strings.TrimSpace(sb.String())
}

// needsSpace reports whether a visual gap between two runs stands for a space
// the source did not encode.
func needsSpace(prev, next Run) bool {
	if strings.HasSuffix(prev.Text, " ") || strings.HasPrefix(next.Text, " ") {
		return false
	}
	gap := next.Box.X0 - prev.Box.X1
	if prev.Rotation != 0 {
		along, _ := readingAxes(prev.Rotation)
		_, prevEnd := project(prev.Box, along)
		nextStart, _ := project(next.Box, along)
		gap = nextStart - prevEnd
	}
	return gap > math.Max(prev.FontSize, next.FontSize)*0.15
}

// IsBlank reports whether the line has no visible text.
func (l TextLine) IsBlank() bool {
	return l.Text() == ""
}

// Height returns the line height, falling back to the font size for lines
// whose box collapsed.
func (l TextLine) Height() float64 {
	if h := l.Box.Height(); h > 0 {
		return h
	}
	return l.FontSize
}

// LeadingX returns the x position where the line's text starts.
func (l TextLine) LeadingX() float64 {
	for _, run := range l.Runs {
		if strings.TrimSpace(run.Text) != "" {
			return run.Box.X0
		}
	}
	return l.Box.X0
}

// IsBold reports whether the majority of the line's characters are bold.
func (l TextLine) IsBold() bool {
	var bold, total int
	for _, run := range l.Runs {
		n := len([]rune(strings.TrimSpace(run.Text)))
		total += n
		if run.Bold || run.FontWeight >= 600 {
			bold += n
		}
	}
	return total > 0 && bold*2 > total
}

// AverageCharWidth estimates the average glyph width on the line.
func (l TextLine) AverageCharWidth() float64 {
	n := len([]rune(l.Text()))
	if n == 0 || l.Box.Width() <= 0 {
		return l.FontSize * 0.5
	}
	return l.Box.Width() / float64(n)
}

// StartsWithListMarker checks if the line looks like a list item.
func (l TextLine) StartsWithListMarker() (ListKind, bool) {
	text := l.Text()
	if text == "" {
		return ListNone, false
	}

	runes := []rune(text)
	firstChar := runes[0]

	// Common bullet characters
	bullets := []rune{'•', '◦', '▪', '▫', '–', '-', '*', '→', '·', '○', '□', '■', '►', '◆'}
	if slices.Contains(bullets, firstChar) {
		if len(runes) == 1 || unicode.IsSpace(runes[1]) {
			return ListBullet, true
		}
		return ListNone, false
	}

	// Number followed by period or parenthesis
	word, _, _ := strings.Cut(text, " ")
	wr := []rune(word)
	if len(wr) >= 2 && len(wr) <= 4 && unicode.IsDigit(wr[0]) {
		last := wr[len(wr)-1]
		if last == '.' || last == ')' || last == '、' {
			for _, r := range wr[:len(wr)-1] {
				if !unicode.IsDigit(r) {
					return ListNone, false
				}
			}
			return ListNumbered, true
		}
	}

	return ListNone, false
}

// Orientation classifies a line segment.
type Orientation string

const (
	Horizontal Orientation = "h"
	Vertical   Orientation = "v"
	Oblique    Orientation = "o"
)

// LineSegment is a vector line drawn on the page, a candidate table ruling.
type LineSegment struct {
	X0, Y0 float64
	X1, Y1 float64
	Width  float64 // Stroke width
}

// Orientation classifies the segment using a tolerance of two points.
func (s LineSegment) Orientation() Orientation {
	dx := math.Abs(s.X1 - s.X0)
	dy := math.Abs(s.Y1 - s.Y0)
	switch {
	case dy <= 2 && dx > dy:
		return Horizontal
	case dx <= 2 && dy > dx:
		return Vertical
	default:
		return Oblique
	}
}

// Bounds returns the normalised bounding box of the segment.
func (s LineSegment) Bounds() Rect {
	return Rect{
		X0: math.Min(s.X0, s.X1),
		Y0: math.Min(s.Y0, s.Y1),
		X1: math.Max(s.X0, s.X1),
		Y1: math.Max(s.Y0, s.Y1),
	}
}

// Length returns the length along the dominant axis.
func (s LineSegment) Length() float64 {
	return math.Max(math.Abs(s.X1-s.X0), math.Abs(s.Y1-s.Y0))
}

// RegionKind tags what a page region holds.
type RegionKind int

const (
	RegionText RegionKind = iota
	RegionTable
	RegionImage
)

func (k RegionKind) String() string {
	switch k {
	case RegionTable:
		return "table"
	case RegionImage:
		return "image"
	default:
		return "text"
	}
}

// NoObject marks a region that does not wrap an embedded object.
const NoObject = 0

// PageRegion is an axis-aligned area of interest on one page.
type PageRegion struct {
	Page     int
	Box      Rect
	Kind     RegionKind
	ObjectID int // Embedded object id, NoObject when unknown
}

// PageContent is everything the decoder yields for a single page.
type PageContent struct {
	Number  int // 1-based
	Width   float64
	Height  float64
	Lines   []TextLine    // Reading order
	Rulings []LineSegment // Vector line segments
	Regions []PageRegion  // Image and pre-detected table regions
	Objects EmbeddedIndex // Embedded objects and rasteriser, may be nil
}

// DocumentInfo contains basic information about a PDF document.
type DocumentInfo struct {
	PageCount int
}
