package pdfdocx

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Alignment represents text alignment.
type Alignment int

const (
	AlignmentLeft Alignment = iota
	AlignmentCenter
	AlignmentRight
	AlignmentJustified
)

func (a Alignment) String() string {
	switch a {
	case AlignmentCenter:
		return "center"
	case AlignmentRight:
		return "right"
	case AlignmentJustified:
		return "justified"
	default:
		return "left"
	}
}

// ListKind identifies the marker style of a list item.
type ListKind int

const (
	ListNone ListKind = iota
	ListBullet
	ListNumbered
)

// BreakWeights holds the signal weights and thresholds of the paragraph
// boundary classifier. Each signal votes 0 or 1 and contributes its weight.
type BreakWeights struct {
	Gap        float64 // Baseline gap larger than GapFactor median line heights
	Indent     float64 // Leading x moved by more than one average character width
	Sentence   float64 // Sentence-terminal punctuation followed by an uppercase start
	Font       float64 // Font size outside FontTolerance or a weight change
	ListMarker float64 // Next line starts with a bullet or ordinal marker

	Threshold     float64 // Break when the score reaches this
	GapFactor     float64
	FontTolerance float64

	// HeadingRatio is the paragraph-to-median font size ratio above which a
	// paragraph becomes a heading. Heading1Ratio and Heading2Ratio pick the level.
	HeadingRatio    float64
	Heading1Ratio   float64
	Heading2Ratio   float64
	MaxHeadingLines int
}

// DefaultBreakWeights returns the default classifier weights.
func DefaultBreakWeights() BreakWeights {
	return BreakWeights{
		Gap:        0.6,
		Indent:     0.3,
		Sentence:   0.3,
		Font:       0.3,
		ListMarker: 0.5,

		Threshold:     0.5,
		GapFactor:     1.5,
		FontTolerance: 0.15,

		HeadingRatio:    1.3,
		Heading1Ratio:   2.0,
		Heading2Ratio:   1.6,
		MaxHeadingLines: 3,
	}
}

// BreakSignals records which signals fired for a pair of lines.
type BreakSignals struct {
	HardBreak  bool
	Gap        bool
	Indent     bool
	Sentence   bool
	Font       bool
	ListMarker bool
}

// BreakDecision is the outcome of comparing two consecutive lines.
type BreakDecision struct {
	Break   bool
	Score   float64
	Signals BreakSignals
}

// Heuristic reports whether the break was inferred from layout signals rather
// than an explicit break in the source.
func (d BreakDecision) Heuristic() bool {
	return d.Break && !d.Signals.HardBreak
}

// LineStats holds the per-sequence medians the signals are measured against.
type LineStats struct {
	MedianLineHeight float64
	MedianFontSize   float64
}

// ComputeLineStats measures the median line height and font size of lines.
func ComputeLineStats(lines []TextLine) LineStats {
	var sizes []float64
	for _, l := range lines {
		if l.FontSize > 0 {
			sizes = append(sizes, l.FontSize)
		}
	}
	return LineStats{
		MedianLineHeight: medianLineHeight(lines),
		MedianFontSize:   calculateMedian(sizes),
	}
}

// Decide scores whether next starts a new paragraph after prev.
func (w BreakWeights) Decide(prev, next TextLine, stats LineStats) BreakDecision {
	var d BreakDecision

	if prev.HardBreak {
		d.Signals.HardBreak = true
		d.Break = true
		d.Score = 1
		return d
	}

	if stats.MedianLineHeight > 0 && baselineOf(next)-baselineOf(prev) > w.GapFactor*stats.MedianLineHeight {
		d.Signals.Gap = true
		d.Score += w.Gap
	}

	if math.Abs(next.LeadingX()-prev.LeadingX()) > prev.AverageCharWidth() {
		d.Signals.Indent = true
		d.Score += w.Indent
	}

	if endsSentence(prev.Text()) && startsUpper(next.Text()) {
		d.Signals.Sentence = true
		d.Score += w.Sentence
	}

	if fontChanged(prev, next, w.FontTolerance) {
		d.Signals.Font = true
		d.Score += w.Font
	}

	if _, ok := next.StartsWithListMarker(); ok {
		d.Signals.ListMarker = true
		d.Score += w.ListMarker
	}

	d.Break = d.Score >= w.Threshold
	return d
}

// baselineOf returns the baseline, falling back to the box bottom for
// decoders that do not report one.
func baselineOf(l TextLine) float64 {
	if l.Baseline != 0 {
		return l.Baseline
	}
	return l.Box.Y1
}

func endsSentence(text string) bool {
	text = strings.TrimRight(text, "\"'”’)] ")
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?', ':':
		return true
	}
	return strings.HasSuffix(text, "。")
}

func startsUpper(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r)
		}
		if !unicode.IsPunct(r) {
			return false
		}
	}
	return false
}

func fontChanged(prev, next TextLine, tolerance float64) bool {
	if prev.FontSize > 0 && next.FontSize > 0 {
		ratio := next.FontSize / prev.FontSize
		if ratio < 1-tolerance || ratio > 1+tolerance {
			return true
		}
	}
	return prev.IsBold() != next.IsBold()
}

// ParagraphBlock is a group of lines forming one paragraph.
type ParagraphBlock struct {
	Page         int
	Lines        []TextLine // Wrapped lines; each boundary is a soft break
	Box          Rect
	HeadingLevel int // 0 for body text
	IsList       bool
	ListKind     ListKind
	IsCode       bool
	Alignment    Alignment
	Indent       float64

	// Opening is the decision that started this paragraph; zero for the first
	// paragraph of a sequence.
	Opening BreakDecision
}

// Text joins the paragraph's lines, undoing hyphenated wraps.
func (p ParagraphBlock) Text() string {
	var sb strings.Builder
	for _, l := range p.Lines {
		text := l.Text()
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			prev := sb.String()
			if strings.HasSuffix(prev, "-") && startsLower(text) && !p.IsCode {
				sb.Reset()
				sb.WriteString(strings.TrimSuffix(prev, "-"))
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(text)
	}
	return sb.String()
}

// SoftBreaks returns the text of each wrapped line, so the original wrap
// points stay recoverable.
func (p ParagraphBlock) SoftBreaks() []string {
	result := make([]string, 0, len(p.Lines))
	for _, l := range p.Lines {
		result = append(result, l.Text())
	}
	return result
}

// FontSize returns the median font size of the paragraph's lines.
func (p ParagraphBlock) FontSize() float64 {
	var sizes []float64
	for _, l := range p.Lines {
		if l.FontSize > 0 {
			sizes = append(sizes, l.FontSize)
		}
	}
	return calculateMedian(sizes)
}

func startsLower(text string) bool {
	r, _ := utf8.DecodeRuneInString(text)
	return unicode.IsLower(r)
}

// ParagraphClassifier groups lines into paragraphs with a weighted-signal
// state machine. It keeps no state between calls.
type ParagraphClassifier struct {
	weights BreakWeights
}

// NewParagraphClassifier creates a classifier using the given weights.
func NewParagraphClassifier(weights BreakWeights) *ParagraphClassifier {
	return &ParagraphClassifier{weights: weights}
}

// Classify splits an ordered line sequence into paragraphs. Blank lines are
// dropped; the space they took up still shows in the baseline gap.
func (c *ParagraphClassifier) Classify(lines []TextLine) []ParagraphBlock {
	var content []TextLine
	for _, l := range lines {
		if !l.IsBlank() {
			content = append(content, l)
		}
	}
	if len(content) == 0 {
		return nil
	}

	stats := ComputeLineStats(content)
	frame := content[0].Box
	for _, l := range content[1:] {
		frame = mergeRects(frame, l.Box)
	}

	var paragraphs []ParagraphBlock
	current := ParagraphBlock{Lines: []TextLine{content[0]}}
	for i := 1; i < len(content); i++ {
		d := c.weights.Decide(content[i-1], content[i], stats)
		if d.Break {
			paragraphs = append(paragraphs, c.finish(current, frame))
			current = ParagraphBlock{Opening: d}
		}
		current.Lines = append(current.Lines, content[i])
	}
	paragraphs = append(paragraphs, c.finish(current, frame))

	c.detectHeadings(paragraphs, stats)
	return paragraphs
}

// finish fills in the geometry and list/code flags of a closed paragraph.
func (c *ParagraphClassifier) finish(p ParagraphBlock, frame Rect) ParagraphBlock {
	p.Box = p.Lines[0].Box
	for _, l := range p.Lines[1:] {
		p.Box = mergeRects(p.Box, l.Box)
	}
	p.Indent = p.Lines[0].LeadingX() - frame.X0
	p.Alignment = detectAlignment(p.Lines, frame)
	if kind, ok := p.Lines[0].StartsWithListMarker(); ok {
		p.IsList = true
		p.ListKind = kind
	}
	p.IsCode = isCode(p.Lines)
	return p
}

// detectHeadings marks short paragraphs set noticeably larger than the body
// text as headings and assigns levels by size ratio.
func (c *ParagraphClassifier) detectHeadings(paragraphs []ParagraphBlock, stats LineStats) {
	if stats.MedianFontSize <= 0 {
		return
	}
	for i := range paragraphs {
		p := &paragraphs[i]
		if p.IsList || p.IsCode || len(p.Lines) > c.weights.MaxHeadingLines {
			continue
		}
		ratio := p.FontSize() / stats.MedianFontSize
		switch {
		case ratio >= c.weights.Heading1Ratio:
			p.HeadingLevel = 1
		case ratio >= c.weights.Heading2Ratio:
			p.HeadingLevel = 2
		case ratio >= c.weights.HeadingRatio:
			p.HeadingLevel = 3
		}
	}
}

// isCode reports whether most characters use a monospace font.
func isCode(lines []TextLine) bool {
	var mono, total int
	for _, l := range lines {
		for _, r := range l.Runs {
			n := len([]rune(strings.TrimSpace(r.Text)))
			total += n
			if r.Monospace {
				mono += n
			}
		}
	}
	return total > 0 && float64(mono)/float64(total) > 0.8
}

// detectAlignment detects the alignment of a paragraph's lines within frame,
// the extent of the text being classified.
func detectAlignment(lines []TextLine, frame Rect) Alignment {
	if len(lines) == 0 || frame.Width() <= 0 {
		return AlignmentLeft
	}

	var starts, ends, centerOffsets []float64
	narrow := false
	for _, l := range lines {
		starts = append(starts, l.Box.X0)
		ends = append(ends, l.Box.X1)
		centerOffsets = append(centerOffsets, math.Abs(l.Box.CenterX()-frame.CenterX()))
		if l.Box.Width() < frame.Width()*0.9 {
			narrow = true
		}
	}

	minStart := starts[0]
	for _, s := range starts {
		minStart = math.Min(minStart, s)
	}
	indented := minStart-frame.X0 > 20

	if narrow && indented && average(centerOffsets) < 20 {
		return AlignmentCenter
	}

	endStdDev := calculateStdDev(ends)
	startStdDev := calculateStdDev(starts)
	if narrow && indented && endStdDev < 5 && frame.X1-average(ends) < 5 && endStdDev <= startStdDev {
		return AlignmentRight
	}

	if len(lines) >= 3 && startStdDev < 5 {
		justified := true
		for _, e := range ends[:len(ends)-1] {
			if frame.X1-e > 5 {
				justified = false
				break
			}
		}
		if justified && frame.X1-ends[len(ends)-1] > 5 {
			return AlignmentJustified
		}
	}

	return AlignmentLeft
}
