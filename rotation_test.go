package pdfdocx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rotatedRun(text string, box Rect, degrees float64) Run {
	return Run{Text: text, Box: box, FontSize: 10, FontWeight: 400, Rotation: degrees}
}

func TestQuantizeAngle(t *testing.T) {
	tests := []struct {
		degrees  float64
		expected float64
	}{
		{0, 0},
		{8, 0},
		{352, 0},
		{-5, 0},
		{175, 0},
		{90, 90},
		{88, 90},
		{-90, 270},
		{45, 45},
		{20, 15},
		{450, 90},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, quantizeAngle(tt.degrees), "angle %v", tt.degrees)
	}
}

func TestGroupGlyphsIntoRuns_KeepsRotatedText(t *testing.T) {
	up := float32(math.Pi / 2)
	glyphs := []glyph{
		{Text: 'a', Box: Rect{X0: 10, Y0: 100, X1: 15, Y1: 110}, FontSize: 10},
		{Text: 'U', Box: Rect{X0: 15, Y0: 300, X1: 25, Y1: 306}, FontSize: 10, Angle: up},
		{Text: 'p', Box: Rect{X0: 15, Y0: 294, X1: 25, Y1: 300}, FontSize: 10, Angle: up},
		{Text: ' ', Box: Rect{X0: 15, Y0: 291, X1: 25, Y1: 294}, FontSize: 10, Angle: up},
		{Text: 'o', Box: Rect{X0: 15, Y0: 285, X1: 25, Y1: 291}, FontSize: 10, Angle: up},
	}

	runs := groupGlyphsIntoRuns(glyphs)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"a", "Up", "o"}, runTexts(runs))
	assert.Equal(t, 0.0, runs[0].Rotation)
	assert.Equal(t, 90.0, runs[1].Rotation)
	assert.Equal(t, Rect{X0: 15, Y0: 294, X1: 25, Y1: 306}, runs[1].Box)
}

func TestGroupRunsIntoRotatedLines(t *testing.T) {
	t.Run("bottom to top", func(t *testing.T) {
		runs := []Run{
			rotatedRun("label", Rect{X0: 15, Y0: 270, X1: 25, Y1: 295}, 90),
			rotatedRun("more", Rect{X0: 30, Y0: 290, X1: 40, Y1: 320}, 90),
			rotatedRun("Side", Rect{X0: 15, Y0: 300, X1: 25, Y1: 320}, 90),
		}
		lines := groupRunsIntoRotatedLines(runs, 90)
		assert.Equal(t, []string{"Side label", "more"}, lineTexts(lines))
		for _, l := range lines {
			assert.True(t, l.HardBreak)
		}
		assert.Equal(t, Rect{X0: 15, Y0: 270, X1: 25, Y1: 320}, lines[0].Box)
	})

	t.Run("top to bottom", func(t *testing.T) {
		runs := []Run{
			rotatedRun("next", Rect{X0: 480, Y0: 100, X1: 490, Y1: 130}, 270),
			rotatedRun("ward", Rect{X0: 500, Y0: 135, X1: 510, Y1: 160}, 270),
			rotatedRun("down", Rect{X0: 500, Y0: 100, X1: 510, Y1: 130}, 270),
		}
		lines := groupRunsIntoRotatedLines(runs, 270)
		assert.Equal(t, []string{"down ward", "next"}, lineTexts(lines))
	})

	assert.Nil(t, groupRunsIntoRotatedLines(nil, 90))
}

func TestDetectTextRotation(t *testing.T) {
	runs := []Run{
		rotatedRun("v1", Rect{}, 90),
		wordRun("a", 0, 10, 0),
		wordRun("b", 20, 30, 0),
		rotatedRun("d1", Rect{}, 44),
		rotatedRun("v2", Rect{}, 91),
	}
	groups := detectTextRotation(runs)
	require.Len(t, groups, 3)
	assert.Equal(t, 0.0, groups[0].angle)
	assert.Equal(t, 90.0, groups[1].angle)
	assert.Equal(t, 45.0, groups[2].angle)
	assert.Equal(t, []string{"a", "b"}, runTexts(groups[0].runs))
	assert.Equal(t, []string{"v1", "v2"}, runTexts(groups[1].runs))
}

func TestAssembleLines_KeepsRotatedText(t *testing.T) {
	runs := []Run{
		wordRun("A", 60, 540, 100),
		rotatedRun("label", Rect{X0: 15, Y0: 125, X1: 25, Y1: 148}, 90),
		wordRun("C", 60, 540, 300),
		rotatedRun("Side", Rect{X0: 15, Y0: 150, X1: 25, Y1: 170}, 90),
		wordRun("B", 60, 540, 112),
	}

	lines := assembleLines(runs, 600)
	require.Equal(t, []string{"A", "B", "Side label", "C"}, lineTexts(lines))
	assert.False(t, lines[0].HardBreak)
	// The direction change splits paragraphs on both sides
	assert.True(t, lines[1].HardBreak)
	assert.True(t, lines[2].HardBreak)
	assert.False(t, lines[3].HardBreak)

	// A page of rotated text only
	lines = assembleLines(runs[1:2], 600)
	assert.Equal(t, []string{"label"}, lineTexts(lines))
}

func TestClassify_RotatedLineIsOwnParagraph(t *testing.T) {
	runs := []Run{
		wordRun("Upright", 60, 540, 100),
		rotatedRun("Margin", Rect{X0: 15, Y0: 105, X1: 25, Y1: 140}, 90),
		wordRun("text", 60, 540, 112),
	}
	lines := assembleLines(runs, 600)
	require.Len(t, lines, 3)

	paragraphs := classify(lines)
	assert.Equal(t, []string{"Upright", "Margin", "text"}, texts(paragraphs))
}

func TestNeedsSpace_Rotated(t *testing.T) {
	prev := rotatedRun("a", Rect{X0: 0, Y0: 50, X1: 10, Y1: 60}, 90)
	near := rotatedRun("b", Rect{X0: 0, Y0: 40, X1: 10, Y1: 50}, 90)
	far := rotatedRun("c", Rect{X0: 0, Y0: 30, X1: 10, Y1: 45}, 90)
	assert.False(t, needsSpace(prev, near))
	assert.True(t, needsSpace(prev, far))
}
