package pdfdocx

import (
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pdfText(s string, x, y, w float64) pdf.Text {
	return pdf.Text{Font: "Helvetica", FontSize: 10, X: x, Y: y, W: w, S: s}
}

func runTexts(runs []Run) []string {
	result := make([]string, len(runs))
	for i, r := range runs {
		result[i] = r.Text
	}
	return result
}

func TestTextToRuns(t *testing.T) {
	t.Run("spaces end words", func(t *testing.T) {
		texts := []pdf.Text{
			pdfText("H", 10, 700, 5), pdfText("i", 15, 700, 3),
			pdfText(" ", 18, 700, 3),
			pdfText("y", 21, 700, 5), pdfText("o", 26, 700, 5),
		}
		runs := textToRuns(texts, 0, 800)
		require.Len(t, runs, 2)
		assert.Equal(t, []string{"Hi", "yo"}, runTexts(runs))
		assert.Equal(t, Rect{X0: 10, Y0: 92, X1: 18, Y1: 102}, runs[0].Box)
		assert.Equal(t, 10.0, runs[0].FontSize)
	})

	t.Run("wide gaps end words", func(t *testing.T) {
		texts := []pdf.Text{pdfText("a", 10, 700, 5), pdfText("b", 15, 700, 5), pdfText("c", 30, 700, 5)}
		assert.Equal(t, []string{"ab", "c"}, runTexts(textToRuns(texts, 0, 800)))
	})

	t.Run("baseline changes end words", func(t *testing.T) {
		texts := []pdf.Text{pdfText("a", 10, 700, 5), pdfText("b", 15, 688, 5)}
		runs := textToRuns(texts, 0, 800)
		assert.Equal(t, []string{"a", "b"}, runTexts(runs))
		assert.Equal(t, 104.0, runs[1].Box.Y0)
	})

	t.Run("font changes end words", func(t *testing.T) {
		b := pdfText("b", 15, 700, 5)
		b.Font = "Helvetica-Bold"
		runs := textToRuns([]pdf.Text{pdfText("a", 10, 700, 5), b}, 0, 800)
		require.Len(t, runs, 2)
		assert.False(t, runs[0].Bold)
		assert.True(t, runs[1].Bold)
	})

	t.Run("ligatures are normalised", func(t *testing.T) {
		texts := []pdf.Text{pdfText("ﬁ", 10, 700, 5), pdfText("ne", 15, 700, 8)}
		assert.Equal(t, []string{"fine"}, runTexts(textToRuns(texts, 0, 800)))
	})

	t.Run("origin offset is removed", func(t *testing.T) {
		runs := textToRuns([]pdf.Text{pdfText("a", 60, 700, 5)}, 50, 800)
		require.Len(t, runs, 1)
		assert.Equal(t, 10.0, runs[0].Box.X0)
	})

	t.Run("missing font size defaults", func(t *testing.T) {
		g := pdfText("a", 10, 700, 5)
		g.FontSize = 0
		runs := textToRuns([]pdf.Text{g}, 0, 800)
		require.Len(t, runs, 1)
		assert.Equal(t, 12.0, runs[0].FontSize)
	})

	assert.Empty(t, textToRuns(nil, 0, 800))
	assert.Empty(t, textToRuns([]pdf.Text{pdfText(" ", 0, 700, 3), pdfText("", 3, 700, 0)}, 0, 800))
}

func TestRunFromFont(t *testing.T) {
	tests := []struct {
		font      string
		bold      bool
		italic    bool
		monospace bool
	}{
		{"Helvetica", false, false, false},
		{"ABCDEF+Helvetica-BoldOblique", true, true, false},
		{"Times-Italic", false, true, false},
		{"Arial-Black", true, false, false},
		{"CourierNewPSMT", false, false, true},
		{"XYZ+DejaVuSansMono-Bold", true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.font, func(t *testing.T) {
			r := runFromFont(tt.font, 11)
			assert.Equal(t, tt.font, r.FontName)
			assert.Equal(t, 11.0, r.FontSize)
			assert.Equal(t, tt.bold, r.Bold)
			assert.Equal(t, tt.italic, r.Italic)
			assert.Equal(t, tt.monospace, r.Monospace)
			if tt.bold {
				assert.Equal(t, 700, r.FontWeight)
			} else {
				assert.Equal(t, 400, r.FontWeight)
			}
		})
	}
}
