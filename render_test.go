package pdfdocx

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/enums"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapToImage(t *testing.T) {
	tests := []struct {
		name     string
		buf      []byte
		stride   int
		format   enums.FPDF_BITMAP_FORMAT
		expected color.RGBA
	}{
		{
			name:     "gray",
			buf:      []byte{0x80, 0x80, 0, 0},
			stride:   4,
			format:   enums.FPDF_BITMAP_FORMAT_GRAY,
			expected: color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
		},
		{
			name:     "bgr",
			buf:      []byte{1, 2, 3, 1, 2, 3, 0, 0},
			stride:   8,
			format:   enums.FPDF_BITMAP_FORMAT_BGR,
			expected: color.RGBA{R: 3, G: 2, B: 1, A: 0xff},
		},
		{
			name:     "bgrx ignores the padding byte",
			buf:      []byte{1, 2, 3, 9, 1, 2, 3, 9},
			stride:   8,
			format:   enums.FPDF_BITMAP_FORMAT_BGRX,
			expected: color.RGBA{R: 3, G: 2, B: 1, A: 0xff},
		},
		{
			name:     "bgra is premultiplied",
			buf:      []byte{0, 100, 200, 0x80, 0, 100, 200, 0x80},
			stride:   8,
			format:   enums.FPDF_BITMAP_FORMAT_BGRA,
			expected: color.RGBA{R: 100, G: 50, B: 0, A: 0x80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Two rows of one pixel each
			img, err := bitmapToImage(append(tt.buf, tt.buf...), 1, 2, tt.stride, tt.format)
			require.NoError(t, err)
			assert.Equal(t, 1, img.Bounds().Dx())
			assert.Equal(t, 2, img.Bounds().Dy())
			assert.Equal(t, tt.expected, img.At(0, 1))
		})
	}
}

func TestBitmapToImage_Errors(t *testing.T) {
	_, err := bitmapToImage(nil, 0, 0, 0, enums.FPDF_BITMAP_FORMAT_BGRA)
	assert.Error(t, err)

	_, err = bitmapToImage(make([]byte, 10), 4, 4, 16, enums.FPDF_BITMAP_FORMAT_BGRA)
	assert.ErrorContains(t, err, "too short")

	_, err = bitmapToImage(make([]byte, 64), 4, 4, 16, enums.FPDF_BITMAP_FORMAT(99))
	assert.ErrorContains(t, err, "unsupported")
}

func TestPathToSegment(t *testing.T) {
	seg, ok := pathToSegment(10, 99.5, 200, 100.5)
	require.True(t, ok)
	assert.Equal(t, LineSegment{X0: 10, Y0: 100, X1: 200, Y1: 100, Width: 1}, seg)
	assert.Equal(t, Horizontal, seg.Orientation())

	seg, ok = pathToSegment(49, 10, 50, 300)
	require.True(t, ok)
	assert.Equal(t, Vertical, seg.Orientation())
	assert.Equal(t, 49.5, seg.X0)

	_, ok = pathToSegment(0, 0, 50, 50)
	assert.False(t, ok)
}

func TestBoundsToSegments(t *testing.T) {
	segs := boundsToSegments(10, 20, 110, 70)
	require.Len(t, segs, 4)
	var h, v int
	for _, s := range segs {
		switch s.Orientation() {
		case Horizontal:
			h++
		case Vertical:
			v++
		}
	}
	assert.Equal(t, 2, h)
	assert.Equal(t, 2, v)

	assert.Len(t, boundsToSegments(10, 20, 110, 21), 1)
}

func TestIsPageBorder(t *testing.T) {
	const w, h = 612.0, 792.0
	tests := []struct {
		name     string
		seg      LineSegment
		expected bool
	}{
		{"top edge", LineSegment{X0: 100, Y0: 5, X1: 300, Y1: 5}, true},
		{"full width rule", LineSegment{X0: 25, Y0: 400, X1: 590, Y1: 400}, true},
		{"table ruling", LineSegment{X0: 100, Y0: 400, X1: 300, Y1: 400}, false},
		{"left edge", LineSegment{X0: 2, Y0: 100, X1: 2, Y1: 300}, true},
		{"table column", LineSegment{X0: 200, Y0: 100, X1: 200, Y1: 300}, false},
		{"oblique", LineSegment{X0: 0, Y0: 0, X1: 100, Y1: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isPageBorder(tt.seg, w, h))
		})
	}
}

// renderingPdfium renders blank pages and counts released renders.
type renderingPdfium struct {
	pdfium.Pdfium
	renders  int
	cleanups int
}

func (p *renderingPdfium) RenderPageInDPI(req *requests.RenderPageInDPI) (*responses.RenderPageInDPI, error) {
	p.renders++
	side := req.DPI / 72 * 10
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	return &responses.RenderPageInDPI{
		Result:      responses.RenderPage{Image: img, Width: side, Height: side},
		CleanupFunc: func() { p.cleanups++ },
	}, nil
}

func TestPdfiumIndex_RenderReleasesBuffers(t *testing.T) {
	instance := &renderingPdfium{}
	var doc references.FPDF_DOCUMENT
	index := newPdfiumIndex(instance, &sync.Mutex{}, doc, 0)

	img, err := index.Render(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())

	// Cached per scale
	_, err = index.Render(context.Background(), 2)
	require.NoError(t, err)
	_, err = index.Render(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, 2, instance.renders)
	assert.Equal(t, 2, instance.cleanups)
}
