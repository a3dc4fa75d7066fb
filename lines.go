package pdfdocx

import (
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/enums"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
)

// extractRulings extracts line and rectangle path objects from a PDF page as
// ruling segments. Page borders are filtered out so that framed pages are not
// mistaken for tables.
func extractRulings(instance pdfium.Pdfium, page references.FPDF_PAGE, pageWidth, pageHeight float64) ([]LineSegment, error) {
	countResp, err := instance.FPDFPage_CountObjects(&requests.FPDFPage_CountObjects{
		Page: requests.Page{
			ByReference: &page,
		},
	})
	if err != nil {
		return nil, err
	}

	var segments []LineSegment
	for i := 0; i < countResp.Count; i++ {
		objResp, err := instance.FPDFPage_GetObject(&requests.FPDFPage_GetObject{
			Page: requests.Page{
				ByReference: &page,
			},
			Index: i,
		})
		if err != nil {
			continue
		}

		typeResp, err := instance.FPDFPageObj_GetType(&requests.FPDFPageObj_GetType{
			PageObject: objResp.PageObject,
		})
		if err != nil || typeResp.Type != enums.FPDF_PAGEOBJ_PATH {
			continue
		}

		boundsResp, err := instance.FPDFPageObj_GetBounds(&requests.FPDFPageObj_GetBounds{
			PageObject: objResp.PageObject,
		})
		if err != nil {
			continue
		}

		// Convert PDF coordinates (origin bottom-left) to standard (origin top-left)
		x0 := float64(boundsResp.Left)
		y0 := pageHeight - float64(boundsResp.Top)
		x1 := float64(boundsResp.Right)
		y1 := pageHeight - float64(boundsResp.Bottom)

		segCountResp, err := instance.FPDFPath_CountSegments(&requests.FPDFPath_CountSegments{
			PageObject: objResp.PageObject,
		})
		if err != nil || segCountResp.Count < 2 {
			continue
		}

		// A MOVETO+LINETO pair is a single line; longer paths are treated as
		// rectangles and contribute their four sides.
		var candidates []LineSegment
		if segCountResp.Count == 2 {
			if seg, ok := pathToSegment(x0, y0, x1, y1); ok {
				candidates = append(candidates, seg)
			}
		} else if segCountResp.Count >= 4 {
			candidates = boundsToSegments(x0, y0, x1, y1)
		}

		for _, seg := range candidates {
			if !isPageBorder(seg, pageWidth, pageHeight) {
				segments = append(segments, seg)
			}
		}
	}

	return segments, nil
}

// isPageBorder checks if a segment runs along the page boundary or spans
// nearly the whole page.
func isPageBorder(seg LineSegment, pageWidth, pageHeight float64) bool {
	const borderTolerance = 20.0   // points from page edge
	const fullSpanThreshold = 0.90 // 90% of page dimension

	b := seg.Bounds()
	switch seg.Orientation() {
	case Horizontal:
		if b.Y0 < borderTolerance || b.Y0 > pageHeight-borderTolerance {
			return true
		}
		return b.Width() > pageWidth*fullSpanThreshold
	case Vertical:
		if b.X0 < borderTolerance || b.X0 > pageWidth-borderTolerance {
			return true
		}
		return b.Height() > pageHeight*fullSpanThreshold
	}
	return false
}

// pathToSegment converts a thin path bounding box to a horizontal or vertical
// segment along its centre line.
func pathToSegment(x0, y0, x1, y1 float64) (LineSegment, bool) {
	width := x1 - x0
	height := y1 - y0

	if height < 2.0 && width > 1.0 {
		y := (y0 + y1) / 2
		return LineSegment{X0: x0, Y0: y, X1: x1, Y1: y, Width: height}, true
	}
	if width < 2.0 && height > 1.0 {
		x := (x0 + x1) / 2
		return LineSegment{X0: x, Y0: y0, X1: x, Y1: y1, Width: width}, true
	}
	return LineSegment{}, false
}

// boundsToSegments converts a bounding box to its four sides. Thin filled
// rectangles collapse to a single segment.
func boundsToSegments(x0, y0, x1, y1 float64) []LineSegment {
	if seg, ok := pathToSegment(x0, y0, x1, y1); ok {
		return []LineSegment{seg}
	}
	return []LineSegment{
		{X0: x0, Y0: y0, X1: x1, Y1: y0}, // Top
		{X0: x0, Y0: y1, X1: x1, Y1: y1}, // Bottom
		{X0: x0, Y0: y0, X1: x0, Y1: y1}, // Left
		{X0: x1, Y0: y0, X1: x1, Y1: y1}, // Right
	}
}
