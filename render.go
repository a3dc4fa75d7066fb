package pdfdocx

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/enums"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// pdfiumObject is an image object decoded while the page was loaded.
type pdfiumObject struct {
	info EmbeddedObject
	img  image.Image
}

// pdfiumIndex serves a page's image objects and renders the page on demand.
// Renders are cached per scale for the lifetime of the page's job.
type pdfiumIndex struct {
	instance  pdfium.Pdfium
	mu        *sync.Mutex // Shared with the decoder, guards the instance
	doc       references.FPDF_DOCUMENT
	pageIndex int

	objects map[int]pdfiumObject

	renderMu sync.Mutex
	renders  map[float64]image.Image
}

func newPdfiumIndex(instance pdfium.Pdfium, mu *sync.Mutex, doc references.FPDF_DOCUMENT, pageIndex int) *pdfiumIndex {
	return &pdfiumIndex{
		instance:  instance,
		mu:        mu,
		doc:       doc,
		pageIndex: pageIndex,
		objects:   map[int]pdfiumObject{},
		renders:   map[float64]image.Image{},
	}
}

func (x *pdfiumIndex) add(obj pdfiumObject) {
	x.objects[obj.info.ID] = obj
}

func (x *pdfiumIndex) Object(id int) (EmbeddedObject, bool) {
	obj, ok := x.objects[id]
	return obj.info, ok
}

func (x *pdfiumIndex) Decode(ctx context.Context, id int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, ok := x.objects[id]
	if !ok || obj.img == nil {
		return nil, errors.Wrapf(ErrNoEmbeddedObject, "object %d has no bitmap", id)
	}
	return obj.img, nil
}

func (x *pdfiumIndex) Render(ctx context.Context, scale float64) (image.Image, error) {
	x.renderMu.Lock()
	defer x.renderMu.Unlock()

	if img, ok := x.renders[scale]; ok {
		return img, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	resp, err := x.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: int(math.Round(72 * scale)),
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: x.doc,
				Index:    x.pageIndex,
			},
		},
	})
	if err != nil {
		x.mu.Unlock()
		return nil, errors.Wrapf(err, "failed to render page %d", x.pageIndex+1)
	}
	// Copy out of the renderer's buffer, which Cleanup frees inside the
	// instance, before releasing it.
	src := resp.Result.Image
	img := image.NewRGBA(src.Bounds().Sub(src.Bounds().Min))
	draw.Copy(img, image.Point{}, src, src.Bounds(), draw.Src, nil)
	resp.Cleanup()
	x.mu.Unlock()

	x.renders[scale] = img
	return img, nil
}

// extractImageObjects decodes the bitmaps of every image object on the page.
// Object ids are the 1-based object indices within the page.
func extractImageObjects(instance pdfium.Pdfium, page references.FPDF_PAGE, pageHeight float64) ([]pdfiumObject, error) {
	countResp, err := instance.FPDFPage_CountObjects(&requests.FPDFPage_CountObjects{
		Page: requests.Page{
			ByReference: &page,
		},
	})
	if err != nil {
		return nil, err
	}

	var objects []pdfiumObject
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
		if err != nil || typeResp.Type != enums.FPDF_PAGEOBJ_IMAGE {
			continue
		}

		boundsResp, err := instance.FPDFPageObj_GetBounds(&requests.FPDFPageObj_GetBounds{
			PageObject: objResp.PageObject,
		})
		if err != nil {
			continue
		}

		obj := pdfiumObject{info: EmbeddedObject{
			ID: i + 1,
			Box: Rect{
				X0: float64(boundsResp.Left),
				Y0: pageHeight - float64(boundsResp.Top),
				X1: float64(boundsResp.Right),
				Y1: pageHeight - float64(boundsResp.Bottom),
			},
		}}
		if obj.info.Box.IsEmpty() {
			continue
		}

		// A bitmap that cannot be read still leaves the region for the
		// rendering strategies.
		if img, err := imageObjectBitmap(instance, objResp.PageObject); err == nil {
			obj.img = img
			obj.info.Width = img.Bounds().Dx()
			obj.info.Height = img.Bounds().Dy()
		}
		objects = append(objects, obj)
	}

	return objects, nil
}

// imageObjectBitmap copies an image object's bitmap into Go memory.
func imageObjectBitmap(instance pdfium.Pdfium, obj references.FPDF_PAGEOBJECT) (image.Image, error) {
	bitmapResp, err := instance.FPDFImageObj_GetBitmap(&requests.FPDFImageObj_GetBitmap{
		ImageObject: obj,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get image bitmap")
	}
	bitmap := bitmapResp.Bitmap
	defer instance.FPDFBitmap_Destroy(&requests.FPDFBitmap_Destroy{Bitmap: bitmap})

	widthResp, err := instance.FPDFBitmap_GetWidth(&requests.FPDFBitmap_GetWidth{Bitmap: bitmap})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bitmap width")
	}
	heightResp, err := instance.FPDFBitmap_GetHeight(&requests.FPDFBitmap_GetHeight{Bitmap: bitmap})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bitmap height")
	}
	strideResp, err := instance.FPDFBitmap_GetStride(&requests.FPDFBitmap_GetStride{Bitmap: bitmap})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bitmap stride")
	}
	formatResp, err := instance.FPDFBitmap_GetFormat(&requests.FPDFBitmap_GetFormat{Bitmap: bitmap})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bitmap format")
	}
	bufferResp, err := instance.FPDFBitmap_GetBuffer(&requests.FPDFBitmap_GetBuffer{Bitmap: bitmap})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bitmap buffer")
	}

	return bitmapToImage(bufferResp.Buffer, widthResp.Width, heightResp.Height, strideResp.Stride, formatResp.Format)
}

// bitmapToImage converts a raw pdfium bitmap buffer into an RGBA image.
func bitmapToImage(buf []byte, width, height, stride int, format enums.FPDF_BITMAP_FORMAT) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("empty bitmap %dx%d", width, height)
	}
	if len(buf) < stride*(height-1) {
		return nil, errors.Errorf("bitmap buffer too short: %d bytes for %d rows of %d", len(buf), height, stride)
	}

	var bpp int
	switch format {
	case enums.FPDF_BITMAP_FORMAT_GRAY:
		bpp = 1
	case enums.FPDF_BITMAP_FORMAT_BGR:
		bpp = 3
	case enums.FPDF_BITMAP_FORMAT_BGRX, enums.FPDF_BITMAP_FORMAT_BGRA:
		bpp = 4
	default:
		return nil, errors.Errorf("unsupported bitmap format %d", format)
	}
	if len(buf) < stride*(height-1)+width*bpp {
		return nil, errors.Errorf("bitmap buffer too short for %dx%d", width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := buf[y*stride:]
		for x := 0; x < width; x++ {
			p := row[x*bpp:]
			var c color.RGBA
			switch format {
			case enums.FPDF_BITMAP_FORMAT_GRAY:
				c = color.RGBA{R: p[0], G: p[0], B: p[0], A: 255}
			case enums.FPDF_BITMAP_FORMAT_BGR, enums.FPDF_BITMAP_FORMAT_BGRX:
				c = color.RGBA{R: p[2], G: p[1], B: p[0], A: 255}
			default:
				// Un-premultiplied BGRA to premultiplied RGBA
				a := uint16(p[3])
				c = color.RGBA{
					R: uint8(uint16(p[2]) * a / 255),
					G: uint8(uint16(p[1]) * a / 255),
					B: uint8(uint16(p[0]) * a / 255),
					A: p[3],
				}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}
