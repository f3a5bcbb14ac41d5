package pdfdoc

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ImageOptions bounds raster image extraction.
type ImageOptions struct {
	// MinWidth/MinHeight filter out icons and artifacts. Smaller images
	// never reach encoding.
	MinWidth  int `json:"min_width" yaml:"min_width"`
	MinHeight int `json:"min_height" yaml:"min_height"`

	// MaxImages caps the total number of extracted images per document.
	MaxImages int `json:"max_images" yaml:"max_images"`

	// Format is the output codec: "png" or "jpeg".
	Format string `json:"format" yaml:"format"`

	// Quality applies to JPEG encoding (1-100).
	Quality int `json:"quality" yaml:"quality"`

	// BatchSize is the number of pages decoded concurrently. Batches run
	// sequentially, bounding peak pixel-buffer memory.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// DefaultImageOptions returns the standard extraction limits.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{
		MinWidth:  50,
		MinHeight: 50,
		MaxImages: 100,
		Format:    "png",
		Quality:   85,
		BatchSize: 5,
	}
}

func (o ImageOptions) withDefaults() ImageOptions {
	def := DefaultImageOptions()
	if o.MinWidth <= 0 {
		o.MinWidth = def.MinWidth
	}
	if o.MinHeight <= 0 {
		o.MinHeight = def.MinHeight
	}
	if o.MaxImages <= 0 {
		o.MaxImages = def.MaxImages
	}
	if o.Format != "jpeg" {
		o.Format = "png"
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = def.Quality
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	return o
}

// RawImage is an embedded raster image as it sits in the page's object
// store: an undecoded pixel buffer plus the geometry needed to interpret
// it. Channels is 1 (grayscale), 3 (RGB) or 4 (RGBA) and determines how
// Pixels is reinterpreted before encoding. A stream that is already
// JPEG-compressed carries its bytes in JPEG instead of Pixels.
type RawImage struct {
	Width    int
	Height   int
	Channels int
	Pixels   []byte
	JPEG     []byte
}

// EncodedImage is a raster image after codec conversion.
type EncodedImage struct {
	Data       []byte `json:"-"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	PageNumber int    `json:"page_number"`
	Index      int    `json:"index"` // paint order within the page
	Format     string `json:"format"`
}

// ImageResult is the outcome of image extraction over a whole document.
type ImageResult struct {
	Images          []EncodedImage
	PagesWithImages []int
}

// imageSource is what the extraction loop needs from a page provider.
// Handle implements it over pdfcpu; tests substitute synthetic sources.
type imageSource interface {
	pageCount() int
	// imageOps lists the names of XObjects painted on a page, in draw order.
	imageOps(pageNr int) ([]string, error)
	// resolveImage resolves a named image object from the page resources.
	// Not-found and malformed objects resolve to nil, not an error, so
	// per-image failures stay uniform with size filtering.
	resolveImage(pageNr int, name string) *RawImage
}

// Images extracts embedded raster images from every page, re-encoded into
// opts.Format. Pages are decoded concurrently in fixed-size batches;
// extraction stops early once MaxImages is reached. The handle stays open:
// the caller owns its lifecycle.
func (h *Handle) Images(ctx context.Context, opts ImageOptions) (*ImageResult, error) {
	if err := h.guard(); err != nil {
		return nil, err
	}
	return extractImages(ctx, h, opts)
}

func extractImages(ctx context.Context, src imageSource, opts ImageOptions) (*ImageResult, error) {
	opts = opts.withDefaults()
	total := src.pageCount()

	var images []EncodedImage
	for start := 1; start <= total; start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + opts.BatchSize - 1
		if end > total {
			end = total
		}

		for _, page := range decodeBatch(ctx, src, start, end, opts) {
			images = append(images, page...)
		}
		if len(images) >= opts.MaxImages {
			break
		}
	}

	if len(images) > opts.MaxImages {
		images = images[:opts.MaxImages]
	}

	return &ImageResult{
		Images:          images,
		PagesWithImages: pagesOf(images),
	}, nil
}

// decodeBatch decodes pages [start, end] concurrently and returns the
// surviving encoded images grouped per page, in page order.
func decodeBatch(ctx context.Context, src imageSource, start, end int, opts ImageOptions) [][]EncodedImage {
	results := make([][]EncodedImage, end-start+1)

	var wg sync.WaitGroup
	for page := start; page <= end; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			results[page-start] = decodePage(ctx, src, page, opts)
		}(page)
	}
	wg.Wait()

	return results
}

// decodePage extracts and encodes the raster images painted on one page.
// Every per-image failure is logged and skipped; a bad image never aborts
// the page.
func decodePage(ctx context.Context, src imageSource, page int, opts ImageOptions) []EncodedImage {
	names, err := src.imageOps(page)
	if err != nil {
		slog.Warn("pdfdoc: reading page content failed", "page", page, "error", err)
		return nil
	}

	var out []EncodedImage
	for idx, name := range names {
		if ctx.Err() != nil {
			return out
		}

		raw := src.resolveImage(page, name)
		if raw == nil {
			continue
		}
		if raw.Width < opts.MinWidth || raw.Height < opts.MinHeight {
			continue
		}

		enc, format, err := encodeRaw(raw, opts.Format, opts.Quality)
		if err != nil {
			slog.Warn("pdfdoc: image conversion failed",
				"page", page, "image", idx, "name", name, "error", err)
			continue
		}

		out = append(out, EncodedImage{
			Data:       enc,
			Width:      raw.Width,
			Height:     raw.Height,
			PageNumber: page,
			Index:      idx,
			Format:     format,
		})
	}
	return out
}

// pagesOf returns the sorted, de-duplicated page numbers present in imgs.
func pagesOf(imgs []EncodedImage) []int {
	seen := make(map[int]bool, len(imgs))
	var pages []int
	for _, img := range imgs {
		if !seen[img.PageNumber] {
			seen[img.PageNumber] = true
			pages = append(pages, img.PageNumber)
		}
	}
	sort.Ints(pages)
	return pages
}

// --- pdfcpu-backed imageSource ---

func (h *Handle) pageCount() int { return h.pages }

// xobjectPaintRe matches "/Name Do" content stream instructions: painting
// a named XObject, which is how embedded raster images are drawn.
var xobjectPaintRe = regexp.MustCompile(`/([^\s/<>\[\]()]+)\s+Do\b`)

func (h *Handle) imageOps(pageNr int) ([]string, error) {
	if err := h.checkPage(pageNr); err != nil {
		return nil, err
	}

	h.pdfMu.Lock()
	r, err := pdfcpu.ExtractPageContent(h.pctx, pageNr)
	h.pdfMu.Unlock()
	if err != nil {
		return nil, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, m := range xobjectPaintRe.FindAllSubmatch(content, -1) {
		names = append(names, string(m[1]))
	}
	return names, nil
}

// resolveImage looks the named XObject up in the page's resource
// dictionary and decodes its raw sample buffer. Anything that is not an
// 8-bit raster image resolves to nil. Runs under pdfMu: the stream dict
// may be shared with other pages.
func (h *Handle) resolveImage(pageNr int, name string) *RawImage {
	if err := h.checkPage(pageNr); err != nil {
		return nil
	}

	h.pdfMu.Lock()
	defer h.pdfMu.Unlock()

	_, _, inhPAttrs, err := h.pctx.PageDict(pageNr, false)
	if err != nil || inhPAttrs == nil || inhPAttrs.Resources == nil {
		return nil
	}

	xo, found := inhPAttrs.Resources.Find("XObject")
	if !found {
		return nil
	}
	xoDict, err := h.pctx.DereferenceDict(xo)
	if err != nil || xoDict == nil {
		return nil
	}

	obj, found := xoDict.Find(name)
	if !found {
		return nil
	}
	sd, _, err := h.pctx.DereferenceStreamDict(obj)
	if err != nil || sd == nil {
		return nil
	}

	if subtype, found := sd.Find("Subtype"); found {
		if n, ok := subtype.(types.Name); !ok || n != "Image" {
			return nil
		}
	} else {
		return nil
	}

	w := sd.IntEntry("Width")
	ht := sd.IntEntry("Height")
	if w == nil || ht == nil || *w <= 0 || *ht <= 0 {
		return nil
	}

	// DCT-encoded streams are already JPEG: pass the compressed bytes
	// through instead of decoding samples.
	for _, f := range sd.FilterPipeline {
		if f.Name == "DCTDecode" {
			return &RawImage{Width: *w, Height: *ht, JPEG: sd.Raw}
		}
	}

	if bpc := sd.IntEntry("BitsPerComponent"); bpc == nil || *bpc != 8 {
		return nil
	}

	channels := h.colorChannels(sd)
	if channels == 0 {
		return nil
	}

	if err := sd.Decode(); err != nil {
		return nil
	}

	return &RawImage{
		Width:    *w,
		Height:   *ht,
		Channels: channels,
		Pixels:   sd.Content,
	}
}

// colorChannels maps an image XObject's color space to its per-pixel
// channel count: 1 grayscale, 3 RGB, 4 four-component.
func (h *Handle) colorChannels(sd *types.StreamDict) int {
	cs, found := sd.Find("ColorSpace")
	if !found {
		return 0
	}
	obj, err := h.pctx.Dereference(cs)
	if err != nil {
		return 0
	}

	switch v := obj.(type) {
	case types.Name:
		switch v {
		case "DeviceGray", "CalGray":
			return 1
		case "DeviceRGB", "CalRGB":
			return 3
		case "DeviceCMYK":
			return 4
		}
	case types.Array:
		// ICCBased [/ICCBased ref] — component count from the stream's /N.
		if len(v) == 2 {
			if n, ok := v[0].(types.Name); ok && n == "ICCBased" {
				icc, _, err := h.pctx.DereferenceStreamDict(v[1])
				if err == nil && icc != nil {
					if comps := icc.IntEntry("N"); comps != nil {
						switch *comps {
						case 1, 3, 4:
							return *comps
						}
					}
				}
			}
		}
	}
	return 0
}
