package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
)

// fakeSource serves synthetic raster images: pages maps page number to the
// raw images painted on it, in draw order. A nil entry simulates a named
// object that fails to resolve.
type fakeSource struct {
	mu       sync.Mutex
	pages    map[int][]*RawImage
	total    int
	resolved int
}

func (f *fakeSource) pageCount() int { return f.total }

func (f *fakeSource) imageOps(pageNr int) ([]string, error) {
	var names []string
	for i := range f.pages[pageNr] {
		names = append(names, fmt.Sprintf("Im%d", i))
	}
	return names, nil
}

func (f *fakeSource) resolveImage(pageNr int, name string) *RawImage {
	f.mu.Lock()
	f.resolved++
	f.mu.Unlock()
	var idx int
	fmt.Sscanf(name, "Im%d", &idx)
	imgs := f.pages[pageNr]
	if idx >= len(imgs) {
		return nil
	}
	return imgs[idx]
}

// gray returns a valid grayscale raw image of the given size.
func gray(w, h int) *RawImage {
	return &RawImage{Width: w, Height: h, Channels: 1, Pixels: make([]byte, w*h)}
}

func TestExtractImages_SizeFilter(t *testing.T) {
	src := &fakeSource{
		total: 1,
		pages: map[int][]*RawImage{
			1: {gray(40, 200), gray(200, 40), gray(200, 200)},
		},
	}

	res, err := extractImages(context.Background(), src, ImageOptions{MinWidth: 50, MinHeight: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("expected 1 surviving image, got %d", len(res.Images))
	}
	if res.Images[0].Width != 200 || res.Images[0].Height != 200 {
		t.Errorf("wrong survivor: %dx%d", res.Images[0].Width, res.Images[0].Height)
	}
	// Index reflects paint order on the page, not the surviving set.
	if res.Images[0].Index != 2 {
		t.Errorf("expected paint index 2, got %d", res.Images[0].Index)
	}
}

func TestExtractImages_MaxImagesTruncation(t *testing.T) {
	pages := make(map[int][]*RawImage)
	for p := 1; p <= 12; p++ {
		pages[p] = []*RawImage{gray(100, 100)}
	}
	src := &fakeSource{total: 12, pages: pages}

	res, err := extractImages(context.Background(), src, ImageOptions{MaxImages: 7, BatchSize: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 7 {
		t.Fatalf("expected exactly 7 images, got %d", len(res.Images))
	}

	// Pages are reported sorted, de-duplicated, and only for surviving images.
	want := []int{1, 2, 3, 4, 5, 6, 7}
	if len(res.PagesWithImages) != len(want) {
		t.Fatalf("pages = %v, want %v", res.PagesWithImages, want)
	}
	for i, p := range want {
		if res.PagesWithImages[i] != p {
			t.Fatalf("pages = %v, want %v", res.PagesWithImages, want)
		}
	}

	// Early stop: pages past the satisfying batch are never resolved.
	if src.resolved > 9 {
		t.Errorf("expected early stop after batch 3, resolved %d images", src.resolved)
	}
}

func TestExtractImages_ShortBufferSkipped(t *testing.T) {
	bad := &RawImage{Width: 100, Height: 100, Channels: 3, Pixels: make([]byte, 100)}
	src := &fakeSource{
		total: 1,
		pages: map[int][]*RawImage{1: {bad, gray(100, 100)}},
	}

	res, err := extractImages(context.Background(), src, ImageOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("size-mismatched image should be skipped, not fatal: got %d images", len(res.Images))
	}
	if res.Images[0].Index != 1 {
		t.Errorf("expected surviving image at paint index 1, got %d", res.Images[0].Index)
	}
}

func TestExtractImages_NilResolutionsIgnored(t *testing.T) {
	src := &fakeSource{
		total: 2,
		pages: map[int][]*RawImage{
			1: {nil, nil},
			2: {gray(80, 80)},
		},
	}

	res, err := extractImages(context.Background(), src, ImageOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 1 || res.Images[0].PageNumber != 2 {
		t.Fatalf("expected one image from page 2, got %+v", res.Images)
	}
	if len(res.PagesWithImages) != 1 || res.PagesWithImages[0] != 2 {
		t.Errorf("pages = %v, want [2]", res.PagesWithImages)
	}
}

func TestExtractImages_PageNumbersWithinBounds(t *testing.T) {
	src := &fakeSource{
		total: 3,
		pages: map[int][]*RawImage{
			1: {gray(60, 60)},
			3: {gray(60, 60), gray(70, 70)},
		},
	}

	res, err := extractImages(context.Background(), src, ImageOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, img := range res.Images {
		if img.PageNumber < 1 || img.PageNumber > 3 {
			t.Errorf("page number %d out of [1,3]", img.PageNumber)
		}
	}
	if len(res.Images) != 3 {
		t.Errorf("expected 3 images, got %d", len(res.Images))
	}
}

func TestExtractImages_JPEGPassthrough(t *testing.T) {
	src := &fakeSource{
		total: 1,
		pages: map[int][]*RawImage{
			1: {{Width: 100, Height: 100, JPEG: []byte{0xff, 0xd8, 0xff, 0xdb}}},
		},
	}

	res, err := extractImages(context.Background(), src, ImageOptions{Format: "png"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(res.Images))
	}
	if res.Images[0].Format != "jpeg" {
		t.Errorf("DCT stream should stay jpeg, got %q", res.Images[0].Format)
	}
}

func TestScanImageOps(t *testing.T) {
	content := []byte("q 100 0 0 80 50 600 cm /Im1 Do Q\nBT (text) Tj ET\nq /Fig2 Do Q")
	var names []string
	for _, m := range xobjectPaintRe.FindAllSubmatch(content, -1) {
		names = append(names, string(m[1]))
	}
	if len(names) != 2 || names[0] != "Im1" || names[1] != "Fig2" {
		t.Errorf("scan = %v, want [Im1 Fig2]", names)
	}
}

func TestEncodeRaw_GrayRoundTrip(t *testing.T) {
	raw := gray(8, 4)
	for i := range raw.Pixels {
		raw.Pixels[i] = byte(i * 7)
	}

	data, format, err := encodeRaw(raw, "png", 85)
	if err != nil {
		t.Fatal(err)
	}
	if format != "png" {
		t.Fatalf("format = %q", format)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("decoded bounds %v", b)
	}
	if g, ok := img.(*image.Gray); ok {
		if g.Pix[5] != 35 {
			t.Errorf("pixel 5 = %d, want 35", g.Pix[5])
		}
	}
}

func TestEncodeRaw_RGBExpansion(t *testing.T) {
	raw := &RawImage{Width: 2, Height: 1, Channels: 3,
		Pixels: []byte{255, 0, 0, 0, 0, 255}}

	data, _, err := encodeRaw(raw, "png", 85)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	r, _, _, a := img.At(0, 0).RGBA()
	if r>>8 != 255 || a>>8 != 255 {
		t.Errorf("pixel (0,0) = r%d a%d, want opaque red", r>>8, a>>8)
	}
	_, _, b, _ := img.At(1, 0).RGBA()
	if b>>8 != 255 {
		t.Errorf("pixel (1,0) blue = %d, want 255", b>>8)
	}
}

func TestEncodeRaw_ShortBuffer(t *testing.T) {
	raw := &RawImage{Width: 10, Height: 10, Channels: 4, Pixels: make([]byte, 10)}
	if _, _, err := encodeRaw(raw, "png", 85); err == nil {
		t.Fatal("expected error for short pixel buffer")
	}
}

// buildSharedImagePDF assembles a two-page PDF in which both pages paint
// the same grayscale image XObject, the way a recurring logo or header
// graphic is stored once and referenced everywhere.
func buildSharedImagePDF() []byte {
	pixels := bytes.Repeat([]byte{0x80}, 60*60)
	page := "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
		"/Resources << /XObject << /Im1 6 0 R >> >> /Contents 5 0 R >>"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>",
		page,
		page,
	}
	content := "q 120 0 0 120 40 600 cm /Im1 Do Q"

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, 0, 7)
	for i, body := range objects {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(&buf, "5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		len(content), content)
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(&buf, "6 0 obj\n<< /Type /XObject /Subtype /Image /Width 60 /Height 60 "+
		"/ColorSpace /DeviceGray /BitsPerComponent 8 /Length %d >>\nstream\n", len(pixels))
	buf.Write(pixels)
	buf.WriteString("\nendstream\nendobj\n")

	xrefPos := buf.Len()
	buf.WriteString("xref\n0 7\n0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 7 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefPos)
	return buf.Bytes()
}

// Both pages of the fixture resolve the identical stream dict inside one
// concurrent batch. Run with -race: decoding the shared dict from two
// goroutines at once used to tear its content buffer.
func TestImages_SharedXObjectAcrossPages(t *testing.T) {
	h, err := Open(buildSharedImagePDF())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if h.PageCount() != 2 {
		t.Fatalf("page count = %d, want 2", h.PageCount())
	}

	res, err := h.Images(context.Background(), ImageOptions{BatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 2 {
		t.Fatalf("expected one image per page, got %d", len(res.Images))
	}
	for i, img := range res.Images {
		if img.Width != 60 || img.Height != 60 {
			t.Errorf("image %d: %dx%d, want 60x60", i, img.Width, img.Height)
		}
	}
	if len(res.PagesWithImages) != 2 || res.PagesWithImages[0] != 1 || res.PagesWithImages[1] != 2 {
		t.Errorf("pages = %v, want [1 2]", res.PagesWithImages)
	}
}

func TestEncodeRaw_JPEGQuality(t *testing.T) {
	raw := gray(64, 64)
	data, format, err := encodeRaw(raw, "jpeg", 85)
	if err != nil {
		t.Fatal(err)
	}
	if format != "jpeg" {
		t.Fatalf("format = %q", format)
	}
	if len(data) == 0 || data[0] != 0xff || data[1] != 0xd8 {
		t.Error("output is not a JPEG stream")
	}
}
