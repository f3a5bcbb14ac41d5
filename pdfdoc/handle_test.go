package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// buildMinimalPDF assembles a single-page PDF with one line of text,
// computing xref offsets so both decoders accept it.
func buildMinimalPDF(text string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
			"/Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	stream := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, 0, 6)
	for i, body := range objects {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(&buf, "5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		len(stream), stream)

	xrefPos := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefPos)
	return buf.Bytes()
}

func TestOpen_InvalidBytes(t *testing.T) {
	_, err := Open([]byte("this is not a pdf"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestOpen_PageCount(t *testing.T) {
	h, err := Open(buildMinimalPDF("Hallo Welt"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if h.PageCount() != 1 {
		t.Errorf("page count = %d, want 1", h.PageCount())
	}
}

func TestText_MergedContent(t *testing.T) {
	h, err := Open(buildMinimalPDF("Hallo Welt"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	text, err := h.Text()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Hallo Welt") {
		t.Errorf("extracted text %q does not contain page content", text)
	}
}

func TestPageText_RangeError(t *testing.T) {
	h, err := Open(buildMinimalPDF("x"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	for _, n := range []int{0, 2, -1} {
		if _, err := h.PageText(n); !errors.Is(err, ErrPageRange) {
			t.Errorf("PageText(%d): expected ErrPageRange, got %v", n, err)
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	h, err := Open(buildMinimalPDF("x"))
	if err != nil {
		t.Fatal(err)
	}

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal("second Close must be a no-op, got", err)
	}

	if _, err := h.Text(); !errors.Is(err, ErrClosed) {
		t.Errorf("Text after Close: expected ErrClosed, got %v", err)
	}
	if _, err := h.PageText(1); !errors.Is(err, ErrClosed) {
		t.Errorf("PageText after Close: expected ErrClosed, got %v", err)
	}
}
