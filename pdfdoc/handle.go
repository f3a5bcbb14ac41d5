// Package pdfdoc decodes uploaded PDFs: it opens a handle over the raw
// bytes, extracts merged page text, and pulls embedded raster images off
// the page content streams, re-encoding them as PNG or JPEG.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrDecode is returned when the bytes are not a decodable PDF
	// (corrupt, truncated, or encrypted without credentials).
	ErrDecode = errors.New("pdfdoc: undecodable PDF")

	// ErrPageRange is returned for page numbers outside [1, PageCount].
	ErrPageRange = errors.New("pdfdoc: page number out of range")

	// ErrClosed is returned when using a handle after Close.
	ErrClosed = errors.New("pdfdoc: handle is closed")
)

// Handle is an opened, stateful PDF decoder session bound to one byte
// buffer. It owns per-page decoder state and must be closed exactly once;
// callers acquire it with a deferred Close so every exit path releases it.
//
//	h, err := pdfdoc.Open(data)
//	if err != nil { ... }
//	defer h.Close()
type Handle struct {
	mu     sync.Mutex
	closed bool

	// pdfMu serializes every access to pctx. pdfcpu's context caches
	// dereferenced objects, so two pages painting the same XObject hand
	// back the same stream dict; decoding it from two goroutines would
	// race on its content buffer. Pixel encoding runs outside this lock.
	pdfMu  sync.Mutex
	pctx   *model.Context
	reader *pdf.Reader
	pages  int
}

// Open decodes a PDF from a byte buffer. The page count is available
// immediately on the returned handle.
func Open(data []byte) (*Handle, error) {
	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &Handle{pctx: pctx, reader: reader, pages: pctx.PageCount}, nil
}

// PageCount returns the number of pages in the document.
func (h *Handle) PageCount() int {
	return h.pages
}

// Close releases all decoder resources. It is idempotent; every accessor
// returns ErrClosed afterwards.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.pctx = nil
	h.reader = nil
	return nil
}

// guard returns ErrClosed once the handle has been released.
func (h *Handle) guard() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}

// checkPage validates a 1-indexed page number.
func (h *Handle) checkPage(n int) error {
	if err := h.guard(); err != nil {
		return err
	}
	if n < 1 || n > h.pages {
		return fmt.Errorf("%w: %d of %d", ErrPageRange, n, h.pages)
	}
	return nil
}
