package pdfdoc

import (
	"strings"
)

// Text extracts the merged textual content of the whole document. Page
// boundaries are not preserved: downstream structuring works on one
// continuous stream. Pages that fail to decode are skipped.
func (h *Handle) Text() (string, error) {
	if err := h.guard(); err != nil {
		return "", err
	}

	var sb strings.Builder
	for n := 1; n <= h.pages; n++ {
		text, err := h.PageText(n)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// PageText extracts the plain text of a single page (1-indexed).
func (h *Handle) PageText(n int) (string, error) {
	if err := h.checkPage(n); err != nil {
		return "", err
	}

	page := h.reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", err
	}
	return text, nil
}
