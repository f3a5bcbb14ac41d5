package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mkas1988/digital-script/pdfdoc"
)

// StoredImage is one successfully uploaded document image together with
// the metadata persisted alongside it.
type StoredImage struct {
	Path       string `json:"path"`
	PublicURL  string `json:"public_url"`
	PageNumber int    `json:"page_number"`
	Index      int    `json:"index"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format"`
	AltText    string `json:"alt_text"`
}

// AltFunc produces alt text for one encoded image. Implementations are
// best-effort; errors fall back to a generic caption.
type AltFunc func(ctx context.Context, data []byte, format string, page int) (string, error)

// Uploader writes extracted images to the blob store under deterministic
// per-document paths.
type Uploader struct {
	store BlobStore
	alt   AltFunc
}

// NewUploader creates an Uploader. altFn may be nil, in which case every
// image gets the generic fallback caption.
func NewUploader(store BlobStore, altFn AltFunc) *Uploader {
	return &Uploader{store: store, alt: altFn}
}

// ObjectPath returns the storage path for one document image. The path is
// a pure function of its inputs, so re-ingesting a document overwrites
// its previous images instead of accumulating duplicates.
func ObjectPath(ownerID, documentID string, page, index int, format string) string {
	return fmt.Sprintf("documents/%s/%s/page%d_img%d.%s", ownerID, documentID, page, index, format)
}

// documentPrefix is the path prefix holding all images of one document.
func documentPrefix(ownerID, documentID string) string {
	return fmt.Sprintf("documents/%s/%s", ownerID, documentID)
}

// UploadImages stores each image and returns the metadata of those that
// made it. A failed upload is logged and skipped; one broken image never
// aborts the batch.
func (u *Uploader) UploadImages(ctx context.Context, ownerID, documentID string, images []pdfdoc.EncodedImage) []StoredImage {
	stored := make([]StoredImage, 0, len(images))
	for _, img := range images {
		path := ObjectPath(ownerID, documentID, img.PageNumber, img.Index, img.Format)

		publicURL, err := u.store.Upload(ctx, path, img.Data, contentType(img.Format))
		if err != nil {
			slog.Warn("storage: image upload failed, skipping",
				"document", documentID, "path", path, "error", err)
			continue
		}

		stored = append(stored, StoredImage{
			Path:       path,
			PublicURL:  publicURL,
			PageNumber: img.PageNumber,
			Index:      img.Index,
			Width:      img.Width,
			Height:     img.Height,
			Format:     img.Format,
			AltText:    u.altText(ctx, img),
		})
	}
	return stored
}

// altText asks the vision hook for a caption and falls back to a generic
// German one. Captioning never fails an upload.
func (u *Uploader) altText(ctx context.Context, img pdfdoc.EncodedImage) string {
	fallback := fmt.Sprintf("Abbildung auf Seite %d", img.PageNumber)
	if u.alt == nil {
		return fallback
	}
	alt, err := u.alt(ctx, img.Data, img.Format, img.PageNumber)
	if err != nil || alt == "" {
		if err != nil {
			slog.Warn("storage: alt text generation failed, using fallback",
				"page", img.PageNumber, "error", err)
		}
		return fallback
	}
	return alt
}

// DeleteAll removes every stored image of a document.
func (u *Uploader) DeleteAll(ctx context.Context, ownerID, documentID string) error {
	prefix := documentPrefix(ownerID, documentID)
	paths, err := u.store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("storage: listing %s: %w", prefix, err)
	}
	if len(paths) == 0 {
		return nil
	}
	return u.store.Remove(ctx, paths)
}

func contentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
