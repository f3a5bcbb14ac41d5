// Package script ingests PDF study material into structured learning
// documents: text and image extraction, AI structuring into a typed
// section hierarchy, blob storage for images, and SQLite persistence
// with section-embedding search.
package script

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Mkas1988/digital-script/export"
	"github.com/Mkas1988/digital-script/llm"
	"github.com/Mkas1988/digital-script/pdfdoc"
	"github.com/Mkas1988/digital-script/segment"
	"github.com/Mkas1988/digital-script/storage"
	"github.com/Mkas1988/digital-script/store"
	"github.com/Mkas1988/digital-script/structurer"
)

// Engine is the public interface of the digital-script pipeline.
type Engine interface {
	// IngestDocument runs the full pipeline for one uploaded PDF.
	IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error)

	// GetDocument returns a document row by ID.
	GetDocument(ctx context.Context, id int64) (*store.Document, error)

	// ListDocuments returns an owner's documents, newest first.
	ListDocuments(ctx context.Context, ownerID string) ([]store.Document, error)

	// GetSections returns a document's sections in reading order.
	GetSections(ctx context.Context, id int64) ([]store.Section, error)

	// GetImages returns a document's stored image metadata.
	GetImages(ctx context.Context, id int64) ([]store.Image, error)

	// DeleteDocument removes a document, its database rows, and its blobs.
	DeleteDocument(ctx context.Context, id int64) error

	// Search finds sections semantically similar to the query. Requires a
	// configured embedding provider.
	Search(ctx context.Context, query string, k int) ([]store.SectionMatch, error)

	// ExportOutline writes a document's section outline as XLSX.
	ExportOutline(ctx context.Context, id int64, w io.Writer) error

	// Close releases the database.
	Close() error
}

// IngestRequest identifies the PDF to ingest. Data carries the bytes of a
// direct upload; when nil, SourcePath names the blob store object to fetch.
type IngestRequest struct {
	OwnerID    string `json:"owner_id"`
	Filename   string `json:"filename"`
	Data       []byte `json:"-"`
	SourcePath string `json:"source_path,omitempty"`
}

// IngestResult summarizes one completed ingestion.
type IngestResult struct {
	DocumentID      int64            `json:"document_id"`
	Title           string           `json:"title"`
	PageCount       int              `json:"page_count"`
	SectionCount    int              `json:"section_count"`
	ImageCount      int              `json:"image_count"`
	PagesWithImages []int            `json:"pages_with_images,omitempty"`
	HasImages       bool             `json:"has_images"`
	TableOfContents []store.TOCEntry `json:"table_of_contents,omitempty"`
	Degraded        bool             `json:"degraded"`
}

// docHandle is the slice of pdfdoc.Handle the pipeline uses; tests
// substitute fakes to observe lifecycle and failure behavior.
type docHandle interface {
	PageCount() int
	Text() (string, error)
	Images(ctx context.Context, opts pdfdoc.ImageOptions) (*pdfdoc.ImageResult, error)
	Close() error
}

type engine struct {
	cfg      Config
	st       *store.Store
	blobs    storage.BlobStore
	uploader *storage.Uploader
	chat     llm.Provider
	embedder llm.Provider
	struc    *structurer.Structurer

	openPDF func(data []byte) (docHandle, error)
}

// New creates an Engine from configuration. The chat provider is
// optional: without one, documents are segmented by the offline
// heuristics instead of the language model. Vision and embedding
// providers are likewise optional and enable alt text and search.
func New(cfg Config) (Engine, error) {
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidConfig)
	}
	if cfg.Images.Format != "" && cfg.Images.Format != "png" && cfg.Images.Format != "jpeg" {
		return nil, fmt.Errorf("%w: image format %q", ErrInvalidConfig, cfg.Images.Format)
	}

	st, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	blobCfg := storage.Config{
		BucketURL:     cfg.Blob.BucketURL,
		Bucket:        "documents",
		APIKey:        cfg.Blob.APIKey,
		PublicBaseURL: cfg.Blob.PublicBaseURL,
		Dir:           cfg.resolveBlobDir(),
	}
	blobs, err := storage.NewBlobStore(blobCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	e := &engine{
		cfg:   cfg,
		st:    st,
		blobs: blobs,
		openPDF: func(data []byte) (docHandle, error) {
			return pdfdoc.Open(data)
		},
	}

	if cfg.Chat.Provider != "" {
		chat, err := llm.NewProvider(cfg.Chat)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("%w: chat: %v", ErrInvalidConfig, err)
		}
		e.chat = chat
		e.struc = structurer.New(chat)
	}

	var altFn storage.AltFunc
	if cfg.Vision.Provider != "" {
		vp, err := llm.NewProvider(cfg.Vision)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("%w: vision: %v", ErrInvalidConfig, err)
		}
		if vision, ok := vp.(llm.VisionProvider); ok {
			altFn = altTextFunc(vision)
		}
	}
	e.uploader = storage.NewUploader(blobs, altFn)

	if cfg.Embedding.Provider != "" {
		embedder, err := llm.NewProvider(cfg.Embedding)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("%w: embedding: %v", ErrInvalidConfig, err)
		}
		e.embedder = embedder
	}

	return e, nil
}

func (e *engine) Close() error {
	return e.st.Close()
}

// IngestDocument runs download, decode, text extraction, image
// extraction, structuring, and persistence for one PDF. Text extraction
// failing is fatal; image extraction, uploads, alt text, and embeddings
// degrade without aborting. After decoding, persisting sections is the
// only step that can still fail the ingestion.
func (e *engine) IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	docID, err := e.st.CreateDocument(ctx, store.Document{
		OwnerID:   req.OwnerID,
		Filename:  req.Filename,
		SourceURL: req.SourcePath,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating document: %v", ErrPersist, err)
	}
	if err := e.st.UpdateDocumentStatus(ctx, docID, store.StatusProcessing); err != nil {
		slog.Warn("updating document status failed", "document", docID, "error", err)
	}

	data := req.Data
	if data == nil {
		data, err = e.blobs.Download(ctx, req.SourcePath)
		if err != nil {
			return nil, e.fail(ctx, docID, fmt.Errorf("%w: %v", ErrDownload, err))
		}
	}

	h, err := e.openPDF(data)
	if err != nil {
		return nil, e.fail(ctx, docID, err)
	}
	defer h.Close()

	text, err := h.Text()
	if err != nil || strings.TrimSpace(text) == "" {
		if err == nil {
			err = fmt.Errorf("document contains no extractable text")
		}
		return nil, e.fail(ctx, docID, fmt.Errorf("%w: %v", ErrTextExtraction, err))
	}

	imgRes, err := h.Images(ctx, e.cfg.Images)
	if err != nil {
		slog.Warn("image extraction failed, continuing without images",
			"document", docID, "error", err)
		imgRes = &pdfdoc.ImageResult{}
	}

	stored := e.uploader.UploadImages(ctx, req.OwnerID, fmt.Sprint(docID), imgRes.Images)

	doc := e.structure(ctx, text, req.Filename, h.PageCount(), imgRes)

	sections := sectionsOf(doc)
	sectionIDs, err := e.st.ReplaceSections(ctx, docID, sections)
	if err != nil {
		return nil, e.fail(ctx, docID, fmt.Errorf("%w: inserting sections: %v", ErrPersist, err))
	}

	toc := tocOf(doc)
	if err := e.st.UpdateDocumentResult(ctx, docID, store.Document{
		Title:       doc.Title,
		Summary:     doc.Summary,
		Author:      doc.Metadata.Author,
		Institution: doc.Metadata.Institution,
		PageCount:   h.PageCount(),
		HasImages:   len(stored) > 0,
		TOC:         toc,
		Status:      store.StatusCompleted,
		Degraded:    doc.Degraded,
	}); err != nil {
		slog.Warn("updating document result failed", "document", docID, "error", err)
	}

	if len(stored) > 0 {
		if err := e.st.InsertImages(ctx, docID, imageRows(stored, sections, sectionIDs)); err != nil {
			slog.Warn("persisting image metadata failed", "document", docID, "error", err)
		}
	}

	e.embedSections(ctx, docID, sections, sectionIDs)

	return &IngestResult{
		DocumentID:      docID,
		Title:           doc.Title,
		PageCount:       h.PageCount(),
		SectionCount:    len(sections),
		ImageCount:      len(stored),
		PagesWithImages: imgRes.PagesWithImages,
		HasImages:       len(stored) > 0,
		TableOfContents: toc,
		Degraded:        doc.Degraded,
	}, nil
}

// fail marks the document failed and passes the error through.
func (e *engine) fail(ctx context.Context, docID int64, err error) error {
	if merr := e.st.MarkDocumentFailed(ctx, docID, err.Error()); merr != nil {
		slog.Warn("marking document failed", "document", docID, "error", merr)
	}
	return err
}

// structure picks the structuring path: the chat model when configured,
// the offline heuristic segmenter otherwise.
func (e *engine) structure(ctx context.Context, text, filename string, pageCount int, imgRes *pdfdoc.ImageResult) *structurer.Document {
	if e.struc != nil {
		return e.struc.Structure(ctx, structurer.Input{
			Text:         text,
			Filename:     filename,
			PageCount:    pageCount,
			ImagesByPage: imagesByPage(imgRes),
		})
	}

	title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	doc := &structurer.Document{Title: title}
	for _, sec := range segment.Split(text) {
		doc.Sections = append(doc.Sections, structurer.Section{
			Title:         sec.Title,
			Content:       sec.Content,
			SectionType:   "chapter",
			Level:         0,
			ChapterNumber: "0",
		})
		doc.TableOfContents = append(doc.TableOfContents, structurer.TOCEntry{
			Title:         sec.Title,
			ChapterNumber: "0",
			Level:         0,
		})
	}
	if len(doc.Sections) == 0 {
		return structurer.Fallback(text, filename, pageCount)
	}
	return doc
}

// imagesByPage converts an extraction result into the per-page index
// lists the structuring prompt wants.
func imagesByPage(res *pdfdoc.ImageResult) map[int][]int {
	if res == nil || len(res.Images) == 0 {
		return nil
	}
	m := make(map[int][]int)
	for _, img := range res.Images {
		m[img.PageNumber] = append(m[img.PageNumber], img.Index)
	}
	return m
}

// tocOf converts a structured document's table of contents into store
// entries.
func tocOf(doc *structurer.Document) []store.TOCEntry {
	if len(doc.TableOfContents) == 0 {
		return nil
	}
	toc := make([]store.TOCEntry, len(doc.TableOfContents))
	for i, t := range doc.TableOfContents {
		toc[i] = store.TOCEntry{
			Title:         t.Title,
			ChapterNumber: t.ChapterNumber,
			Level:         t.Level,
			PageStart:     t.PageStart,
		}
	}
	return toc
}

// sectionsOf flattens a structured document into store rows.
func sectionsOf(doc *structurer.Document) []store.Section {
	sections := make([]store.Section, len(doc.Sections))
	for i, sec := range doc.Sections {
		sections[i] = store.Section{
			OrderIndex:    i,
			Title:         sec.Title,
			Content:       sec.Content,
			SectionType:   sec.SectionType,
			Level:         sec.Level,
			ChapterNumber: sec.ChapterNumber,
			PageStart:     sec.PageStart,
			PageEnd:       sec.PageEnd,
			Summary:       sec.Summary,
			TaskNumber:    sec.TaskNumber,
			Keywords:      sec.Keywords,
			SolutionID:    sec.SolutionID,
			ExerciseID:    sec.ExerciseID,
		}
	}
	return sections
}

// imageRows builds the metadata rows for stored images, assigning each
// image to the first section whose page range contains its page.
func imageRows(stored []storage.StoredImage, sections []store.Section, sectionIDs []int64) []store.Image {
	rows := make([]store.Image, len(stored))
	for i, img := range stored {
		rows[i] = store.Image{
			SectionID:  sectionForPage(sections, sectionIDs, img.PageNumber),
			PageNumber: img.PageNumber,
			ImageIndex: img.Index,
			Path:       img.Path,
			PublicURL:  img.PublicURL,
			Width:      img.Width,
			Height:     img.Height,
			Format:     img.Format,
			AltText:    img.AltText,
		}
	}
	return rows
}

// sectionForPage returns the ID of the first section whose page range
// covers the page. A section without a page start covers nothing; a
// missing page end means a single-page section.
func sectionForPage(sections []store.Section, sectionIDs []int64, page int) *int64 {
	for i, sec := range sections {
		if sec.PageStart == nil {
			continue
		}
		end := *sec.PageStart
		if sec.PageEnd != nil {
			end = *sec.PageEnd
		}
		if page >= *sec.PageStart && page <= end {
			id := sectionIDs[i]
			return &id
		}
	}
	return nil
}

// embedSections computes and stores section embeddings. Best-effort:
// search quality degrades on failure, the document does not.
func (e *engine) embedSections(ctx context.Context, docID int64, sections []store.Section, sectionIDs []int64) {
	if e.embedder == nil || len(sections) == 0 {
		return
	}

	texts := make([]string, len(sections))
	for i, sec := range sections {
		texts[i] = sec.Title + "\n" + sec.Content
	}

	embeddings, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		slog.Warn("embedding sections failed", "document", docID, "error", err)
		return
	}
	for i, emb := range embeddings {
		if i >= len(sectionIDs) {
			break
		}
		if err := e.st.InsertSectionEmbedding(ctx, sectionIDs[i], emb); err != nil {
			slog.Warn("storing section embedding failed",
				"document", docID, "section", sectionIDs[i], "error", err)
		}
	}
}

// --- read side ---

func (e *engine) GetDocument(ctx context.Context, id int64) (*store.Document, error) {
	doc, err := e.st.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	return doc, nil
}

func (e *engine) ListDocuments(ctx context.Context, ownerID string) ([]store.Document, error) {
	return e.st.ListDocuments(ctx, ownerID)
}

func (e *engine) GetSections(ctx context.Context, id int64) ([]store.Section, error) {
	if _, err := e.st.GetDocument(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	return e.st.GetSections(ctx, id)
}

func (e *engine) GetImages(ctx context.Context, id int64) ([]store.Image, error) {
	if _, err := e.st.GetDocument(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	return e.st.GetImages(ctx, id)
}

// DeleteDocument removes the database rows and the document's blobs.
func (e *engine) DeleteDocument(ctx context.Context, id int64) error {
	doc, err := e.st.GetDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}

	if err := e.uploader.DeleteAll(ctx, doc.OwnerID, fmt.Sprint(id)); err != nil {
		slog.Warn("deleting document blobs failed", "document", id, "error", err)
	}
	if err := e.st.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("%w: deleting document %d: %v", ErrPersist, id, err)
	}
	return nil
}

// Search embeds the query and runs a KNN search over section embeddings.
func (e *engine) Search(ctx context.Context, query string, k int) ([]store.SectionMatch, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", ErrInvalidConfig)
	}
	if k <= 0 {
		k = 10
	}

	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding query: empty response")
	}
	return e.st.SearchSections(ctx, embeddings[0], k)
}

// ExportOutline writes the XLSX outline of a document.
func (e *engine) ExportOutline(ctx context.Context, id int64, w io.Writer) error {
	doc, err := e.st.GetDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	sections, err := e.st.GetSections(ctx, id)
	if err != nil {
		return err
	}
	return export.Write(w, doc, sections)
}
