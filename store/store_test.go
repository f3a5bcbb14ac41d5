package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intp(v int) *int { return &v }

func TestDocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateDocument(ctx, Document{OwnerID: "u1", Filename: "skript.pdf"})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusPending {
		t.Errorf("new document status = %q, want pending", doc.Status)
	}

	if err := s.UpdateDocumentStatus(ctx, id, StatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateDocumentResult(ctx, id, Document{
		Title: "Projektmanagement", Summary: "Kurz", Author: "Dr. Weber",
		Institution: "FH", PageCount: 40, HasImages: true,
		TOC: []TOCEntry{
			{Title: "Einführung", ChapterNumber: "intro", Level: 0, PageStart: intp(1)},
			{Title: "Kapitel 1", ChapterNumber: "1", Level: 0, PageStart: intp(5)},
		},
		Status: StatusCompleted, Degraded: true,
	}); err != nil {
		t.Fatal(err)
	}

	doc, err = s.GetDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusCompleted || doc.Title != "Projektmanagement" || !doc.Degraded {
		t.Errorf("unexpected document after result: %+v", doc)
	}
	if doc.PageCount != 40 || doc.Author != "Dr. Weber" {
		t.Errorf("metadata not persisted: %+v", doc)
	}
	if !doc.HasImages {
		t.Error("has_images not persisted")
	}
	if len(doc.TOC) != 2 || doc.TOC[1].Title != "Kapitel 1" ||
		doc.TOC[1].PageStart == nil || *doc.TOC[1].PageStart != 5 {
		t.Errorf("toc not round-tripped: %+v", doc.TOC)
	}
}

func TestMarkDocumentFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateDocument(ctx, Document{OwnerID: "u1", Filename: "bad.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDocumentFailed(ctx, id, "undecodable PDF"); err != nil {
		t.Fatal(err)
	}

	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusFailed || doc.Error != "undecodable PDF" {
		t.Errorf("failed document = %+v", doc)
	}
}

func TestListDocuments_ScopedToOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateDocument(ctx, Document{OwnerID: "a", Filename: "1.pdf"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateDocument(ctx, Document{OwnerID: "a", Filename: "2.pdf"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateDocument(ctx, Document{OwnerID: "b", Filename: "3.pdf"}); err != nil {
		t.Fatal(err)
	}

	docs, err := s.ListDocuments(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("owner a has %d documents, want 2", len(docs))
	}
}

func TestReplaceSections_OrderAndRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.CreateDocument(ctx, Document{OwnerID: "u1", Filename: "s.pdf"})
	if err != nil {
		t.Fatal(err)
	}

	ids, err := s.ReplaceSections(ctx, docID, []Section{
		{Title: "Einführung", Content: "...", SectionType: "chapter",
			ChapterNumber: "intro", PageStart: intp(1), PageEnd: intp(4),
			Keywords: []string{"Überblick", "Ziele"}},
		{Title: "Lernziele", Content: "...", SectionType: "learning_objectives",
			Level: 1, ChapterNumber: "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids", len(ids))
	}

	sections, err := s.GetSections(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 2 {
		t.Fatalf("got %d sections", len(sections))
	}
	for i, sec := range sections {
		if sec.OrderIndex != i {
			t.Errorf("section %d order index = %d", i, sec.OrderIndex)
		}
	}
	if sections[0].PageStart == nil || *sections[0].PageStart != 1 {
		t.Errorf("page start lost: %+v", sections[0].PageStart)
	}
	if len(sections[0].Keywords) != 2 || sections[0].Keywords[0] != "Überblick" {
		t.Errorf("keywords round trip: %v", sections[0].Keywords)
	}
	if sections[1].PageStart != nil {
		t.Error("absent page start must stay nil")
	}
}

func TestReplaceSections_SwapsPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.CreateDocument(ctx, Document{OwnerID: "u1", Filename: "s.pdf"})
	if err != nil {
		t.Fatal(err)
	}

	ids, err := s.ReplaceSections(ctx, docID, []Section{
		{Title: "Alt", Content: "...", SectionType: "chapter", ChapterNumber: "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSectionEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ReplaceSections(ctx, docID, []Section{
		{Title: "Neu A", Content: "...", SectionType: "chapter", ChapterNumber: "1"},
		{Title: "Neu B", Content: "...", SectionType: "summary", ChapterNumber: "1"},
	}); err != nil {
		t.Fatal(err)
	}

	sections, err := s.GetSections(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 2 || sections[0].Title != "Neu A" {
		t.Fatalf("replacement did not swap sections: %+v", sections)
	}

	var orphaned int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vec_sections WHERE section_id = ?", ids[0]).Scan(&orphaned); err != nil {
		t.Fatal(err)
	}
	if orphaned != 0 {
		t.Error("embedding of a replaced section survived")
	}
}

func TestInsertImages_UpsertOnReingest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.CreateDocument(ctx, Document{OwnerID: "u1", Filename: "s.pdf"})
	if err != nil {
		t.Fatal(err)
	}

	img := Image{PageNumber: 3, ImageIndex: 0, Path: "documents/u1/1/page3_img0.png",
		PublicURL: "https://cdn/x.png", Width: 100, Height: 80, Format: "png", AltText: "alt v1"}
	if err := s.InsertImages(ctx, docID, []Image{img}); err != nil {
		t.Fatal(err)
	}

	img.AltText = "alt v2"
	if err := s.InsertImages(ctx, docID, []Image{img}); err != nil {
		t.Fatal(err)
	}

	images, err := s.GetImages(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 1 {
		t.Fatalf("re-ingest duplicated image rows: %d", len(images))
	}
	if images[0].AltText != "alt v2" {
		t.Errorf("alt text not updated: %q", images[0].AltText)
	}
}

func TestDeleteDocument_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.CreateDocument(ctx, Document{OwnerID: "u1", Filename: "s.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	ids, err := s.ReplaceSections(ctx, docID, []Section{
		{Title: "A", Content: "...", SectionType: "chapter", ChapterNumber: "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSectionEmbedding(ctx, ids[0], []float32{0, 1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertImages(ctx, docID, []Image{
		{PageNumber: 1, ImageIndex: 0, Path: "p", PublicURL: "u", Width: 60, Height: 60, Format: "png"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDocument(ctx, docID); err != nil {
		t.Fatal(err)
	}

	for _, q := range []string{
		"SELECT COUNT(*) FROM sections",
		"SELECT COUNT(*) FROM images",
		"SELECT COUNT(*) FROM vec_sections",
		"SELECT COUNT(*) FROM documents",
	} {
		var n int
		if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("%s = %d after delete, want 0", q, n)
		}
	}
}

func TestSearchSections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.CreateDocument(ctx, Document{OwnerID: "u1", Filename: "s.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	ids, err := s.ReplaceSections(ctx, docID, []Section{
		{Title: "Nah", Content: "a", SectionType: "chapter", ChapterNumber: "1"},
		{Title: "Fern", Content: "b", SectionType: "chapter", ChapterNumber: "2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSectionEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSectionEmbedding(ctx, ids[1], []float32{0, 0, 0, 1}); err != nil {
		t.Fatal(err)
	}

	matches, err := s.SearchSections(ctx, []float32{0.9, 0.1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].Title != "Nah" {
		t.Errorf("nearest section = %q, want Nah", matches[0].Title)
	}
	if matches[0].Filename != "s.pdf" {
		t.Errorf("filename join missing: %q", matches[0].Filename)
	}
}
