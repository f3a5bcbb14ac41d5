package export

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/Mkas1988/digital-script/store"
)

func intp(v int) *int { return &v }

func TestWorkbook_OutlineRows(t *testing.T) {
	doc := &store.Document{Title: "Projektmanagement", Author: "Dr. Weber"}
	sections := []store.Section{
		{OrderIndex: 0, Title: "Einführung", SectionType: "chapter", Level: 0,
			ChapterNumber: "intro", PageStart: intp(1), PageEnd: intp(4),
			Keywords: []string{"Überblick"}},
		{OrderIndex: 1, Title: "Lernziele", SectionType: "learning_objectives",
			Level: 1, ChapterNumber: "1", PageStart: intp(5)},
	}

	f, err := Workbook(doc, sections)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2 sections", len(rows))
	}
	if rows[0][1] != "Titel" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "Einführung" || rows[1][5] != "1-4" {
		t.Errorf("first section row = %v", rows[1])
	}
	if rows[2][1] != "    Lernziele" {
		t.Errorf("level-1 section must be indented, got %q", rows[2][1])
	}
	if rows[2][5] != "5" {
		t.Errorf("single-page range = %q, want 5", rows[2][5])
	}
}

func TestWrite_ProducesReadableWorkbook(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, &store.Document{Title: "T"}, []store.Section{
		{OrderIndex: 0, Title: "A", SectionType: "chapter", ChapterNumber: "1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("written workbook is not readable: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows", len(rows))
	}
}
