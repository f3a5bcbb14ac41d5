// Package export renders a document's section outline as an XLSX
// workbook for download.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Mkas1988/digital-script/store"
)

const sheetName = "Gliederung"

var headerRow = []string{"Nr.", "Titel", "Typ", "Ebene", "Kapitel", "Seiten", "Stichwörter"}

// Workbook builds the outline workbook: one row per section in reading
// order, prefixed by a header row.
func Workbook(doc *store.Document, sections []store.Section) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		f.Close()
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	for col, title := range headerRow {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			f.Close()
			return nil, err
		}
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, sec := range sections {
		values := []any{
			sec.OrderIndex + 1,
			indent(sec.Level) + sec.Title,
			sec.SectionType,
			sec.Level,
			sec.ChapterNumber,
			pageRange(sec.PageStart, sec.PageEnd),
			strings.Join(sec.Keywords, ", "),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	f.SetColWidth(sheetName, "B", "B", 48)
	f.SetColWidth(sheetName, "G", "G", 32)

	if doc != nil {
		f.SetDocProps(&excelize.DocProperties{Title: doc.Title, Creator: doc.Author})
	}
	return f, nil
}

// Write streams the outline workbook to w and releases it.
func Write(w io.Writer, doc *store.Document, sections []store.Section) error {
	f, err := Workbook(doc, sections)
	if err != nil {
		return fmt.Errorf("export: building workbook: %w", err)
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: writing workbook: %w", err)
	}
	return nil
}

func indent(level int) string {
	if level <= 0 {
		return ""
	}
	return strings.Repeat("    ", level)
}

func pageRange(start, end *int) string {
	switch {
	case start == nil:
		return ""
	case end == nil || *end == *start:
		return fmt.Sprintf("%d", *start)
	default:
		return fmt.Sprintf("%d-%d", *start, *end)
	}
}
