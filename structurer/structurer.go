// Package structurer turns extracted document text into a typed,
// hierarchical section list by prompting a chat model for strict JSON.
// It degrades to a single catch-all section on any failure: structuring
// may fail, but text is never lost.
package structurer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Mkas1988/digital-script/llm"
)

// maxPromptChars is the character budget for document text sent to the
// model, leaving context-window headroom for the instructions and the
// JSON response.
const maxPromptChars = 100_000

// truncationMarker is appended when the text had to be cut.
const truncationMarker = "\n\n[Text gekürzt]"

// SectionTypes is the closed taxonomy of content blocks.
var SectionTypes = map[string]bool{
	"chapter":             true,
	"subchapter":          true,
	"learning_objectives": true,
	"task":                true,
	"practice_impulse":    true,
	"reflection":          true,
	"tip":                 true,
	"summary":             true,
	"definition":          true,
	"example":             true,
	"important":           true,
	"exercise":            true,
	"solution":            true,
	"reference":           true,
}

// Section is one structured content block. Level is 0 for chapters and
// standalone blocks, 1 for subchapters and in-chapter elements, 2 for the
// deepest nesting. ChapterNumber groups sections of one chapter, with
// "intro"/"outro" for material outside numbered chapters. Both are always
// set after normalization.
type Section struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	SectionType   string   `json:"section_type"`
	Level         int      `json:"level"`
	ChapterNumber string   `json:"chapter_number"`
	PageStart     *int     `json:"page_start"`
	PageEnd       *int     `json:"page_end"`
	Summary       string   `json:"summary,omitempty"`
	TaskNumber    string   `json:"task_number,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	SolutionID    string   `json:"solution_id,omitempty"`
	ExerciseID    string   `json:"exercise_id,omitempty"`
}

// TOCEntry is one line of the generated table of contents.
type TOCEntry struct {
	Title         string `json:"title"`
	ChapterNumber string `json:"chapter_number"`
	Level         int    `json:"level"`
	PageStart     *int   `json:"page_start"`
}

// Metadata carries document-level attributes the model recognized.
type Metadata struct {
	Author      string `json:"author"`
	Institution string `json:"institution"`
}

// Document is the structurer's output. Section order defines the final
// document order.
type Document struct {
	Title           string     `json:"title"`
	Summary         string     `json:"summary"`
	Sections        []Section  `json:"sections"`
	TableOfContents []TOCEntry `json:"table_of_contents"`
	Metadata        Metadata   `json:"metadata"`

	// Degraded is set when structuring failed and the single-section
	// fallback was produced.
	Degraded bool `json:"-"`
}

// Input is everything the structurer needs for one document.
type Input struct {
	Text      string
	Filename  string
	PageCount int
	// ImagesByPage maps page numbers to the image indexes present there.
	ImagesByPage map[int][]int
}

// Structurer prompts a chat provider for the document hierarchy.
type Structurer struct {
	provider llm.Provider
}

// New creates a Structurer backed by the given chat provider.
func New(provider llm.Provider) *Structurer {
	return &Structurer{provider: provider}
}

// Structure produces the typed section hierarchy for a document. It never
// fails: any model, transport, or parse error yields the degraded
// single-section document carrying the full untruncated text.
func (s *Structurer) Structure(ctx context.Context, in Input) *Document {
	text, truncated := budget(in.Text)

	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(text, truncated, in)},
		},
		Temperature:    0.2,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("structurer: model call failed, using fallback",
			"file", in.Filename, "error", err)
		return Fallback(in.Text, in.Filename, in.PageCount)
	}

	doc, err := parseResponse(resp.Content)
	if err != nil {
		slog.Warn("structurer: unparsable model response, using fallback",
			"file", in.Filename, "error", err)
		return Fallback(in.Text, in.Filename, in.PageCount)
	}

	normalize(doc, in.Filename)
	if len(doc.Sections) == 0 {
		slog.Warn("structurer: model returned no sections, using fallback", "file", in.Filename)
		return Fallback(in.Text, in.Filename, in.PageCount)
	}
	return doc
}

// budget cuts text to the prompt character budget, marking the cut.
func budget(text string) (string, bool) {
	if len(text) <= maxPromptChars {
		return text, false
	}
	return text[:maxPromptChars] + truncationMarker, true
}

// userPrompt assembles the per-document message: filename, page count,
// which pages contain images, and the text itself.
func userPrompt(text string, truncated bool, in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dokument: %s\nSeiten: %d\n", in.Filename, in.PageCount)

	if len(in.ImagesByPage) > 0 {
		pages := make([]int, 0, len(in.ImagesByPage))
		for p := range in.ImagesByPage {
			pages = append(pages, p)
		}
		sort.Ints(pages)
		parts := make([]string, len(pages))
		for i, p := range pages {
			parts[i] = fmt.Sprintf("%d (%d)", p, len(in.ImagesByPage[p]))
		}
		fmt.Fprintf(&sb, "Seiten mit Abbildungen (Anzahl): %s\n", strings.Join(parts, ", "))
	}
	if truncated {
		sb.WriteString("Hinweis: Der Text wurde auf das Kontextlimit gekürzt.\n")
	}

	sb.WriteString("\n---\n")
	sb.WriteString(text)
	return sb.String()
}

// wire types mirror Section/Document with optional fields kept optional,
// so normalization can detect what the model omitted.
type wireSection struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	SectionType   string   `json:"sectionType"`
	Level         *int     `json:"level"`
	ChapterNumber *string  `json:"chapterNumber"`
	PageStart     *int     `json:"pageStart"`
	PageEnd       *int     `json:"pageEnd"`
	Summary       string   `json:"summary"`
	TaskNumber    string   `json:"taskNumber"`
	Keywords      []string `json:"keywords"`
	SolutionID    string   `json:"solutionId"`
	ExerciseID    string   `json:"exerciseId"`
}

type wireTOC struct {
	Title         string `json:"title"`
	ChapterNumber string `json:"chapterNumber"`
	Level         int    `json:"level"`
	PageStart     *int   `json:"pageStart"`
}

type wireDocument struct {
	Title           string        `json:"title"`
	Summary         string        `json:"summary"`
	Sections        []wireSection `json:"sections"`
	TableOfContents []wireTOC     `json:"tableOfContents"`
	Metadata        *Metadata     `json:"metadata"`
}

// parseResponse JSON-decodes the model output, tolerating markdown fences.
func parseResponse(content string) (*Document, error) {
	content = stripFences(content)

	var wire wireDocument
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return nil, fmt.Errorf("decoding structure response: %w", err)
	}

	doc := &Document{
		Title:   strings.TrimSpace(wire.Title),
		Summary: strings.TrimSpace(wire.Summary),
	}
	if wire.Metadata != nil {
		doc.Metadata = *wire.Metadata
	}
	for _, t := range wire.TableOfContents {
		doc.TableOfContents = append(doc.TableOfContents, TOCEntry(t))
	}
	for _, ws := range wire.Sections {
		sec := Section{
			Title:       strings.TrimSpace(ws.Title),
			Content:     ws.Content,
			SectionType: ws.SectionType,
			PageStart:   ws.PageStart,
			PageEnd:     ws.PageEnd,
			Summary:     ws.Summary,
			TaskNumber:  ws.TaskNumber,
			Keywords:    ws.Keywords,
			SolutionID:  ws.SolutionID,
			ExerciseID:  ws.ExerciseID,
		}
		if ws.Level != nil {
			sec.Level = *ws.Level
		} else {
			sec.Level = 0
		}
		if ws.ChapterNumber != nil && *ws.ChapterNumber != "" {
			sec.ChapterNumber = *ws.ChapterNumber
		} else {
			sec.ChapterNumber = "0"
		}
		doc.Sections = append(doc.Sections, sec)
	}
	return doc, nil
}

// stripFences removes a surrounding markdown code fence, which some
// models emit even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// normalize enforces the section invariants: every section has a known
// type, a level in [0,2], and a chapter number.
func normalize(doc *Document, filename string) {
	if doc.Title == "" {
		doc.Title = baseName(filename)
	}
	for i := range doc.Sections {
		sec := &doc.Sections[i]
		if !SectionTypes[sec.SectionType] {
			sec.SectionType = "chapter"
		}
		if sec.Level < 0 || sec.Level > 2 {
			sec.Level = 0
		}
		if sec.ChapterNumber == "" {
			sec.ChapterNumber = "0"
		}
		if sec.PageStart != nil && *sec.PageStart < 1 {
			sec.PageStart = nil
		}
		if sec.PageEnd != nil && (*sec.PageEnd < 1 || (sec.PageStart != nil && *sec.PageEnd < *sec.PageStart)) {
			sec.PageEnd = nil
		}
	}
}

// Fallback builds the degraded single-section document: the filename as
// title and the entire original text as one chapter spanning every page.
func Fallback(text, filename string, pageCount int) *Document {
	title := baseName(filename)
	start, end := 1, pageCount
	if end < 1 {
		end = 1
	}

	return &Document{
		Title:    title,
		Degraded: true,
		Sections: []Section{{
			Title:         title,
			Content:       text,
			SectionType:   "chapter",
			Level:         0,
			ChapterNumber: "0",
			PageStart:     &start,
			PageEnd:       &end,
		}},
		TableOfContents: []TOCEntry{{
			Title:         title,
			ChapterNumber: "0",
			Level:         0,
			PageStart:     &start,
		}},
	}
}

func baseName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
