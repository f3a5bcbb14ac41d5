// Package segment splits raw document text into titled sections using
// offline heuristics. It is the fallback structuring path when no chat
// model is configured.
package segment

import (
	"regexp"
	"strings"
)

// Section is one titled slice of the document text, in reading order.
type Section struct {
	Title      string
	Content    string
	OrderIndex int
}

// minSectionContent is the merge threshold: a section with less content
// than this is folded into the following section. It removes one-line
// header false positives without discarding their text.
const minSectionContent = 100

// maxHeaderLen caps how long a line may be to count as a heading.
const maxHeaderLen = 100

// headingPatterns match explicit heading styles.
var headingPatterns = []*regexp.Regexp{
	// Numbered: "1.", "1.1", "2.3.4 Title"
	regexp.MustCompile(`^\d+(\.\d+)*\.?\s+\S`),
	// "Chapter 3: Title" / "Kapitel 3: Title"
	regexp.MustCompile(`(?i)^(chapter|kapitel)\s+\d+`),
	// Roman numerals: "IV. Title"
	regexp.MustCompile(`^[IVXLCDM]+\.\s+\S`),
}

// Split segments text into titled sections. Material before the first
// heading becomes an "Einleitung" section; text with no headings at all
// becomes a single "Inhalt" section.
func Split(text string) []Section {
	lines := strings.Split(text, "\n")

	var sections []Section
	var content []string
	title := ""
	started := false

	flush := func() {
		body := strings.TrimSpace(strings.Join(content, "\n"))
		if title == "" && body == "" {
			content = content[:0]
			return
		}
		t := title
		if t == "" {
			t = "Einleitung"
		}
		sections = append(sections, Section{Title: t, Content: body})
		content = content[:0]
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			content = append(content, "")
			continue
		}

		if isHeader(trimmed, i, lines) {
			if started || len(strings.TrimSpace(strings.Join(content, ""))) > 0 {
				flush()
			}
			title = trimmed
			started = true
			continue
		}
		content = append(content, trimmed)
	}
	flush()

	sections = mergeShort(sections)

	if len(sections) == 0 {
		body := strings.TrimSpace(text)
		if body == "" {
			return nil
		}
		sections = []Section{{Title: "Inhalt", Content: body}}
	}

	for i := range sections {
		sections[i].OrderIndex = i
	}
	return sections
}

// isHeader classifies one non-blank line. Pattern-based checks look at the
// line alone; the positional heuristic also needs a preceding blank line
// and following content.
func isHeader(line string, idx int, lines []string) bool {
	if len(line) > maxHeaderLen {
		return false
	}

	for _, re := range headingPatterns {
		if re.MatchString(line) {
			return true
		}
	}

	// Short ALL-CAPS lines.
	if len(line) >= 4 && len(line) <= 80 && line == strings.ToUpper(line) && hasLetter(line) {
		return true
	}

	// Positional: a short standalone line between a blank line and body
	// text, not ending like a sentence.
	if endsLikeSentence(line) {
		return false
	}
	prevBlank := idx == 0 || strings.TrimSpace(lines[idx-1]) == ""
	nextFilled := idx+1 < len(lines) && strings.TrimSpace(lines[idx+1]) != ""
	return prevBlank && nextFilled && idx > 0
}

func endsLikeSentence(line string) bool {
	return strings.ContainsAny(line[len(line)-1:], ".!?,;:")
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return true
		}
	}
	return false
}

// mergeShort folds every section whose content is under the merge
// threshold into the next one, concatenating titles and content. The last
// section is kept regardless of length.
func mergeShort(sections []Section) []Section {
	var out []Section
	for i := 0; i < len(sections); i++ {
		cur := sections[i]
		if len(cur.Content) < minSectionContent && i+1 < len(sections) {
			next := &sections[i+1]
			next.Title = cur.Title + " - " + next.Title
			if cur.Content != "" {
				next.Content = cur.Content + "\n" + next.Content
			}
			continue
		}
		out = append(out, cur)
	}
	return out
}
