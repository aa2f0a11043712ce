package chapter

import (
	"fmt"
	"strings"
)

// FileName renders the canonical upload name for the metadata, the
// inverse of Parse. Series and groups are rendered as their resolved IDs,
// which Parse accepts verbatim, so parsing the rendered name yields the
// same fields back.
func (m *Metadata) FileName() string {
	var b strings.Builder

	b.WriteString(m.SeriesID)
	fmt.Fprintf(&b, " [%s]", m.Language)
	b.WriteString(" - ")

	if m.OneShot {
		// A bare number with no chapter prefix marks a one-shot.
		b.WriteString("0")
	} else {
		b.WriteString("c")
		if m.ChapterNumber != nil {
			b.WriteString(*m.ChapterNumber)
		} else {
			b.WriteString("0")
		}
	}

	if m.VolumeNumber != nil {
		fmt.Fprintf(&b, " (v%s)", *m.VolumeNumber)
	}
	if m.Title != nil {
		fmt.Fprintf(&b, " (%s)", escapeTitle(*m.Title))
	}
	if m.PublishAt != nil {
		// Dashes in the time part keep the name filesystem-safe; the
		// grammar accepts them in place of colons.
		fmt.Fprintf(&b, " {%s}", m.PublishAt.UTC().Format("2006-01-02T15-04-05"))
	}
	if len(m.GroupIDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(m.GroupIDs, "+"))
	}
	if !m.IsFolder {
		b.WriteString(".cbz")
	}
	return b.String()
}

// escapeTitle replaces the characters that can't appear in a filename
// with their placeholder tokens.
func escapeTitle(title string) string {
	for placeholder, char := range titlePlaceholders {
		title = strings.ReplaceAll(title, char, placeholder)
	}
	return title
}
