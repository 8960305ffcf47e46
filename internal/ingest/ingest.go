// Package ingest loads source documents and splits them into
// translatable units. Markdown top-level and second-level headings mark
// chapter boundaries; a document without headings becomes one unit.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/diegogrosmann/BookTranslateAI/internal"
)

// Load reads the document at path and splits it into units. The unit
// before the first heading, when non-blank, becomes a preface unit.
func Load(path string) ([]internal.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return SplitUnits(name, string(data)), nil
}

// SplitUnits divides text at markdown chapter headings ("# " and "## "
// at the start of a line, outside fenced code). Headings keep their line
// as part of the unit text so the translated document retains them.
func SplitUnits(name, text string) []internal.Unit {
	lines := strings.Split(text, "\n")

	var (
		units   []internal.Unit
		current []string
		title   string
		inFence bool
	)

	flush := func() {
		body := strings.Join(current, "\n")
		if strings.TrimSpace(body) == "" {
			current = nil
			return
		}
		t := title
		if t == "" {
			if len(units) == 0 {
				t = name
			} else {
				t = fmt.Sprintf("%s (%d)", name, len(units)+1)
			}
		}
		units = append(units, internal.Unit{
			ID:    fmt.Sprintf("chapter_%d", len(units)+1),
			Index: len(units),
			Title: t,
			Text:  body,
		})
		current = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence && isChapterHeading(line) {
			flush()
			title = headingTitle(line)
		}
		current = append(current, line)
	}
	flush()

	return units
}

func isChapterHeading(line string) bool {
	return strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "## ")
}

func headingTitle(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "# "))
}
