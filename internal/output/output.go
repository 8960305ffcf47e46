// Package output collects translated units and writes the final
// document. Units arrive in completion order from concurrent workers;
// the writer keys them by unit index and emits the whole document in
// source order in one atomic write, so an interrupted run never leaves
// a half-written or misordered file behind.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/diegogrosmann/BookTranslateAI/internal/markdown"
)

// Format selects the document rendering.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat maps a user-facing format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("output: unknown format %q (markdown, html)", s)
}

type chapter struct {
	title string
	body  string
}

// Writer accumulates chapters and flushes them as one document.
// SetChapter is safe for concurrent use; Flush is not.
type Writer struct {
	path   string
	format Format
	title  string

	mu       sync.Mutex
	chapters map[int]chapter
}

// NewWriter writes to path in the given format. title names the
// document in HTML output.
func NewWriter(path string, format Format, title string) *Writer {
	return &Writer{path: path, format: format, title: title, chapters: make(map[int]chapter)}
}

// SetChapter stores the translated body for the unit at idx, replacing
// any earlier text for the same index.
func (w *Writer) SetChapter(idx int, title, body string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chapters[idx] = chapter{title: title, body: body}
}

// Flush renders every stored chapter in index order and atomically
// replaces the output file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	idxs := make([]int, 0, len(w.chapters))
	for idx := range w.chapters {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	var b strings.Builder
	for i, idx := range idxs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimRight(w.chapters[idx].body, "\n"))
	}
	b.WriteString("\n")
	w.mu.Unlock()

	doc := b.String()
	if w.format == FormatHTML {
		doc = markdown.RenderPage(w.title, []byte(doc))
	}
	return writeAtomic(w.path, []byte(doc))
}

// writeAtomic writes data to a sibling temp file and renames it over
// path, so readers never observe a partial document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("output: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("output: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("output: replace %s: %w", path, err)
	}
	return nil
}
