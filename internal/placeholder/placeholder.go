// Package placeholder shields markup inside a fragment from the
// translator. Fenced code blocks, inline code spans and HTML tags are
// swapped for numbered markers before the remote call and swapped back
// after, so the model cannot mangle them.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]+`")
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	markerRe     = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Protect replaces protected spans with [PH0], [PH1], ... markers in
// order of appearance and returns the rewritten text together with the
// captured originals. Fenced blocks are captured first so that inline
// and tag patterns cannot split them.
func Protect(text string) (string, []string) {
	var captured []string
	swap := func(match string) string {
		captured = append(captured, match)
		return fmt.Sprintf("[PH%d]", len(captured)-1)
	}
	text = fencedCodeRe.ReplaceAllStringFunc(text, swap)
	text = inlineCodeRe.ReplaceAllStringFunc(text, swap)
	text = htmlTagRe.ReplaceAllStringFunc(text, swap)
	return text, captured
}

// Restore puts captured spans back in place of their markers. Markers the
// model dropped stay dropped; indices out of range are left verbatim.
func Restore(text string, captured []string) string {
	return markerRe.ReplaceAllStringFunc(text, func(match string) string {
		idx, err := strconv.Atoi(markerRe.FindStringSubmatch(match)[1])
		if err != nil || idx < 0 || idx >= len(captured) {
			return match
		}
		return captured[idx]
	})
}

// Hint is appended to the gateway instructions whenever Protect captured
// at least one span.
const Hint = "Preserve all [PHn] markers exactly as they appear. Do not translate, move, or remove them."
