// Package assembler joins translated fragments back into a single unit
// text. Assembly is driven by fragment index, never by completion order,
// so concurrent out-of-order translation cannot reorder the output.
package assembler

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/diegogrosmann/BookTranslateAI/internal/fragmenter"
)

// minOverlapMatch is the shortest suffix/prefix match, in runes, accepted
// as evidence of a translated overlap region.
const minOverlapMatch = 12

// PartialFailureError reports a unit assembled with placeholder text for
// fragments that exhausted their retries. The assembled text is still
// returned alongside it.
type PartialFailureError struct {
	UnitID string
	Failed []int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("unit %s assembled with %d failed fragment(s)", e.UnitID, len(e.Failed))
}

// Assemble stitches the translated fragments of one unit into its final
// text. frags is the unit's fragment layout; results maps fragment index
// to translated text, failed maps index to the recorded failure cause.
// Every fragment index must appear in exactly one of the two maps.
//
// Fragments cut at a natural boundary rejoin with a paragraph break;
// a forced mid-text cut rejoins with a single space, since the source
// had no break there.
//
// When any fragment failed, the joined text carries an inline marker in
// its place and a *PartialFailureError is returned with the text.
func Assemble(unitID string, frags []fragmenter.Fragment, results map[int]string, failed map[int]string) (string, error) {
	if len(frags) == 0 {
		return "", nil
	}

	ordered := make([]fragmenter.Fragment, len(frags))
	copy(ordered, frags)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	for _, fr := range ordered {
		if _, ok := results[fr.Index]; ok {
			continue
		}
		if _, ok := failed[fr.Index]; ok {
			continue
		}
		return "", fmt.Errorf("assembler: unit %s fragment %d has no result", unitID, fr.Index)
	}

	var (
		b          strings.Builder
		failedIdx  []int
		prevOK     bool
		prevHard   bool
		prevResult string
	)

	for i, fr := range ordered {
		text, ok := results[fr.Index]
		if ok {
			// The overlap prefix was translated along with the
			// fragment's own region; drop its translation before
			// joining. Without a successfully translated predecessor
			// there is nothing to align against, so the text is kept
			// whole.
			if fr.OverlapPrefix > 0 && prevOK {
				text = trimOverlap(prevResult, text, fr)
			}
		} else {
			failedIdx = append(failedIdx, fr.Index)
			text = fmt.Sprintf("[translation failed: fragment %d]", fr.Index)
		}

		if i > 0 {
			if prevHard {
				b.WriteByte(' ')
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(text)

		prevOK = ok
		prevHard = fr.HardEnd
		if ok {
			prevResult = text
		}
	}

	joined := b.String()

	if len(failedIdx) > 0 {
		return joined, &PartialFailureError{UnitID: unitID, Failed: failedIdx}
	}
	return joined, nil
}

// trimOverlap removes the translated overlap prefix from cur. It first
// looks for the longest literal match between the tail of the previous
// fragment's translation and the head of cur; translators usually render
// the duplicated source the same way twice, making the seam findable.
// When no match exists it falls back to cutting a span sized by the
// translation's length ratio, snapped forward to a word boundary. The
// fallback can clip or duplicate a few words at a seam.
func trimOverlap(prev, cur string, fr fragmenter.Fragment) string {
	curRunes := []rune(cur)

	window := fr.OverlapPrefix * 2
	prevRunes := []rune(prev)
	tail := prevRunes
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	head := curRunes
	if len(head) > window {
		head = head[:window]
	}

	max := len(tail)
	if len(head) < max {
		max = len(head)
	}
	for n := max; n >= minOverlapMatch; n-- {
		if string(tail[len(tail)-n:]) == string(head[:n]) {
			return strings.TrimLeft(string(curRunes[n:]), " \n")
		}
	}

	// No literal seam. Estimate how long the overlap became in the
	// target language and cut that many runes.
	srcLen := fr.OverlapPrefix + (fr.End - fr.Start)
	ratio := 1.0
	if srcLen > 0 {
		ratio = float64(len(curRunes)) / float64(srcLen)
	}
	cut := int(float64(fr.OverlapPrefix) * ratio)
	if cut >= len(curRunes) {
		cut = len(curRunes) - 1
	}
	if cut < 0 {
		cut = 0
	}
	for cut < len(curRunes) && !unicode.IsSpace(curRunes[cut]) {
		cut++
	}
	return strings.TrimLeft(string(curRunes[cut:]), " \n")
}
