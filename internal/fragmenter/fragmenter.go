// Package fragmenter splits long unit texts into ordered, overlapping
// fragments sized for a translation model's context window. Cuts prefer
// natural boundaries (paragraphs, then sentences) near the target size;
// a hard cut is the fallback so splitting always terminates. Each
// fragment after the first carries a bounded prefix of the previous
// fragment's tail as translation context.
package fragmenter

import (
	"fmt"
	"unicode"

	"github.com/rs/zerolog"
)

const (
	// DefaultChunkSize is the fragment target size in runes.
	DefaultChunkSize = 4000
	// DefaultOverlapSize is the context overlap between adjacent fragments.
	DefaultOverlapSize = 200
)

// Fragment is a contiguous slice of a unit's text plus the overlap prefix
// borrowed from its predecessor. Start and End are rune offsets of the
// fragment's own (non-overlap) region; for a unit split into N fragments
// the [Start, End) ranges tile the unit text exactly, with Index dense
// in 0..N-1.
type Fragment struct {
	UnitID        string
	Index         int
	Text          string // overlap prefix + own region
	Start         int
	End           int
	OverlapPrefix int  // runes at the head of Text that belong to the previous fragment
	HardEnd       bool // end is a forced mid-text cut, not a natural boundary or the unit end
}

// Config controls fragment sizing and boundary preferences.
type Config struct {
	ChunkSize          int
	OverlapSize        int
	PreserveSentences  bool
	PreserveParagraphs bool
}

type Fragmenter struct {
	cfg Config
	log zerolog.Logger
}

// New validates cfg and returns a Fragmenter. An overlap equal to or
// larger than the chunk size can never make progress and is rejected.
func New(cfg Config, log zerolog.Logger) (*Fragmenter, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("fragmenter: chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.OverlapSize < 0 {
		return nil, fmt.Errorf("fragmenter: overlap size must not be negative, got %d", cfg.OverlapSize)
	}
	if cfg.OverlapSize >= cfg.ChunkSize {
		return nil, fmt.Errorf("fragmenter: overlap size %d must be smaller than chunk size %d", cfg.OverlapSize, cfg.ChunkSize)
	}
	return &Fragmenter{cfg: cfg, log: log}, nil
}

// Split fragments text into an ordered sequence covering the whole unit.
// Empty text yields no fragments; text at most ChunkSize runes long
// yields a single fragment with no overlap.
func (f *Fragmenter) Split(unitID, text string) []Fragment {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var (
		frags   []Fragment
		pos     int
		natural int
		forced  int
	)

	for pos < len(runes) {
		end := pos + f.cfg.ChunkSize
		hard := false
		if end >= len(runes) {
			end = len(runes)
		} else {
			cut := f.findBreak(runes, pos, end)
			if cut > pos && cut < end {
				natural++
				end = cut
			} else {
				forced++
				hard = true
			}
		}

		prefixStart := pos
		if len(frags) > 0 && f.cfg.OverlapSize > 0 {
			prefixStart = pos - f.cfg.OverlapSize
			if prefixStart < 0 {
				prefixStart = 0
			}
		}

		frags = append(frags, Fragment{
			UnitID:        unitID,
			Index:         len(frags),
			Text:          string(runes[prefixStart:end]),
			Start:         pos,
			End:           end,
			OverlapPrefix: pos - prefixStart,
			HardEnd:       hard,
		})
		pos = end
	}

	f.log.Debug().
		Str("unit", unitID).
		Int("chars", len(runes)).
		Int("fragments", len(frags)).
		Int("natural_breaks", natural).
		Int("forced_breaks", forced).
		Msg("unit fragmented")

	return frags
}

// findBreak searches backward from target for the best cut point within a
// bounded window. Paragraph boundaries win over sentence boundaries;
// target itself (a hard cut) is the fallback. The returned cut is always
// in (pos, target].
func (f *Fragmenter) findBreak(runes []rune, pos, target int) int {
	window := f.cfg.ChunkSize / 10
	if window > 200 {
		window = 200
	}
	lo := target - window
	if lo <= pos {
		lo = pos + 1
	}

	if f.cfg.PreserveParagraphs {
		for i := target; i >= lo; i-- {
			// cut directly after a blank line
			if i >= 2 && runes[i-1] == '\n' && isBlankBefore(runes, i-1) {
				return i
			}
		}
	}

	if f.cfg.PreserveSentences {
		for i := target; i >= lo; i-- {
			if i >= 2 && isSentenceEnd(runes[i-2]) && unicode.IsSpace(runes[i-1]) {
				return i
			}
		}
	}

	return target
}

// isBlankBefore reports whether the newline at runes[i] closes a blank
// line, i.e. only horizontal whitespace separates it from the previous
// newline.
func isBlankBefore(runes []rune, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch runes[j] {
		case '\n':
			return true
		case ' ', '\t', '\r':
			continue
		default:
			return false
		}
	}
	return false
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
