package classifier

import (
	"strings"
)

// WordFilter matches a guild's custom blacklist against message text.
// Building one walks the whole list, so instances are cached per guild
// and rebuilt only when the list changes.
type WordFilter struct {
	words []string
}

func NewWordFilter(words []string) *WordFilter {
	cleaned := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			cleaned = append(cleaned, w)
		}
	}
	return &WordFilter{words: cleaned}
}

func (f *WordFilter) Empty() bool {
	return len(f.words) == 0
}

// Contains reports whether any blacklisted word appears in text as a
// case-insensitive substring.
func (f *WordFilter) Contains(text string) bool {
	lower := strings.ToLower(Transliterate(text))
	for _, w := range f.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Censor replaces each match with asterisks of the same length so log
// entries can show the shape of the hit without repeating it. It works
// on the same folded text Contains matches against, so a hit through
// accented characters is masked too.
func (f *WordFilter) Censor(text string) string {
	folded := strings.ToLower(Transliterate(text))
	out := []byte(folded)
	for _, w := range f.words {
		mask := strings.Repeat("*", len(w))
		for from := 0; ; {
			idx := strings.Index(string(out[from:]), w)
			if idx < 0 {
				break
			}
			start := from + idx
			copy(out[start:start+len(w)], mask)
			from = start + len(w)
		}
	}
	return string(out)
}
