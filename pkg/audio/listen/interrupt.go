package listen

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultInterruptKeywords are the words that abort assistant playback when
// heard while the assistant is speaking. "kira" is the wake word; the rest
// are generic stop phrases.
var DefaultInterruptKeywords = []string{"kira", "stop", "wait", "quiet"}

// phoneticMinLen is the keyword length below which only literal matching is
// used. Very short keywords produce Double Metaphone codes that collide with
// too much ordinary speech.
const phoneticMinLen = 4

const defaultInterruptThreshold = 0.80

// InterruptDetector detects interrupt keywords in transcribed speech. A
// keyword matches either literally (case-insensitive substring) or
// phonetically, so that STT misspellings of the wake word ("keira", "cara")
// still trigger. Read-only after construction and safe for concurrent use.
type InterruptDetector struct {
	keywords  []string
	codes     []map[string]struct{}
	threshold float64
}

// InterruptOption is a functional option for configuring an [InterruptDetector].
type InterruptOption func(*InterruptDetector)

// WithInterruptThreshold sets the minimum Jaro-Winkler score required for a
// phonetic keyword match. Default: 0.80.
func WithInterruptThreshold(threshold float64) InterruptOption {
	return func(d *InterruptDetector) {
		d.threshold = threshold
	}
}

// NewInterruptDetector builds a detector for the given keywords. Pass nil to
// use [DefaultInterruptKeywords].
func NewInterruptDetector(keywords []string, opts ...InterruptOption) *InterruptDetector {
	if keywords == nil {
		keywords = DefaultInterruptKeywords
	}
	d := &InterruptDetector{
		keywords:  make([]string, 0, len(keywords)),
		codes:     make([]map[string]struct{}, 0, len(keywords)),
		threshold: defaultInterruptThreshold,
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		d.keywords = append(d.keywords, kw)
		d.codes = append(d.codes, metaphoneCodes(kw))
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect reports whether text contains an interrupt keyword and, if so, which
// keyword matched.
func (d *InterruptDetector) Detect(text string) (keyword string, found bool) {
	lowered := strings.ToLower(text)

	for _, kw := range d.keywords {
		if strings.Contains(lowered, kw) {
			return kw, true
		}
	}

	// Phonetic pass: compare each spoken token against each keyword long
	// enough to carry a distinctive sound.
	tokens := strings.Fields(lowered)
	for i, kw := range d.keywords {
		if len(kw) < phoneticMinLen {
			continue
		}
		for _, t := range tokens {
			t = strings.Trim(t, ".,!?;:'\"")
			if t == "" {
				continue
			}
			if !codesOverlap(metaphoneCodes(t), d.codes[i]) {
				continue
			}
			if matchr.JaroWinkler(t, kw, false) >= d.threshold {
				return kw, true
			}
		}
	}
	return "", false
}

// metaphoneCodes returns the set of Double Metaphone codes for a word,
// excluding empty codes.
func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
