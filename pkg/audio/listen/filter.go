package listen

import (
	"strings"
	"unicode"
)

// DefaultHallucinationPhrases are transcriber outputs commonly produced on
// silence or noise. The list is hand-tuned against Whisper-family models;
// treat it as configuration, not ground truth — a different STT backend
// will need its own list.
var DefaultHallucinationPhrases = []string{
	"thank you for watching",
	"thanks for watching",
	"please subscribe",
	"like and subscribe",
	"see you next time",
	"bye bye",
	"goodbye",
	"[music]",
	"[applause]",
	"you",
	"the",
}

// substringMatchMinLen is the phrase length above which a phrase also matches
// as a substring. Short sentinels like "you" match only exactly, so they
// cannot reject legitimate short utterances that merely contain them.
const substringMatchMinLen = 5

// HallucinationFilter rejects transcriber output that does not correspond to
// real speech. It is read-only after construction and safe for concurrent use.
type HallucinationFilter struct {
	phrases []string
}

// NewHallucinationFilter builds a filter over the given phrase list. Pass nil
// to use [DefaultHallucinationPhrases].
func NewHallucinationFilter(phrases []string) *HallucinationFilter {
	if phrases == nil {
		phrases = DefaultHallucinationPhrases
	}
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return &HallucinationFilter{phrases: lowered}
}

// IsHallucination reports whether text looks like transcriber noise: too
// short, punctuation-only, a known filler phrase, or pathological repetition.
func (f *HallucinationFilter) IsHallucination(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))

	if len(text) < 3 {
		return true
	}
	if punctuationOnly(text) {
		return true
	}
	for _, p := range f.phrases {
		if text == p {
			return true
		}
		if len(p) > substringMatchMinLen && strings.Contains(text, p) {
			return true
		}
	}
	if wordRepeated(text, 3) {
		return true
	}
	if singleLetterRepeated(text) {
		return true
	}
	if groupRepeated(text, 4) {
		return true
	}
	return false
}

// punctuationOnly reports whether text contains no letters or digits.
func punctuationOnly(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// wordRepeated reports whether any word token occurs at least n times
// consecutively ("the the the").
func wordRepeated(text string, n int) bool {
	fields := strings.Fields(text)
	run := 1
	for i := 1; i < len(fields); i++ {
		if fields[i] == fields[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// singleLetterRepeated reports whether the text is one letter stuttered with
// spaces ("a a a").
func singleLetterRepeated(text string) bool {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return false
	}
	first := fields[0]
	if len(first) != 1 {
		return false
	}
	for _, f := range fields[1:] {
		if f != first {
			return false
		}
	}
	return true
}

// groupRepeated reports whether any 1–3 byte group repeats at least n times
// back to back ("hahahahaha", "lalalala").
func groupRepeated(text string, n int) bool {
	for size := 1; size <= 3; size++ {
		limit := len(text) - size*n
		for i := 0; i <= limit; i++ {
			group := text[i : i+size]
			count := 1
			for j := i + size; j+size <= len(text) && text[j:j+size] == group; j += size {
				count++
				if count >= n {
					return true
				}
			}
		}
	}
	return false
}
