// Package normalize cleans raw speech-to-text output before extraction: it
// expands ampersands, canonicalizes dice-roll phrasing, rewrites spoken
// numbers (including their common recognizer homophones) to digits, and maps
// configured name misspellings back to their display form.
//
// Normalize is a pure function of its input and the configured name table;
// applying it twice yields the same text.
package normalize

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
)

// numberWords maps spoken number tokens, including homophones the
// recognizer commonly substitutes, to their value. Zero through twenty is
// enough for d20 table talk.
var numberWords = map[string]int{
	"zero": 0, "oh": 0,
	"one": 1, "two": 2, "to": 2, "too": 2, "three": 3,
	"four": 4, "for": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "ate": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20,
}

var (
	ampersandRe  = regexp.MustCompile(`\s*&\s*`)
	rollOnRe     = regexp.MustCompile(`(?i)\broll(?:ed|s|ing)?\s+on\b`)
	rollNumberRe = regexp.MustCompile(`(?i)\b(roll(?:ed|s|ing)?)\s+(?:(?:a|an|the)\s+)*([A-Za-z\-]+|\d+)\b`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalizer rewrites recognizer output into the canonical transcript form.
// The zero value works with an empty name table; construct with New to get
// name canonicalization.
type Normalizer struct {
	canon   map[string]string
	canonRe *regexp.Regexp
}

// New builds a Normalizer. canon maps lowercase variants and misspellings to
// the canonical display form, e.g. {"annika": "Anika"}. Variants that sound
// nothing like their canonical form are accepted but logged, since they are
// usually configuration typos.
func New(canon map[string]string) *Normalizer {
	n := &Normalizer{canon: make(map[string]string, len(canon))}

	var variants []string
	for variant, display := range canon {
		variant = strings.ToLower(strings.TrimSpace(variant))
		if variant == "" || display == "" {
			continue
		}
		n.canon[variant] = display
		variants = append(variants, regexp.QuoteMeta(variant))
		if !soundsAlike(variant, display) {
			slog.Warn("normalize: name variant is phonetically unrelated to its canonical form",
				"variant", variant, "canonical", display)
		}
	}
	if len(variants) > 0 {
		n.canonRe = regexp.MustCompile(`(?i)\b(` + strings.Join(variants, "|") + `)\b`)
	}
	return n
}

// Normalize applies the rewrite steps in their fixed order. The order
// matters: ampersand expansion runs before roll-phrase tokenization, and
// whitespace collapsing runs last.
func (n *Normalizer) Normalize(text string) string {
	t := ampersandRe.ReplaceAllString(text, " and ")
	t = rollOnRe.ReplaceAllString(t, "rolling a")

	t = rollNumberRe.ReplaceAllStringFunc(t, func(m string) string {
		sub := rollNumberRe.FindStringSubmatch(m)
		value, ok := numberWord(sub[2])
		if !ok {
			return m
		}
		return sub[1] + " a " + strconv.Itoa(value)
	})

	if n != nil && n.canonRe != nil {
		t = n.canonRe.ReplaceAllStringFunc(t, func(m string) string {
			if display, ok := n.canon[strings.ToLower(m)]; ok {
				return display
			}
			return m
		})
	}

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(t, " "))
}

// numberWord parses a spoken number token: a digit string, a number word
// (with homophones), or a hyphenated pair of number words summed together
// ("twenty-three" style recognizer output).
func numberWord(tok string) (int, bool) {
	tok = strings.Trim(strings.ToLower(tok), "-")
	if tok == "" {
		return 0, false
	}
	if v, err := strconv.Atoi(tok); err == nil {
		return v, true
	}
	if v, ok := numberWords[tok]; ok {
		return v, true
	}
	if a, b, found := strings.Cut(tok, "-"); found {
		va, okA := numberWords[a]
		vb, okB := numberWords[b]
		if okA && okB {
			return va + vb, true
		}
	}
	return 0, false
}

// soundsAlike reports whether two names share at least one Double Metaphone
// code, the same overlap test the phonetic matcher uses for fuzzy name
// recognition.
func soundsAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	// Metaphone misses very short or vowel-heavy names; fall back to a
	// string similarity bound before flagging the pair.
	return matchr.JaroWinkler(strings.ToLower(a), strings.ToLower(b), false) >= 0.75
}
