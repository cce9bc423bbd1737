package extract

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dungeonarchive/chronicler/pkg/chronicle"
)

// Caps applied to free-text fields emitted by the rule-based tier.
const (
	maxActionLen    = 140
	maxUpdateLen    = 160
	maxNarrationLen = 180
)

var (
	rollRe     = regexp.MustCompile(`\b([A-Z][a-z]+)\s+rolled\s+a\s+(\d{1,2})\b`)
	actionRe   = regexp.MustCompile(`(?i)\b(attacks?|casts?|shoots?|checks?|sneaks?|stealth|investigat\w*|perception|roll(?:ed|s)?)\b`)
	locationRe = regexp.MustCompile(`(?i)\b(room|door|hall|corridor|tavern|forest|dungeon|street|camp|party|village|town|map)\b`)
	questRe    = regexp.MustCompile(`(?i)\b(quest|clue|contract|bounty|rumor|lead|goal|objective|mission)\b`)
	fillerRe   = regexp.MustCompile(`(?i)\b(uh|um|like|you know|i mean|sort of|kind of|basically|literally)\b`)
	spaceRe    = regexp.MustCompile(`\s+`)
	nameRe     = regexp.MustCompile(`\b([A-Z][a-z]{2,})\b`)
)

// sentenceStarters are capitalized tokens too common to be entity candidates.
var sentenceStarters = map[string]struct{}{
	"The":   {},
	"When":  {},
	"They":  {},
	"That":  {},
	"There": {},
}

// Rules is the terminal extraction tier: deterministic heuristics over the
// normalized transcript. It never fails, so a chain ending in Rules always
// produces a schema-valid record.
type Rules struct{}

var _ Extractor = Rules{}

// NewRules returns the rule-based extractor.
func NewRules() Rules {
	return Rules{}
}

// Name implements [Extractor].
func (Rules) Name() string { return "rules" }

// Extract implements [Extractor]. The returned error is always nil.
func (Rules) Extract(_ context.Context, text string) (*chronicle.Record, error) {
	rec := (&chronicle.Record{}).Normalize()

	for _, m := range rollRe.FindAllStringSubmatch(text, -1) {
		rec.CharacterEvents = append(rec.CharacterEvents, chronicle.CharacterEvent{
			Character: m[1],
			Action:    fmt.Sprintf("rolled a %s", m[2]),
		})
	}

	if actionRe.MatchString(text) {
		rec.CharacterEvents = append(rec.CharacterEvents, chronicle.CharacterEvent{
			Character: "Unknown",
			Action:    truncate(text, maxActionLen),
		})
	}
	if locationRe.MatchString(text) {
		rec.WorldStateUpdates = append(rec.WorldStateUpdates, chronicle.WorldStateUpdate{
			Location: "World",
			Update:   truncate(text, maxUpdateLen),
		})
	}
	if questRe.MatchString(text) {
		rec.QuestUpdates = append(rec.QuestUpdates, chronicle.QuestUpdate{
			Quest:  "Quest",
			Update: truncate(text, maxUpdateLen),
		})
	}

	if !rec.HasNarrative() {
		if narration := narrationSummary(text); narration != "" {
			rec.WorldStateUpdates = append(rec.WorldStateUpdates, chronicle.WorldStateUpdate{
				Location: "Narration",
				Update:   narration,
			})
		}
	}

	for _, name := range entityCandidates(text) {
		rec.Entities = append(rec.Entities, chronicle.EntityMention{
			Name:    name,
			Kind:    chronicle.KindUnknown,
			Aliases: []string{},
		})
	}

	return rec, nil
}

// narrationSummary strips filler phrases and joins up to the first two
// non-empty cleaned sentences.
func narrationSummary(text string) string {
	var kept []string
	for _, sentence := range splitSentences(text) {
		cleaned := fillerRe.ReplaceAllString(sentence, "")
		cleaned = strings.Trim(spaceRe.ReplaceAllString(cleaned, " "), " -")
		if cleaned == "" {
			continue
		}
		kept = append(kept, truncate(cleaned, maxNarrationLen))
		if len(kept) == 2 {
			break
		}
	}
	return strings.Join(kept, " ")
}

// splitSentences cuts text at whitespace following sentence-ending
// punctuation.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' || text[i+1] == '\t' || text[i+1] == '\n' {
				out = append(out, text[start:i+1])
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// entityCandidates returns distinct capitalized tokens, sorted, minus common
// sentence starters.
func entityCandidates(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range nameRe.FindAllStringSubmatch(text, -1) {
		token := m[1]
		if _, skip := sentenceStarters[token]; skip {
			continue
		}
		seen[token] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// truncate caps s at limit bytes, cutting at the last clause or word boundary
// before the limit and appending an ellipsis.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := strings.LastIndex(s[:limit], ", ")
	if semi := strings.LastIndex(s[:limit], "; "); semi > cut {
		cut = semi
	}
	if space := strings.LastIndex(s[:limit], " "); space > cut {
		cut = space
	}
	if cut <= 0 {
		cut = limit
	}
	return strings.TrimRight(s[:cut], " ") + "…"
}
