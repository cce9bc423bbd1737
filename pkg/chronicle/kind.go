package chronicle

import "strings"

// Entity kinds. KindUnknown is the default and the only kind an entity may be
// promoted away from: once an entity carries a specific kind, later mentions
// never regress it back to unknown.
const (
	KindPlayer   = "player"
	KindNPC      = "npc"
	KindCreature = "creature"
	KindItem     = "item"
	KindUnknown  = "unknown"
)

// kindSynonyms maps common LLM output variants onto the canonical vocabulary.
var kindSynonyms = map[string]string{
	"pc":       KindPlayer,
	"player":   KindPlayer,
	"npc":      KindNPC,
	"creature": KindCreature,
	"monster":  KindCreature,
	"item":     KindItem,
}

// NormalizeKind lowercases and trims kind and maps synonyms ("pc", "monster")
// onto the canonical vocabulary. Empty input becomes KindUnknown; unrecognised
// values pass through lowercased rather than being rejected.
func NormalizeKind(kind string) string {
	clean := strings.ToLower(strings.TrimSpace(kind))
	if clean == "" {
		return KindUnknown
	}
	if canon, ok := kindSynonyms[clean]; ok {
		return canon
	}
	return clean
}

// KindIsSpecific reports whether kind names a concrete category, i.e. is
// neither empty nor KindUnknown.
func KindIsSpecific(kind string) bool {
	return kind != "" && kind != KindUnknown
}
