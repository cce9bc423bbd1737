// Package chronicle defines the shared domain model for a recorded tabletop
// session: the structured record extracted from each transcript chunk and the
// entity vocabulary used across the pipeline and the archive.
//
// A Record always carries all four of its lists, even when empty. Producers
// that assemble records from untrusted sources (LLM output, decoded JSON)
// must call [Record.Normalize] before handing the record to storage.
package chronicle

// WorldStateUpdate tracks a change to the environment, a location, a faction,
// or the overall world.
type WorldStateUpdate struct {
	// Location names what changed, e.g. "Town of Greenest" or "The Weather".
	Location string `json:"location"`

	// Update describes the change, e.g. "is now on high alert".
	Update string `json:"update"`
}

// CharacterEvent merges a character's action and its outcome into one record.
type CharacterEvent struct {
	// Character is the name of the PC or important NPC.
	Character string `json:"character"`

	// Action is what the character did.
	Action string `json:"action"`

	// Outcome is the direct result of the action. May be empty.
	Outcome string `json:"outcome"`
}

// QuestUpdate tracks progress, discoveries, and completions related to the
// party's active goals.
type QuestUpdate struct {
	Quest  string `json:"quest"`
	Update string `json:"update"`
}

// EntityMention is a single chunk's reference to a named entity: a party
// member, NPC, creature, or notable item.
type EntityMention struct {
	// Name is the primary name for the entity.
	Name string `json:"name"`

	// Kind is the entity category; see [NormalizeKind] for the vocabulary.
	Kind string `json:"kind"`

	// Description is a short descriptor or identifying detail. May be empty.
	Description string `json:"description"`

	// Aliases lists alternative names or titles.
	Aliases []string `json:"aliases"`
}

// Record is the structured output extracted from one transcript chunk.
// The four lists are the canonical schema: all four keys are always present
// in the JSON form, and any of them may be empty.
type Record struct {
	WorldStateUpdates []WorldStateUpdate `json:"world_state_updates"`
	CharacterEvents   []CharacterEvent   `json:"character_events"`
	QuestUpdates      []QuestUpdate      `json:"quest_updates"`
	Entities          []EntityMention    `json:"entities"`
}

// Normalize fills nil lists with empty slices so the record satisfies the
// four-key schema invariant. It mutates the receiver and returns it for
// chaining.
func (r *Record) Normalize() *Record {
	if r.WorldStateUpdates == nil {
		r.WorldStateUpdates = []WorldStateUpdate{}
	}
	if r.CharacterEvents == nil {
		r.CharacterEvents = []CharacterEvent{}
	}
	if r.QuestUpdates == nil {
		r.QuestUpdates = []QuestUpdate{}
	}
	if r.Entities == nil {
		r.Entities = []EntityMention{}
	}
	return r
}

// IsEmpty reports whether the record carries no structured content at all.
func (r *Record) IsEmpty() bool {
	return len(r.WorldStateUpdates) == 0 &&
		len(r.CharacterEvents) == 0 &&
		len(r.QuestUpdates) == 0 &&
		len(r.Entities) == 0
}

// HasNarrative reports whether any of the three narrative lists (world,
// character, quest) is non-empty. Entity mentions alone do not count: the
// rule-based extractor emits entity candidates even for chunks it could not
// otherwise classify.
func (r *Record) HasNarrative() bool {
	return len(r.WorldStateUpdates) > 0 ||
		len(r.CharacterEvents) > 0 ||
		len(r.QuestUpdates) > 0
}
