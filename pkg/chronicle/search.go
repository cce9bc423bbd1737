package chronicle

import "strings"

// SearchText renders the record as the flattened text blob the archive
// indexes alongside the raw transcript: one line per item, blank fields
// omitted. The rendering is human-readable on purpose so keyword search can
// match on structured content ("Quest The Missing Caravan: ...").
func (r *Record) SearchText() string {
	var lines []string

	for _, c := range r.CharacterEvents {
		lines = append(lines, joinFields("Character", c.Character, c.Action, c.Outcome))
	}
	for _, w := range r.WorldStateUpdates {
		if line := labeledLine("World", w.Location, w.Update); line != "" {
			lines = append(lines, line)
		}
	}
	for _, q := range r.QuestUpdates {
		if line := labeledLine("Quest", q.Quest, q.Update); line != "" {
			lines = append(lines, line)
		}
	}
	for _, e := range r.Entities {
		fields := []string{e.Name, e.Kind, e.Description}
		if len(e.Aliases) > 0 {
			fields = append(fields, strings.Join(e.Aliases, ", "))
		}
		lines = append(lines, joinFields("Entity", fields...))
	}

	return strings.Join(lines, "\n")
}

// joinFields concatenates label and non-empty fields with single spaces.
func joinFields(label string, fields ...string) string {
	parts := []string{label}
	for _, f := range fields {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}

// labeledLine renders "Label name: detail", dropping whichever part is blank.
// Both blank yields "", so fully empty updates contribute nothing to the blob.
func labeledLine(label, name, detail string) string {
	switch {
	case name == "" && detail == "":
		return ""
	case name == "":
		return label + ": " + detail
	case detail == "":
		return label + " " + name
	default:
		return label + " " + name + ": " + detail
	}
}
