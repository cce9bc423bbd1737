package extract

import (
	"context"
	"strings"
	"testing"
)

func TestRulesRollRegex(t *testing.T) {
	rec, err := NewRules().Extract(context.Background(), "Garrick rolled a 17 and grinned.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.CharacterEvents) < 1 {
		t.Fatalf("expected at least one character event, got %d", len(rec.CharacterEvents))
	}
	ev := rec.CharacterEvents[0]
	if ev.Character != "Garrick" || ev.Action != "rolled a 17" || ev.Outcome != "" {
		t.Errorf("unexpected roll event: %+v", ev)
	}
}

func TestRulesActionLexicon(t *testing.T) {
	rec, err := NewRules().Extract(context.Background(), "she sneaks past the guard")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.CharacterEvents) != 1 {
		t.Fatalf("expected one character event, got %d", len(rec.CharacterEvents))
	}
	if rec.CharacterEvents[0].Character != "Unknown" {
		t.Errorf("character = %q, want Unknown", rec.CharacterEvents[0].Character)
	}
	if rec.CharacterEvents[0].Action != "she sneaks past the guard" {
		t.Errorf("action = %q", rec.CharacterEvents[0].Action)
	}
}

func TestRulesLocationAndQuestLexicons(t *testing.T) {
	rec, err := NewRules().Extract(context.Background(), "a new clue waits behind the tavern door")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.WorldStateUpdates) != 1 || rec.WorldStateUpdates[0].Location != "World" {
		t.Errorf("world updates = %+v, want one with location World", rec.WorldStateUpdates)
	}
	if len(rec.QuestUpdates) != 1 || rec.QuestUpdates[0].Quest != "Quest" {
		t.Errorf("quest updates = %+v, want one with quest Quest", rec.QuestUpdates)
	}
}

func TestRulesNarrationFallback(t *testing.T) {
	text := "So um the sky, you know, turned red. Everyone basically went quiet. Nobody moved at all."
	rec, err := NewRules().Extract(context.Background(), text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.WorldStateUpdates) != 1 {
		t.Fatalf("expected one narration update, got %+v", rec.WorldStateUpdates)
	}
	up := rec.WorldStateUpdates[0]
	if up.Location != "Narration" {
		t.Errorf("location = %q, want Narration", up.Location)
	}
	if strings.Contains(up.Update, "um") || strings.Contains(up.Update, "you know") || strings.Contains(up.Update, "basically") {
		t.Errorf("filler not stripped: %q", up.Update)
	}
	if strings.Contains(up.Update, "Nobody moved") {
		t.Errorf("more than two sentences kept: %q", up.Update)
	}
}

func TestRulesNarrationSkippedWhenLexiconFires(t *testing.T) {
	rec, err := NewRules().Extract(context.Background(), "the party walks into the forest")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, up := range rec.WorldStateUpdates {
		if up.Location == "Narration" {
			t.Errorf("narration emitted alongside lexicon match: %+v", rec.WorldStateUpdates)
		}
	}
}

func TestRulesEntityCandidates(t *testing.T) {
	rec, err := NewRules().Extract(context.Background(), "When Eldra met Borin near Hollowbrook, Eldra smiled.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got := make([]string, 0, len(rec.Entities))
	for _, e := range rec.Entities {
		if e.Kind != "unknown" {
			t.Errorf("entity %q kind = %q, want unknown", e.Name, e.Kind)
		}
		got = append(got, e.Name)
	}
	want := []string{"Borin", "Eldra", "Hollowbrook"}
	if len(got) != len(want) {
		t.Fatalf("entities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entities = %v, want %v", got, want)
		}
	}
}

func TestRulesAlwaysFourKeys(t *testing.T) {
	rec, err := NewRules().Extract(context.Background(), "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.WorldStateUpdates == nil || rec.CharacterEvents == nil || rec.QuestUpdates == nil || rec.Entities == nil {
		t.Errorf("nil list in record: %+v", rec)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 30) + ", " + strings.Repeat("y", 30) + " " + strings.Repeat("z", 30)
	got := truncate(long, 70)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("no ellipsis: %q", got)
	}
	if len(got) > 70+len("…") {
		t.Errorf("truncated text too long: %d bytes", len(got))
	}
	if strings.HasSuffix(strings.TrimSuffix(got, "…"), "z") && len(strings.TrimSuffix(got, "…")) == 70 {
		t.Errorf("cut mid-word: %q", got)
	}

	if got := truncate("short", 140); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one! Third?")
	want := []string{"First one.", "Second one!", "Third?"}
	if len(got) != len(want) {
		t.Fatalf("sentences = %v, want %v", got, want)
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
