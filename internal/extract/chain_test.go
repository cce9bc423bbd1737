package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dungeonarchive/chronicler/pkg/chronicle"
	llmmock "github.com/dungeonarchive/chronicler/pkg/provider/llm/mock"
)

// hungTier blocks until its context is cancelled, like a model backend that
// accepts the request and never responds.
type hungTier struct{}

func (hungTier) Name() string { return "hung" }

func (hungTier) Extract(ctx context.Context, _ string) (*chronicle.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStructuredUsesJSONMode(t *testing.T) {
	provider := &llmmock.Provider{
		Default: `{"world_state_updates": [], "character_events": [{"character": "Mira", "action": "casts a spell", "outcome": "it fizzles"}], "quest_updates": [], "entities": []}`,
	}
	rec, err := NewStructured(provider).Extract(context.Background(), "Mira casts a spell")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.CharacterEvents) != 1 || rec.CharacterEvents[0].Character != "Mira" {
		t.Errorf("character events = %+v", rec.CharacterEvents)
	}
	req := provider.Requests[0]
	if !req.JSONOnly {
		t.Error("structured tier must request JSON mode")
	}
	if req.SystemPrompt != SystemPrompt {
		t.Error("structured tier must send the fixed system prompt")
	}
}

func TestStructuredFillsMissingKeys(t *testing.T) {
	provider := &llmmock.Provider{Default: `{"quest_updates": [{"quest": "Dragon Hunt", "update": "tracks found"}]}`}
	rec, err := NewStructured(provider).Extract(context.Background(), "text")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.WorldStateUpdates == nil || rec.CharacterEvents == nil || rec.Entities == nil {
		t.Errorf("missing keys not filled: %+v", rec)
	}
	if len(rec.QuestUpdates) != 1 {
		t.Errorf("quest updates = %+v", rec.QuestUpdates)
	}
}

func TestChainFallsThroughToSecondTier(t *testing.T) {
	broken := &llmmock.Provider{Err: errors.New("model not loaded")}
	working := &llmmock.Provider{Default: `{"world_state_updates": [{"location": "Gate", "update": "sealed shut"}]}`}

	chain := NewChain([]Extractor{NewStructured(broken), NewTextGen(working), NewRules()})
	rec := chain.Extract(context.Background(), "the gate is sealed shut")

	if len(rec.WorldStateUpdates) != 1 || rec.WorldStateUpdates[0].Location != "Gate" {
		t.Errorf("world updates = %+v, want the second tier's output", rec.WorldStateUpdates)
	}
	if broken.Calls() != 1 || working.Calls() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", broken.Calls(), working.Calls())
	}
}

func TestChainDegradesToRules(t *testing.T) {
	broken := &llmmock.Provider{Err: errors.New("backend down")}

	chain := NewChain([]Extractor{NewStructured(broken), NewTextGen(broken), NewRules()})
	rec := chain.Extract(context.Background(), "Garrick rolled a 12 in the dungeon")

	if rec.WorldStateUpdates == nil || rec.CharacterEvents == nil || rec.QuestUpdates == nil || rec.Entities == nil {
		t.Fatalf("record missing keys: %+v", rec)
	}
	if len(rec.CharacterEvents) == 0 {
		t.Error("rule tier did not fire")
	}
	if broken.Calls() != 2 {
		t.Errorf("broken backend calls = %d, want 2", broken.Calls())
	}
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	first := &llmmock.Provider{Default: `{"entities": [{"name": "Odo", "kind": "npc", "description": "", "aliases": []}]}`}
	second := &llmmock.Provider{Default: `{}`}

	chain := NewChain([]Extractor{NewStructured(first), NewTextGen(second), NewRules()})
	rec := chain.Extract(context.Background(), "Odo waves")

	if len(rec.Entities) != 1 || rec.Entities[0].Name != "Odo" {
		t.Errorf("entities = %+v", rec.Entities)
	}
	if second.Calls() != 0 {
		t.Errorf("second tier called %d times, want 0", second.Calls())
	}
}

func TestChainTimesOutHungTier(t *testing.T) {
	chain := NewChain([]Extractor{hungTier{}, NewRules()}, WithTimeout(20*time.Millisecond))

	done := make(chan *chronicle.Record, 1)
	go func() {
		done <- chain.Extract(context.Background(), "Garrick rolled a 12")
	}()

	select {
	case rec := <-done:
		if len(rec.CharacterEvents) == 0 {
			t.Errorf("rule tier did not take over: %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chain never degraded past the hung tier")
	}
}

func TestChainWithoutTiersReturnsEmptyRecord(t *testing.T) {
	rec := NewChain(nil).Extract(context.Background(), "anything")
	if rec == nil || !rec.IsEmpty() {
		t.Errorf("record = %+v, want empty", rec)
	}
	if rec.WorldStateUpdates == nil || rec.Entities == nil {
		t.Error("empty record missing keys")
	}
}
