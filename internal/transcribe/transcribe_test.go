package transcribe

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dungeonarchive/chronicler/internal/normalize"
	"github.com/dungeonarchive/chronicler/pkg/provider/stt"
	sttmock "github.com/dungeonarchive/chronicler/pkg/provider/stt/mock"
)

func good(text string) stt.Segment {
	return stt.Segment{Text: text, AvgLogProb: -0.3, CompressionRatio: 1.2}
}

func TestTranscribeJoinsAndNormalizes(t *testing.T) {
	provider := &sttmock.Provider{
		Default: []stt.Segment{good("Garrick & Mira"), good("rolled a twelve.")},
	}
	tr, err := New(provider, WithNormalizer(normalize.New(nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := tr.Transcribe(context.Background(), make([]int16, 320))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	want := "Garrick and Mira rolled a 12."
	if got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}

func TestTranscribeFiltersBadSegments(t *testing.T) {
	provider := &sttmock.Provider{
		Default: []stt.Segment{
			{Text: "mumbled noise", AvgLogProb: -1.5, CompressionRatio: 1.0},
			{Text: "la la la la la la", AvgLogProb: -0.2, CompressionRatio: 3.0},
			{Text: "Thank you.", AvgLogProb: -0.1, CompressionRatio: 1.0},
			{Text: "  ", AvgLogProb: -0.1, CompressionRatio: 1.0},
			good("the door creaks open"),
		},
	}
	tr, err := New(provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := tr.Transcribe(context.Background(), make([]int16, 320))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "the door creaks open" {
		t.Errorf("transcript = %q", got)
	}
}

func TestTranscribeAllSegmentsFiltered(t *testing.T) {
	provider := &sttmock.Provider{
		Default: []stt.Segment{{Text: "Okay.", AvgLogProb: -0.1, CompressionRatio: 1.0}},
	}
	tr, err := New(provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := tr.Transcribe(context.Background(), make([]int16, 320))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "" {
		t.Errorf("transcript = %q, want empty", got)
	}
}

func TestTranscribeSendsPromptAndLanguage(t *testing.T) {
	provider := &sttmock.Provider{Default: []stt.Segment{good("hello")}}
	tr, err := New(provider, WithNames([]string{"Anika (A N I K A)", "Paul"}), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), make([]int16, 320)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	req := provider.Requests[0]
	if req.Language != "en" {
		t.Errorf("language = %q", req.Language)
	}
	if !strings.Contains(req.InitialPrompt, "Anika (A N I K A), Paul") {
		t.Errorf("prompt missing names: %q", req.InitialPrompt)
	}
	if !strings.Contains(req.InitialPrompt, "Transcribe literally") {
		t.Errorf("prompt missing instruction: %q", req.InitialPrompt)
	}
	if len(req.Samples) != 320 {
		t.Errorf("samples = %d, want 320", len(req.Samples))
	}
}

func TestTranscribePropagatesProviderError(t *testing.T) {
	provider := &sttmock.Provider{Err: errors.New("model not loaded")}
	tr, err := New(provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), make([]int16, 320)); err == nil {
		t.Error("expected provider error")
	}
}

func TestNewRejectsNilProvider(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil provider")
	}
}
