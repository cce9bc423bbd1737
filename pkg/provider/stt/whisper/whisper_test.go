package whisper

import (
	"math"
	"strings"
	"testing"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

func TestAvgLogProb(t *testing.T) {
	tokens := []whisperlib.Token{
		{P: 1.0},
		{P: 0.5},
	}
	got := avgLogProb(tokens)
	want := (math.Log(1.0) + math.Log(0.5)) / 2
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("avgLogProb = %v, want %v", got, want)
	}
}

func TestAvgLogProbEmpty(t *testing.T) {
	if got := avgLogProb(nil); got != 0 {
		t.Fatalf("avgLogProb(nil) = %v, want 0", got)
	}
}

func TestAvgLogProbClampsZero(t *testing.T) {
	got := avgLogProb([]whisperlib.Token{{P: 0}})
	if math.IsInf(got, -1) || math.IsNaN(got) {
		t.Fatalf("avgLogProb with zero probability must stay finite, got %v", got)
	}
}

func TestCompressionRatioRepetitiveTextScoresHigh(t *testing.T) {
	repetitive := strings.Repeat("the same words over and over ", 40)
	varied := "A goblin ambush at the ford scattered the caravan guards."

	high := compressionRatio(repetitive)
	low := compressionRatio(varied)
	if high <= low {
		t.Fatalf("repetitive ratio %v should exceed varied ratio %v", high, low)
	}
	if high < 2.4 {
		t.Fatalf("heavily repetitive text should cross the hallucination bound, got %v", high)
	}
}

func TestCompressionRatioEmpty(t *testing.T) {
	if got := compressionRatio(""); got != 0 {
		t.Fatalf("compressionRatio(\"\") = %v, want 0", got)
	}
}
