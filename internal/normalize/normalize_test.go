package normalize

import "testing"

func TestNormalizeRollPhrases(t *testing.T) {
	n := New(nil)
	cases := []struct {
		in   string
		want string
	}{
		{"Rolled on a twenty", "rolling a 20"},
		{"she rolls a seventeen", "she rolls a 17"},
		{"rolled the eighteen", "rolled a 18"},
		{"I rolled to on the check", "I rolled a 2 on the check"},
		{"he rolled ate", "he rolled a 8"},
		{"rolling a 12", "rolling a 12"},
		{"rolled twenty-one", "rolled a 21"},
		{"rolled gibberish", "rolled gibberish"},
		{"no dice here", "no dice here"},
	}
	for _, tc := range cases {
		if got := n.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeAmpersand(t *testing.T) {
	n := New(nil)
	if got := n.Normalize("Bob & Sue went ahead"); got != "Bob and Sue went ahead" {
		t.Fatalf("got %q", got)
	}
	if got := n.Normalize("Bob&Sue"); got != "Bob and Sue" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeNameCanon(t *testing.T) {
	n := New(map[string]string{
		"annika": "Anika",
		"anika":  "Anika",
		"mukal":  "Mukul",
	})
	if got := n.Normalize("ANNIKA and mukal search the room"); got != "Anika and Mukul search the room" {
		t.Fatalf("got %q", got)
	}
	// Unconfigured capitalized words stay untouched.
	if got := n.Normalize("Annikat waves"); got != "Annikat waves" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	n := New(nil)
	if got := n.Normalize("  too   many\t spaces \n"); got != "too many spaces" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	n := New(map[string]string{"annika": "Anika"})
	inputs := []string{
		"Annika rolled on a twenty & cheered",
		"rolling a 20",
		"plain narration with no rules",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestNormalizeOrderAmpersandBeforeRoll(t *testing.T) {
	// The ampersand must expand first so the roll tokenizer sees clean
	// word boundaries.
	n := New(nil)
	if got := n.Normalize("rolled&twenty"); got != "rolled and twenty" {
		t.Fatalf("got %q", got)
	}
}

func TestNumberWord(t *testing.T) {
	cases := []struct {
		tok  string
		want int
		ok   bool
	}{
		{"twenty", 20, true},
		{"to", 2, true},
		{"too", 2, true},
		{"for", 4, true},
		{"ate", 8, true},
		{"oh", 0, true},
		{"7", 7, true},
		{"twenty-three", 23, true},
		{"ten-five", 15, true},
		{"banana", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := numberWord(tc.tok)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("numberWord(%q) = %d, %v; want %d, %v", tc.tok, got, ok, tc.want, tc.ok)
		}
	}
}

func TestZeroValueNormalizer(t *testing.T) {
	var n *Normalizer
	if got := n.Normalize("rolled a five"); got != "rolled a 5" {
		t.Fatalf("got %q", got)
	}
}
