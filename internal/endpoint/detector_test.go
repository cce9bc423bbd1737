package endpoint

import (
	"errors"
	"testing"

	"github.com/dungeonarchive/chronicler/pkg/audio"
	vadmock "github.com/dungeonarchive/chronicler/pkg/provider/vad/mock"
)

// testConfig keeps thresholds small so tests stay readable: trigger after
// 5 frames, close after 3 silence frames, minimum 10 frames, cutoff at 20,
// preroll window 10.
func testConfig() Config {
	return Config{
		StartTriggerMs: 100,
		HangoverMs:     60,
		MinUtteranceMs: 200,
		MaxUtteranceMs: 400,
		PrerollMs:      200,
	}
}

func makeFrame(marker int16) audio.Frame {
	f := make(audio.Frame, audio.FrameSamples)
	for i := range f {
		f[i] = marker
	}
	return f
}

func newDetector(t *testing.T, session *vadmock.Session, cfg Config) *Detector {
	t.Helper()
	d, err := New(&vadmock.Engine{Session: session}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// feed pushes frames with the given marker and speech decisions already
// scripted on the session, collecting every emitted utterance.
func feed(t *testing.T, d *Detector, marker int16, n int) [][]int16 {
	t.Helper()
	var out [][]int16
	for i := 0; i < n; i++ {
		emitted, err := d.Process(makeFrame(marker))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		out = append(out, emitted...)
	}
	return out
}

func TestEmitsUtteranceWithPreroll(t *testing.T) {
	session := &vadmock.Session{
		Script:  []bool{false, false, false, false, false}, // leading silence
		Default: true,
	}
	d := newDetector(t, session, testConfig())

	if got := feed(t, d, 1, 5); len(got) != 0 {
		t.Fatalf("emitted during leading silence: %d", len(got))
	}
	if got := feed(t, d, 2, 10); len(got) != 0 {
		t.Fatalf("emitted before hangover: %d", len(got))
	}

	session.Default = false
	got := feed(t, d, 3, 3)
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}

	// 10 preroll frames (5 silence + 5 speech), 5 speech, 3 hangover.
	u := got[0]
	if want := 18 * audio.FrameSamples; len(u) != want {
		t.Fatalf("utterance has %d samples, want %d", len(u), want)
	}
	if u[0] != 1 {
		t.Fatalf("utterance does not start with preroll audio, first sample %d", u[0])
	}
	if u[len(u)-1] != 3 {
		t.Fatalf("utterance missing trailing frames, last sample %d", u[len(u)-1])
	}
}

func TestShortUtteranceDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.MinUtteranceMs = 400 // 20 frames, unreachable here

	session := &vadmock.Session{Default: true}
	d := newDetector(t, session, cfg)

	feed(t, d, 1, 5) // trigger
	session.Default = false
	if got := feed(t, d, 2, 3); len(got) != 0 {
		t.Fatalf("short utterance emitted: %d", len(got))
	}
	if session.ResetCalls == 0 {
		t.Fatal("classifier session not reset after discard")
	}
}

func TestNoiseBlipDiscardedAtDefaults(t *testing.T) {
	// 200 ms of speech trips the trigger, then 800 ms of silence closes the
	// utterance. The hangover padding must not count towards the 1000 ms
	// minimum, so nothing is emitted.
	session := &vadmock.Session{
		Script:  []bool{true, true, true, true, true, true, true, true, true, true},
		Default: false,
	}
	d := newDetector(t, session, Config{})

	if got := feed(t, d, 1, 50); len(got) != 0 {
		t.Fatalf("noise blip emitted as %d utterances", len(got))
	}
	if u := d.Flush(); u != nil {
		t.Fatalf("Flush emitted %d samples, want nil", len(u))
	}
}

func TestSpeechRunResetBySilence(t *testing.T) {
	session := &vadmock.Session{
		Script:  []bool{true, true, true, true, false, true, true, true, true, false},
		Default: false,
	}
	d := newDetector(t, session, testConfig())

	if got := feed(t, d, 1, 10); len(got) != 0 {
		t.Fatalf("interrupted speech runs must not trigger: %d", len(got))
	}
	if u := d.Flush(); u != nil {
		t.Fatalf("Flush while idle = %d samples, want nil", len(u))
	}
}

func TestMaxDurationCutoffContinues(t *testing.T) {
	session := &vadmock.Session{Default: true}
	d := newDetector(t, session, testConfig())

	// Continuous speech: trigger after 5 frames (buffer = 5 preroll), then
	// cutoff each time the buffer reaches 20 frames.
	got := feed(t, d, 1, 45)
	if len(got) != 2 {
		t.Fatalf("got %d utterances, want 2", len(got))
	}
	for i, u := range got {
		if want := 20 * audio.FrameSamples; len(u) != want {
			t.Fatalf("utterance %d has %d samples, want %d", i, len(u), want)
		}
	}

	// The remainder is still accumulating and survives a flush if long
	// enough; here it is 5 frames, below the 10 frame minimum.
	if u := d.Flush(); u != nil {
		t.Fatalf("Flush emitted %d samples, want nil", len(u))
	}
}

func TestFlushEmitsPendingUtterance(t *testing.T) {
	session := &vadmock.Session{Default: true}
	d := newDetector(t, session, testConfig())

	feed(t, d, 1, 15) // trigger at 5, buffer then 10+10=15 frames
	u := d.Flush()
	if u == nil {
		t.Fatal("Flush returned nil for a pending long utterance")
	}
	if want := 15 * audio.FrameSamples; len(u) != want {
		t.Fatalf("flushed %d samples, want %d", len(u), want)
	}
}

func TestNilEngineFailsFast(t *testing.T) {
	if _, err := New(nil, testConfig()); err == nil {
		t.Fatal("New(nil) must fail")
	}
}

func TestSessionErrorFailsFast(t *testing.T) {
	engine := &vadmock.Engine{NewSessionErr: errors.New("classifier unavailable")}
	if _, err := New(engine, testConfig()); err == nil {
		t.Fatal("New with failing classifier must fail")
	}
}

func TestRejectsWrongFrameSize(t *testing.T) {
	d := newDetector(t, &vadmock.Session{Default: true}, testConfig())
	if _, err := d.Process(make(audio.Frame, audio.FrameSamples/2)); err == nil {
		t.Fatal("short frame must be rejected")
	}
}
