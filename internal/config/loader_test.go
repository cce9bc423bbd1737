package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/dungeonarchive/chronicler/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8000"
  log_level: info
endpointing:
  start_trigger_ms: 200
  hangover_ms: 800
  min_utterance_ms: 1000
  max_utterance_ms: 20000
  preroll_ms: 200
  aggressiveness: 2
names:
  canon:
    garick: Garrick
  display: [Garrick, Mira]
providers:
  vad:
    name: energy
  stt:
    name: whisper
    model: /models/ggml-base.en.bin
  structured:
    name: openai
    model: gpt-4o-mini
archive:
  postgres_dsn: "postgres://localhost/chronicler"
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Endpointing.HangoverMs != 800 {
		t.Errorf("hangover_ms = %d", cfg.Endpointing.HangoverMs)
	}
	if cfg.Names.Canon["garick"] != "Garrick" {
		t.Errorf("canon = %v", cfg.Names.Canon)
	}
	if cfg.Providers.STT.Model != "/models/ggml-base.en.bin" {
		t.Errorf("stt model = %q", cfg.Providers.STT.Model)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
archive:
  postgres_dsn: "postgres://localhost/chronicler"
banana: true
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
archive:
  postgres_dsn: "postgres://localhost/chronicler"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_RequiresArchiveDSN(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: info\n"))
	if err == nil {
		t.Fatal("expected error for missing archive DSN, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_EndpointingRanges(t *testing.T) {
	t.Parallel()
	yaml := `
endpointing:
  min_utterance_ms: 5000
  max_utterance_ms: 1000
  aggressiveness: 7
archive:
  postgres_dsn: "postgres://localhost/chronicler"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for bad endpointing values, got nil")
	}
	if !strings.Contains(err.Error(), "min_utterance_ms") {
		t.Errorf("error should mention min_utterance_ms, got: %v", err)
	}
	if !strings.Contains(err.Error(), "aggressiveness") {
		t.Errorf("error should mention aggressiveness, got: %v", err)
	}
}

func TestProvidersTimeout(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  timeout_seconds: 15
archive:
  postgres_dsn: "postgres://localhost/chronicler"
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Providers.Timeout(); got != 15*time.Second {
		t.Errorf("Timeout() = %v, want 15s", got)
	}

	var zero config.ProvidersConfig
	if got := zero.Timeout(); got != 60*time.Second {
		t.Errorf("default Timeout() = %v, want 60s", got)
	}
}

func TestValidate_NegativeProviderTimeout(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  timeout_seconds: -5
archive:
  postgres_dsn: "postgres://localhost/chronicler"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative timeout, got nil")
	}
	if !strings.Contains(err.Error(), "timeout_seconds") {
		t.Errorf("error should mention timeout_seconds, got: %v", err)
	}
}

func TestValidate_EmptyCanonTarget(t *testing.T) {
	t.Parallel()
	yaml := `
names:
  canon:
    garick: ""
archive:
  postgres_dsn: "postgres://localhost/chronicler"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for empty canonical spelling, got nil")
	}
}

func TestValidate_DiscordChannelRequired(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: "abc123"
archive:
  postgres_dsn: "postgres://localhost/chronicler"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for discord token without channel, got nil")
	}
	if !strings.Contains(err.Error(), "channel_id") {
		t.Errorf("error should mention channel_id, got: %v", err)
	}
}
