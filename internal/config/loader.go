package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad":        {"energy", "silero"},
	"stt":        {"whisper"},
	"llm":        {"openai", "ollama", "llamacpp", "anyllm"},
	"embeddings": {"ollama", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Endpointing
	ep := cfg.Endpointing
	if ep.StartTriggerMs < 0 || ep.HangoverMs < 0 || ep.MinUtteranceMs < 0 || ep.MaxUtteranceMs < 0 || ep.PrerollMs < 0 {
		errs = append(errs, errors.New("endpointing durations must not be negative"))
	}
	if ep.MaxUtteranceMs > 0 && ep.MinUtteranceMs > ep.MaxUtteranceMs {
		errs = append(errs, fmt.Errorf("endpointing.min_utterance_ms %d exceeds max_utterance_ms %d", ep.MinUtteranceMs, ep.MaxUtteranceMs))
	}
	if ep.Aggressiveness < 0 || ep.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("endpointing.aggressiveness %d is out of range [0, 3]", ep.Aggressiveness))
	}

	// Providers
	if cfg.Providers.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("providers.timeout_seconds %d must not be negative", cfg.Providers.TimeoutSeconds))
	}

	// Provider name validation, warn for unknown provider names.
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.Structured.Name)
	validateProviderName("llm", cfg.Providers.TextGen.Name)
	validateProviderName("llm", cfg.Providers.Answerer.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; live audio ingest will be unavailable")
	}
	if cfg.Providers.Structured.Name == "" && cfg.Providers.TextGen.Name == "" {
		slog.Warn("no extraction model configured; every chunk will fall through to the rule tier")
	}

	// Embeddings ↔ archive dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Archive.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but archive.embedding_dimensions is not set; defaulting to 768")
	}

	// Archive availability
	if cfg.Archive.PostgresDSN == "" {
		errs = append(errs, errors.New("archive.postgres_dsn is required"))
	}

	// Names
	for alias, canonical := range cfg.Names.Canon {
		if canonical == "" {
			errs = append(errs, fmt.Errorf("names.canon[%q] maps to an empty canonical spelling", alias))
		}
	}

	// Discord
	if cfg.Discord.Token != "" && cfg.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is required when discord.token is set"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
