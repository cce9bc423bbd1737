package config_test

import (
	"errors"
	"testing"

	"github.com/dungeonarchive/chronicler/internal/config"
	"github.com/dungeonarchive/chronicler/pkg/provider/embeddings"
	embeddingsmock "github.com/dungeonarchive/chronicler/pkg/provider/embeddings/mock"
	"github.com/dungeonarchive/chronicler/pkg/provider/llm"
	llmmock "github.com/dungeonarchive/chronicler/pkg/provider/llm/mock"
	"github.com/dungeonarchive/chronicler/pkg/provider/stt"
	sttmock "github.com/dungeonarchive/chronicler/pkg/provider/stt/mock"
	"github.com/dungeonarchive/chronicler/pkg/provider/vad"
	vadmock "github.com/dungeonarchive/chronicler/pkg/provider/vad/mock"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("\"verbose\" should be invalid")
	}
}

func TestRegistry_UnknownProviders(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	if _, err := r.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM error = %v", err)
	}
	if _, err := r.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT error = %v", err)
	}
	if _, err := r.CreateEmbeddings(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateEmbeddings error = %v", err)
	}
	if _, err := r.CreateVAD(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateVAD error = %v", err)
	}
}

func TestRegistry_RegisteredFactories(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	r.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	r.RegisterEmbeddings("mock", func(config.ProviderEntry) (embeddings.Provider, error) {
		return &embeddingsmock.Provider{}, nil
	})
	r.RegisterVAD("mock", func(config.ProviderEntry) (vad.Engine, error) {
		return &vadmock.Engine{}, nil
	})

	if p, err := r.CreateLLM(config.ProviderEntry{Name: "mock"}); err != nil || p == nil {
		t.Errorf("CreateLLM = %v, %v", p, err)
	}
	if p, err := r.CreateSTT(config.ProviderEntry{Name: "mock"}); err != nil || p == nil {
		t.Errorf("CreateSTT = %v, %v", p, err)
	}
	if p, err := r.CreateEmbeddings(config.ProviderEntry{Name: "mock"}); err != nil || p == nil {
		t.Errorf("CreateEmbeddings = %v, %v", p, err)
	}
	if e, err := r.CreateVAD(config.ProviderEntry{Name: "mock"}); err != nil || e == nil {
		t.Errorf("CreateVAD = %v, %v", e, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	wantErr := errors.New("no API key")
	r.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	if _, err := r.CreateLLM(config.ProviderEntry{Name: "broken"}); !errors.Is(err, wantErr) {
		t.Errorf("CreateLLM error = %v, want %v", err, wantErr)
	}
}

func TestRegistry_EntryReachesFactory(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	var got config.ProviderEntry
	r.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Provider, error) {
		got = e
		return &sttmock.Provider{}, nil
	})
	entry := config.ProviderEntry{Name: "mock", Model: "/models/ggml-base.en.bin", APIKey: "k"}
	if _, err := r.CreateSTT(entry); err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if got.Model != entry.Model || got.APIKey != entry.APIKey {
		t.Errorf("factory received %+v, want %+v", got, entry)
	}
}
