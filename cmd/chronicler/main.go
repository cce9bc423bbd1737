// Command chronicler is the main entry point for the Chronicler session
// scribe server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/dungeonarchive/chronicler/internal/announce"
	"github.com/dungeonarchive/chronicler/internal/config"
	"github.com/dungeonarchive/chronicler/internal/endpoint"
	"github.com/dungeonarchive/chronicler/internal/extract"
	"github.com/dungeonarchive/chronicler/internal/mcptools"
	"github.com/dungeonarchive/chronicler/internal/normalize"
	"github.com/dungeonarchive/chronicler/internal/observe"
	"github.com/dungeonarchive/chronicler/internal/pipeline"
	"github.com/dungeonarchive/chronicler/internal/resilience"
	"github.com/dungeonarchive/chronicler/internal/retrieve"
	"github.com/dungeonarchive/chronicler/internal/server"
	"github.com/dungeonarchive/chronicler/internal/session"
	"github.com/dungeonarchive/chronicler/internal/transcribe"
	"github.com/dungeonarchive/chronicler/pkg/archive/postgres"
	"github.com/dungeonarchive/chronicler/pkg/provider/embeddings"
	ollamaembed "github.com/dungeonarchive/chronicler/pkg/provider/embeddings/ollama"
	"github.com/dungeonarchive/chronicler/pkg/provider/llm"
	"github.com/dungeonarchive/chronicler/pkg/provider/llm/anyllm"
	"github.com/dungeonarchive/chronicler/pkg/provider/llm/openai"
	"github.com/dungeonarchive/chronicler/pkg/provider/stt"
	"github.com/dungeonarchive/chronicler/pkg/provider/stt/whisper"
	"github.com/dungeonarchive/chronicler/pkg/provider/vad"
	"github.com/dungeonarchive/chronicler/pkg/provider/vad/energy"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mcpMode := flag.Bool("mcp", false, "serve the archive as MCP tools over stdio instead of HTTP")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chronicler: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chronicler: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "chronicler",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Archive ───────────────────────────────────────────────────────────────
	var storeOpts []postgres.Option
	if ps.Embeddings != nil {
		storeOpts = append(storeOpts, postgres.WithEmbedder(ps.Embeddings))
	}
	store, err := postgres.New(ctx, cfg.Archive.PostgresDSN, storeOpts...)
	if err != nil {
		slog.Error("failed to open archive", "err", err)
		return 1
	}
	defer store.Close()

	// ── Retrieval ─────────────────────────────────────────────────────────────
	answerer := ps.Answerer
	switch {
	case answerer == nil:
		answerer = ps.Structured
	case ps.Structured != nil:
		// Fail over to the extraction model when the answering model is down.
		fb := resilience.NewLLMFallback(answerer, cfg.Providers.Answerer.Name, resilience.FallbackConfig{})
		fb.AddFallback(cfg.Providers.Structured.Name, ps.Structured)
		answerer = fb
	}
	callTimeout := cfg.Providers.Timeout()
	retrieveOpts := []retrieve.Option{
		retrieve.WithLogger(logger),
		retrieve.WithMetrics(metrics),
		retrieve.WithTimeout(callTimeout),
	}
	if answerer != nil {
		retrieveOpts = append(retrieveOpts, retrieve.WithAnswerer(answerer))
	}
	retriever, err := retrieve.New(store, retrieveOpts...)
	if err != nil {
		slog.Error("failed to build retrieval service", "err", err)
		return 1
	}

	// ── MCP stdio mode ────────────────────────────────────────────────────────
	if *mcpMode {
		toolset, err := mcptools.NewToolset(store, retriever)
		if err != nil {
			slog.Error("failed to build MCP toolset", "err", err)
			return 1
		}
		slog.Info("serving archive tools over MCP stdio")
		if err := mcptools.Serve(ctx, toolset); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("mcp serve error", "err", err)
			return 1
		}
		return 0
	}

	slog.Info("chronicler starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"version", version,
	)

	// ── Session plumbing ──────────────────────────────────────────────────────
	sessionID := session.NewID(time.Now())

	var sessionLog *session.Log
	if cfg.Session.LogDir != "" {
		sessionLog, err = session.NewLog(cfg.Session.LogDir, sessionID, time.Now())
		if err != nil {
			slog.Error("failed to open session log", "err", err)
			return 1
		}
		defer sessionLog.Close()
	}

	hub := server.NewHub(logger, metrics)

	// ── Discord mirror (optional) ─────────────────────────────────────────────
	var announcer *announce.Announcer
	var discordSession interface{ Close() error }
	if cfg.Discord.Token != "" {
		ds, err := announce.Connect(announce.Config{Token: cfg.Discord.Token, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			slog.Error("failed to connect to Discord", "err", err)
			return 1
		}
		discordSession = ds
		announcer, err = announce.New(ds, cfg.Discord.ChannelID, announce.WithLogger(logger))
		if err != nil {
			slog.Error("failed to create Discord announcer", "err", err)
			return 1
		}
		slog.Info("discord mirror connected", "channel_id", cfg.Discord.ChannelID)
	}

	publisher := pipeline.Publisher(hub)
	if announcer != nil {
		publisher = pipeline.PublisherFunc(func(ev pipeline.Event) {
			hub.Publish(ev)
			announcer.Publish(ev)
		})
	}

	// ── Live ingest pipeline (requires STT) ───────────────────────────────────
	var pipe *pipeline.Pipeline
	if ps.STT != nil {
		vadEngine := ps.VAD
		if vadEngine == nil {
			vadEngine = &energy.Engine{}
		}
		detector, err := endpoint.New(vadEngine, endpoint.Config{
			StartTriggerMs: cfg.Endpointing.StartTriggerMs,
			HangoverMs:     cfg.Endpointing.HangoverMs,
			MinUtteranceMs: cfg.Endpointing.MinUtteranceMs,
			MaxUtteranceMs: cfg.Endpointing.MaxUtteranceMs,
			PrerollMs:      cfg.Endpointing.PrerollMs,
			Aggressiveness: cfg.Endpointing.Aggressiveness,
		})
		if err != nil {
			slog.Error("failed to build endpoint detector", "err", err)
			return 1
		}

		transcribeOpts := []transcribe.Option{
			transcribe.WithNormalizer(normalize.New(cfg.Names.Canon)),
			transcribe.WithNames(cfg.Names.Display),
		}
		if lang := optString(cfg.Providers.STT.Options, "language"); lang != "" {
			transcribeOpts = append(transcribeOpts, transcribe.WithLanguage(lang))
		}
		transcriber, err := transcribe.New(ps.STT, transcribeOpts...)
		if err != nil {
			slog.Error("failed to build transcriber", "err", err)
			return 1
		}

		pipe, err = pipeline.New(pipeline.Config{
			Detector:    detector,
			Transcriber: transcriber,
			Extractor:   buildExtractionChain(ps, logger, metrics, callTimeout),
			Store:       store,
			SessionID:   sessionID,
			Log:         sessionLog,
			Publisher:   publisher,
			Timeout:     callTimeout,
			Metrics:     metrics,
			Logger:      logger,
		})
		if err != nil {
			slog.Error("failed to build pipeline", "err", err)
			return 1
		}
		if err := pipe.Start(ctx); err != nil {
			slog.Error("failed to start pipeline", "err", err)
			return 1
		}
		slog.Info("live session open", "session_id", sessionID)
	} else {
		slog.Info("no STT provider configured; running in query-only mode")
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv, err := server.New(server.Config{
		Pipeline:    pipe,
		Retriever:   retriever,
		Store:       store,
		Log:         sessionLog,
		Hub:         hub,
		ImageAPIURL: cfg.Server.ImageAPIURL,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		slog.Error("failed to build server", "err", err)
		return 1
	}

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8000"
	}
	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config watcher (hot log level) ────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.NamesChanged {
			slog.Warn("names changed in config; the new spellings apply from the next session")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg, listenAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		slog.Error("http server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if pipe != nil {
		pipe.Stop()
	}
	if announcer != nil {
		announcer.Close()
	}
	if discordSession != nil {
		if err := discordSession.Close(); err != nil {
			slog.Warn("discord close error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providers holds the instantiated pipeline providers.
type providers struct {
	VAD        vad.Engine
	STT        stt.Provider
	Structured llm.Provider
	TextGen    llm.Provider
	Answerer   llm.Provider
	Embeddings embeddings.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return &energy.Engine{}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if threads := optInt(entry.Options, "threads"); threads > 0 {
			opts = append(opts, whisper.WithThreads(threads))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterLLM("llamacpp", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewLlamaCpp(entry.Model, opts...)
	})

	// anyllm routes to whichever backend the "provider" option names.
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		backend := optString(entry.Options, "provider")
		if backend == "" {
			return nil, fmt.Errorf("anyllm provider requires options.provider")
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(backend, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := cfg.Archive.EmbeddingDimensions; dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := createOrSkip(name, "vad", func() (vad.Engine, error) { return reg.CreateVAD(cfg.Providers.VAD) })
		if err != nil {
			return nil, err
		}
		ps.VAD = p
	}
	if name := cfg.Providers.STT.Name; name != "" {
		p, err := createOrSkip(name, "stt", func() (stt.Provider, error) { return reg.CreateSTT(cfg.Providers.STT) })
		if err != nil {
			return nil, err
		}
		ps.STT = p
	}
	if name := cfg.Providers.Structured.Name; name != "" {
		p, err := createOrSkip(name, "structured llm", func() (llm.Provider, error) { return reg.CreateLLM(cfg.Providers.Structured) })
		if err != nil {
			return nil, err
		}
		ps.Structured = p
	}
	if name := cfg.Providers.TextGen.Name; name != "" {
		p, err := createOrSkip(name, "textgen llm", func() (llm.Provider, error) { return reg.CreateLLM(cfg.Providers.TextGen) })
		if err != nil {
			return nil, err
		}
		ps.TextGen = p
	}
	if name := cfg.Providers.Answerer.Name; name != "" {
		p, err := createOrSkip(name, "answerer llm", func() (llm.Provider, error) { return reg.CreateLLM(cfg.Providers.Answerer) })
		if err != nil {
			return nil, err
		}
		ps.Answerer = p
	}
	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := createOrSkip(name, "embeddings", func() (embeddings.Provider, error) { return reg.CreateEmbeddings(cfg.Providers.Embeddings) })
		if err != nil {
			return nil, err
		}
		ps.Embeddings = p
	}

	return ps, nil
}

// createOrSkip builds a provider, treating an unregistered name as a skip
// rather than a fatal error so configs can name providers this build does
// not ship.
func createOrSkip[T any](name, kind string, create func() (T, error)) (T, error) {
	p, err := create()
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("provider not available in this build — skipping", "kind", kind, "name", name)
		var zero T
		return zero, nil
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, name, err)
	}
	slog.Info("provider created", "kind", kind, "name", name)
	return p, nil
}

// buildExtractionChain assembles the tiered extraction chain from whichever
// models are configured. The rule tier is always last so extraction can
// never fail outright, and every model tier is bounded by timeout so a hung
// backend degrades instead of stalling the pipeline.
func buildExtractionChain(ps *providers, logger *slog.Logger, metrics *observe.Metrics, timeout time.Duration) *extract.Chain {
	var tiers []extract.Extractor
	if ps.Structured != nil {
		tiers = append(tiers, extract.NewStructured(ps.Structured))
	}
	if ps.TextGen != nil {
		tiers = append(tiers, extract.NewTextGen(ps.TextGen))
	}
	tiers = append(tiers, extract.NewRules())
	return extract.NewChain(tiers,
		extract.WithLogger(logger),
		extract.WithMetrics(metrics),
		extract.WithTimeout(timeout))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, listenAddr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Chronicler — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Structured", cfg.Providers.Structured.Name, cfg.Providers.Structured.Model)
	printProvider("TextGen", cfg.Providers.TextGen.Name, cfg.Providers.TextGen.Model)
	printProvider("Answerer", cfg.Providers.Answerer.Name, cfg.Providers.Answerer.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Discord.Token != "" {
		fmt.Printf("║  Discord       : %-21s ║\n", "connected")
	} else {
		fmt.Printf("║  Discord       : %-21s ║\n", "(disabled)")
	}
	if cfg.Server.ImageAPIURL != "" {
		fmt.Printf("║  Images        : %-21s ║\n", "enabled")
	} else {
		fmt.Printf("║  Images        : %-21s ║\n", "(disabled)")
	}
	fmt.Printf("║  Listen addr   : %-21s ║\n", listenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 21 {
		value = value[:18] + "…"
	}
	fmt.Printf("║  %-12s  : %-21s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := &slog.LevelVar{}
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// bare numbers as int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}
