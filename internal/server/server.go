// Package server exposes the Chronicler HTTP surface: the /audio ingest
// socket, the /ws event stream, question answering, session and archive
// reads, the image generation proxy, and the operational endpoints.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dungeonarchive/chronicler/internal/health"
	"github.com/dungeonarchive/chronicler/internal/observe"
	"github.com/dungeonarchive/chronicler/internal/pipeline"
	"github.com/dungeonarchive/chronicler/internal/retrieve"
	"github.com/dungeonarchive/chronicler/internal/session"
	"github.com/dungeonarchive/chronicler/pkg/archive"
)

// Config holds the server's dependencies. Store and Retriever are required;
// Pipeline may be nil when the process runs in query-only mode, which
// disables /audio.
type Config struct {
	Pipeline  *pipeline.Pipeline
	Retriever *retrieve.Service
	Store     archive.Store
	Log       *session.Log
	Hub       *Hub

	// ImageAPIURL is the Stable Diffusion WebUI base URL for the image
	// proxy endpoints. Empty disables them.
	ImageAPIURL string

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server routes Chronicler's HTTP endpoints.
type Server struct {
	pipeline    *pipeline.Pipeline
	retriever   *retrieve.Service
	store       archive.Store
	log         *session.Log
	hub         *Hub
	imageAPIURL string
	metrics     *observe.Metrics
	logger      *slog.Logger

	audioBusy chan struct{}
	client    *http.Client
}

// New validates cfg and builds the server.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: nil store")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("server: nil retriever")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(logger, metrics)
	}
	return &Server{
		pipeline:    cfg.Pipeline,
		retriever:   cfg.Retriever,
		store:       cfg.Store,
		log:         cfg.Log,
		hub:         hub,
		imageAPIURL: cfg.ImageAPIURL,
		metrics:     metrics,
		logger:      logger,
		audioBusy:   make(chan struct{}, 1),
		client:      &http.Client{},
	}, nil
}

// Hub returns the event hub so the pipeline can publish into it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler assembles the route table wrapped in CORS and observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleEvents)
	mux.HandleFunc("GET /audio", s.handleAudio)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /session.json", s.handleSessionJSON)
	mux.HandleFunc("GET /recent", s.handleRecent)
	mux.HandleFunc("GET /entities", s.handleEntities)

	if s.imageAPIURL != "" {
		mux.HandleFunc("GET /models", s.handleModels)
		mux.HandleFunc("POST /generate-image/", s.handleGenerateImage)
	}

	h := health.New(health.Checker{Name: "archive", Check: s.pingArchive})
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return cors(observe.Middleware(s.metrics)(mux))
}

// cors allows the browser frontend to call the API from any origin,
// matching the permissive policy of the UI this backend serves.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
