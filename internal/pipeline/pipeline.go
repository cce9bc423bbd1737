// Package pipeline wires the live transcription path for one session: raw
// PCM bytes are framed, segmented into utterances by the endpoint detector,
// transcribed, run through the extraction chain, and persisted to the
// archive, with UI events fanned out along the way.
//
// Audio ingestion and chunk processing are decoupled by a buffered queue so
// a slow transcription or extraction call never stalls the socket reading
// audio. A single worker drains the queue, which keeps chunk indexes in
// arrival order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dungeonarchive/chronicler/internal/endpoint"
	"github.com/dungeonarchive/chronicler/internal/extract"
	"github.com/dungeonarchive/chronicler/internal/observe"
	"github.com/dungeonarchive/chronicler/internal/session"
	"github.com/dungeonarchive/chronicler/internal/transcribe"
	"github.com/dungeonarchive/chronicler/pkg/archive"
	"github.com/dungeonarchive/chronicler/pkg/audio"
	"github.com/dungeonarchive/chronicler/pkg/chronicle"
)

// defaultQueueSize bounds how many finalized utterances may wait for the
// worker before audio ingestion blocks.
const defaultQueueSize = 8

// Event is one UI notification derived from a stored chunk.
type Event struct {
	Heading   string `json:"heading"`
	Content   string `json:"content"`
	Location  string `json:"location,omitempty"`
	QuestName string `json:"quest_name,omitempty"`
}

// Publisher receives events for fan-out to connected clients.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to the [Publisher] interface.
type PublisherFunc func(ev Event)

// Publish implements [Publisher].
func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Config holds the pipeline's dependencies. Detector, Transcriber, Extractor
// and Store are required.
type Config struct {
	Detector    *endpoint.Detector
	Transcriber *transcribe.Transcriber
	Extractor   *extract.Chain
	Store       archive.Store

	// SessionID identifies the session all chunks are appended to.
	SessionID string

	// Log optionally mirrors every record to the on-disk session log.
	Log *session.Log

	// Publisher optionally receives UI events for every stored chunk.
	Publisher Publisher

	// QueueSize overrides the utterance queue depth.
	QueueSize int

	// Timeout bounds each transcription and storage call so a hung backend
	// cannot stall the worker and back the queue up. Zero means no bound.
	Timeout time.Duration

	// Metrics optionally records per-stage latency and throughput.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// Pipeline runs the ingest-to-archive path for one session.
type Pipeline struct {
	detector    *endpoint.Detector
	transcriber *transcribe.Transcriber
	extractor   *extract.Chain
	store       archive.Store
	sessionID   string
	log         *session.Log
	publisher   Publisher
	timeout     time.Duration
	metrics     *observe.Metrics
	logger      *slog.Logger

	framer *audio.Framer
	queue  chan []int16

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// New validates cfg and builds a pipeline. The session row is created on
// [Pipeline.Start].
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Detector == nil:
		return nil, fmt.Errorf("pipeline: nil detector")
	case cfg.Transcriber == nil:
		return nil, fmt.Errorf("pipeline: nil transcriber")
	case cfg.Extractor == nil:
		return nil, fmt.Errorf("pipeline: nil extractor")
	case cfg.Store == nil:
		return nil, fmt.Errorf("pipeline: nil store")
	case cfg.SessionID == "":
		return nil, fmt.Errorf("pipeline: empty session id")
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		detector:    cfg.Detector,
		transcriber: cfg.Transcriber,
		extractor:   cfg.Extractor,
		store:       cfg.Store,
		sessionID:   cfg.SessionID,
		log:         cfg.Log,
		publisher:   cfg.Publisher,
		timeout:     cfg.Timeout,
		metrics:     cfg.Metrics,
		logger:      logger,
		framer:      &audio.Framer{},
		queue:       make(chan []int16, size),
	}, nil
}

// Start creates the session row and launches the chunk worker. The worker
// runs until [Pipeline.Stop] closes the queue; ctx bounds the individual
// transcription, extraction, and storage calls.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pipeline: already started")
	}
	if err := p.store.EnsureSession(ctx, p.sessionID, time.Now()); err != nil {
		return fmt.Errorf("pipeline: ensure session: %w", err)
	}
	p.started = true
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		for utt := range p.queue {
			p.handle(ctx, utt)
		}
	}()
	return nil
}

// PushAudio ingests raw little-endian 16-bit PCM. It is the hot path: the
// only work done inline is framing and VAD; finalized utterances are handed
// to the worker queue. Blocks when the queue is full.
func (p *Pipeline) PushAudio(data []byte) error {
	for _, frame := range p.framer.Push(data) {
		utts, err := p.detector.Process(frame)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		for _, utt := range utts {
			if p.metrics != nil {
				p.metrics.UtterancesDetected.Add(context.Background(), 1)
			}
			p.queue <- utt
		}
	}
	return nil
}

// Stop finalizes any in-progress utterance, waits for the worker to drain
// the queue, and releases the detector. The pipeline cannot be restarted.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false

	if utt := p.detector.Flush(); utt != nil {
		p.queue <- utt
	}
	close(p.queue)
	<-p.done
	if err := p.detector.Close(); err != nil {
		p.logger.Warn("detector close failed", "error", err)
	}
}

// handle processes one finalized utterance end to end. Failures are logged
// and never propagate: a lost chunk must not take the session down.
func (p *Pipeline) handle(ctx context.Context, samples []int16) {
	sttStart := time.Now()
	sttCtx, cancel := p.bound(ctx)
	transcript, err := p.transcriber.Transcribe(sttCtx, samples)
	cancel()
	if err != nil {
		p.logger.Warn("transcription failed, dropping utterance",
			"samples", len(samples), "error", err)
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, "stt", "transcribe")
		}
		return
	}
	if p.metrics != nil {
		p.metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	}
	if transcript == "" {
		return
	}
	p.logger.Info("transcript", "session_id", p.sessionID, "text", transcript)

	rec := p.extractor.Extract(ctx, transcript)

	if p.log != nil {
		if err := p.log.Append(*rec); err != nil {
			p.logger.Warn("session log append failed", "error", err)
		}
	}

	storeStart := time.Now()
	storeCtx, cancel := p.bound(ctx)
	defer cancel()
	if _, err := p.store.StoreChunk(storeCtx, p.sessionID, transcript, *rec); err != nil {
		// The transcript stays in the structured log line so a failed
		// write can be replayed later.
		p.logger.Error("chunk persistence failed",
			"session_id", p.sessionID,
			"transcript", transcript,
			"error", err)
	} else if p.metrics != nil {
		p.metrics.StoreDuration.Record(ctx, time.Since(storeStart).Seconds())
		p.metrics.ChunksStored.Add(ctx, 1)
	}

	p.broadcast(rec)
}

// bound derives a deadline context when a call timeout is configured. The
// extraction chain carries its own per-tier timeout, so only transcription
// and storage go through here.
func (p *Pipeline) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// broadcast maps one record onto UI events, mirroring the structure the
// frontend renders: world updates carry their location, character actions
// and outcomes are separate cards, quest updates carry the quest name.
func (p *Pipeline) broadcast(rec *chronicle.Record) {
	if p.publisher == nil {
		return
	}
	for _, up := range rec.WorldStateUpdates {
		if up.Update == "" {
			continue
		}
		p.publisher.Publish(Event{
			Heading:  "World State Update",
			Content:  up.Update,
			Location: up.Location,
		})
	}
	for _, ev := range rec.CharacterEvents {
		who := ev.Character
		if who == "" {
			who = "Unknown"
		}
		if ev.Action != "" {
			p.publisher.Publish(Event{Heading: "Character Action: " + who, Content: ev.Action})
		}
		if ev.Outcome != "" {
			p.publisher.Publish(Event{Heading: "Character Outcome: " + who, Content: ev.Outcome})
		}
	}
	for _, q := range rec.QuestUpdates {
		if q.Update == "" {
			continue
		}
		quest := q.Quest
		if quest == "" {
			quest = "Quest"
		}
		p.publisher.Publish(Event{Heading: "Quest Update", Content: q.Update, QuestName: quest})
	}
}
