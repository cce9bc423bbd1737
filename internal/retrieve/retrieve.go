// Package retrieve answers player questions from the chronicle archive.
//
// A question is resolved in two steps: the archive's keyword search selects
// the most relevant chunks, then an LLM condenses them into an answer. When
// no answer backend is configured or the backend fails, a deterministic
// summary of the structured records is returned instead, so /ask degrades
// the same way the extraction chain does.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dungeonarchive/chronicler/internal/observe"
	"github.com/dungeonarchive/chronicler/pkg/archive"
	"github.com/dungeonarchive/chronicler/pkg/chronicle"
	"github.com/dungeonarchive/chronicler/pkg/provider/llm"
)

// answerSystemPrompt frames the answer model as a lore keeper bound to the
// retrieved context.
const answerSystemPrompt = "You are a lore keeper for a Dungeons & Dragons table." +
	" Answer player questions using only the provided session context." +
	" If the context does not contain the answer, say you do not know." +
	" When possible, cite the character names, entities, items, and places mentioned in the context."

// noResultsAnswer is returned when the search matches nothing.
const noResultsAnswer = "I couldn't find anything about that yet."

// transcriptTrimLen caps how much raw transcript each context chunk
// contributes to the answer prompt.
const transcriptTrimLen = 480

// Result is a question's answer together with the chunks it was drawn from.
type Result struct {
	Answer  string
	Context []archive.Chunk
}

// Service resolves questions against the archive.
type Service struct {
	store    archive.Store
	answerer llm.Provider
	timeout  time.Duration
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// Option customizes a [Service].
type Option func(*Service)

// WithAnswerer sets the LLM used to phrase answers. Without one, every
// question gets the deterministic structured summary.
func WithAnswerer(provider llm.Provider) Option {
	return func(s *Service) {
		s.answerer = provider
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables search latency and answerer error recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTimeout bounds the answer backend call. A backend that exceeds it fails
// with the deadline error and the question degrades to the structured summary.
// Zero leaves the call unbounded.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// New builds a retrieval service over the given store.
func New(store archive.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("retrieve: nil store")
	}
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Answer resolves question against the archive. sessionID narrows the search
// to one session when non-empty; limit caps the retrieved context chunks.
// Only store failures surface as errors; answer-backend failures degrade to
// the structured summary.
func (s *Service) Answer(ctx context.Context, question, sessionID string, limit int) (*Result, error) {
	searchStart := time.Now()
	chunks, err := s.store.SearchChunks(ctx, question, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: search: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SearchDuration.Record(ctx, time.Since(searchStart).Seconds())
	}
	if len(chunks) == 0 {
		return &Result{Answer: noResultsAnswer, Context: []archive.Chunk{}}, nil
	}

	answer := s.askModel(ctx, question, chunks)
	if answer == "" {
		answer = fallbackAnswer(chunks)
	}
	return &Result{Answer: answer, Context: chunks}, nil
}

// askModel asks the configured answer backend, returning "" when no backend
// is set or the call fails.
func (s *Service) askModel(ctx context.Context, question string, chunks []archive.Chunk) string {
	if s.answerer == nil {
		return ""
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	resp, err := s.answerer.Complete(ctx, llm.Request{
		SystemPrompt: answerSystemPrompt,
		UserText:     contextPrompt(question, chunks),
		Temperature:  0.2,
	})
	if err != nil {
		s.logger.Warn("answer backend failed, using structured summary", "error", err)
		if s.metrics != nil {
			s.metrics.RecordProviderError(ctx, "answerer", "complete")
		}
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

// contextPrompt renders the retrieved chunks into the user message for the
// answer model: the question followed by a numbered context listing.
func contextPrompt(question string, chunks []archive.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nContext:", question)
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "\n%d. Session %s chunk #%d (%s):", i+1, chunk.SessionID, chunk.Index, chunk.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "\n   Transcript: %s", trimText(chunk.Transcript, transcriptTrimLen))
		if len(chunk.Record.CharacterEvents) > 0 {
			b.WriteString("\n   Character events:")
			for _, ev := range chunk.Record.CharacterEvents {
				fmt.Fprintf(&b, "\n    - %s: %s", ev.Character, ev.Action)
				if ev.Outcome != "" {
					fmt.Fprintf(&b, " → %s", ev.Outcome)
				}
			}
		}
		if len(chunk.Record.WorldStateUpdates) > 0 {
			b.WriteString("\n   World state updates:")
			for _, up := range chunk.Record.WorldStateUpdates {
				fmt.Fprintf(&b, "\n    - %s: %s", up.Location, up.Update)
			}
		}
		if len(chunk.Record.QuestUpdates) > 0 {
			b.WriteString("\n   Quest updates:")
			for _, q := range chunk.Record.QuestUpdates {
				fmt.Fprintf(&b, "\n    - %s: %s", q.Quest, q.Update)
			}
		}
		if len(chunk.Record.Entities) > 0 {
			b.WriteString("\n   Entities:")
			for _, ent := range chunk.Record.Entities {
				fmt.Fprintf(&b, "\n    - %s [%s]", ent.Name, ent.Kind)
				if len(ent.Aliases) > 0 {
					fmt.Fprintf(&b, " (aka %s)", strings.Join(ent.Aliases, ", "))
				}
				if ent.Description != "" {
					fmt.Fprintf(&b, ": %s", ent.Description)
				}
			}
		}
	}
	return b.String()
}

// fallbackAnswer summarizes the structured records when no model answer is
// available.
func fallbackAnswer(chunks []archive.Chunk) string {
	lines := []string{"I couldn't reach the language model, but here's what the log shows:"}
	for _, chunk := range chunks {
		var bits []string
		for _, ev := range chunk.Record.CharacterEvents {
			desc := ev.Character + " " + ev.Action
			if ev.Outcome != "" {
				desc += fmt.Sprintf(" (Outcome: %s)", ev.Outcome)
			}
			bits = append(bits, desc)
		}
		for _, up := range chunk.Record.WorldStateUpdates {
			bits = append(bits, fmt.Sprintf("World - %s: %s", up.Location, up.Update))
		}
		for _, q := range chunk.Record.QuestUpdates {
			bits = append(bits, fmt.Sprintf("Quest - %s: %s", q.Quest, q.Update))
		}
		for _, ent := range chunk.Record.Entities {
			parts := []string{ent.Name}
			if chronicle.KindIsSpecific(ent.Kind) {
				parts = append(parts, "type="+ent.Kind)
			}
			if len(ent.Aliases) > 0 {
				parts = append(parts, "aliases="+strings.Join(ent.Aliases, ", "))
			}
			if ent.Description != "" {
				parts = append(parts, ent.Description)
			}
			bits = append(bits, "Entity - "+strings.Join(parts, " | "))
		}
		if len(bits) > 0 {
			lines = append(lines, fmt.Sprintf("• Chunk #%d: %s", chunk.Index, strings.Join(bits, "; ")))
		}
	}
	if len(lines) == 1 {
		lines = append(lines, "No structured entries were captured yet.")
	}
	return strings.Join(lines, "\n")
}

// trimText collapses surrounding whitespace and caps text at limit bytes
// with an ellipsis.
func trimText(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return strings.TrimRight(text[:limit-1], " ") + "…"
}
