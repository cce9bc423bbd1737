// Package extract turns a normalized transcript chunk into a structured
// [chronicle.Record] through a degrading chain of extractors.
//
// The chain tries its tiers strictly in order and returns the first output
// that parses into the four-key record schema. The terminal tier is expected
// to be the deterministic [Rules] extractor, which cannot fail, so the chain
// as a whole never surfaces an error to the caller.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dungeonarchive/chronicler/internal/observe"
	"github.com/dungeonarchive/chronicler/pkg/chronicle"
)

// SystemPrompt is the fixed instruction handed to every LLM-backed tier.
// It pins the exact response schema so tier output can be decoded without
// per-model prompt tuning.
const SystemPrompt = `You are a meticulous Dungeon Master's Assistant. Return ONLY valid JSON that matches:

{
  "world_state_updates": [ { "location": "...", "update": "..." } ],
  "character_events":    [ { "character": "...", "action": "...", "outcome": "..." } ],
  "quest_updates":       [ { "quest": "...", "update": "..." } ],
  "entities":            [ { "name": "...", "kind": "...", "description": "...", "aliases": ["..."] } ]
}

Rules:
- Be concise and factual; do not invent.
- Keep numbers as digits; use 'and' not '&'.
- For entities, choose specific kinds like "player", "npc", "creature", or "item" when the context makes it clear.
- List aliases as strings without duplication; if none, return an empty list.
- If a field is unknown, use a short label like "Unknown" or leave outcome "".
- If no items for a section, return [] for that list.
Return ONLY the JSON object.`

// Extractor converts one chunk of transcript text into a structured record.
type Extractor interface {
	// Name is a short stable label for the tier, used in logs and metrics.
	Name() string

	// Extract returns the structured record for text, or an error when the
	// backing mechanism is unavailable or produced output that does not
	// parse into the record schema.
	Extract(ctx context.Context, text string) (*chronicle.Record, error)
}

// Chain runs extractors in order and keeps the first successful result.
type Chain struct {
	tiers   []Extractor
	timeout time.Duration
	logger  *slog.Logger
	metrics *observe.Metrics
}

// ChainOption customizes a [Chain].
type ChainOption func(*Chain)

// WithLogger sets the logger used to report tier failures.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithMetrics enables per-tier latency and usage recording.
func WithMetrics(m *observe.Metrics) ChainOption {
	return func(c *Chain) {
		c.metrics = m
	}
}

// WithTimeout bounds each tier's call. A tier that exceeds it fails with the
// deadline error and the chain degrades to the next tier instead of hanging.
// Zero leaves tier calls unbounded.
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.timeout = d
	}
}

// NewChain builds a chain over the given tiers. Tiers are consulted in the
// order given; put the cheapest infallible extractor last.
func NewChain(tiers []Extractor, opts ...ChainOption) *Chain {
	c := &Chain{
		tiers:  tiers,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract runs the tiers in order and returns the first schema-valid record.
// Tier failures are logged and swallowed. When every tier fails, which can
// only happen with a misconfigured chain that lacks a terminal fallback, an
// empty record is returned so callers always receive the full four-key shape.
func (c *Chain) Extract(ctx context.Context, text string) *chronicle.Record {
	for _, tier := range c.tiers {
		start := time.Now()
		tierCtx, cancel := c.tierContext(ctx)
		rec, err := tier.Extract(tierCtx, text)
		cancel()
		if err != nil {
			c.logger.Warn("extraction tier failed, degrading",
				"tier", tier.Name(),
				"error", err)
			continue
		}
		if c.metrics != nil {
			attrs := metric.WithAttributes(attribute.String("tier", tier.Name()))
			c.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds(), attrs)
			c.metrics.ExtractionTierUsed.Add(ctx, 1, attrs)
		}
		return rec.Normalize()
	}
	c.logger.Error("all extraction tiers failed, emitting empty record")
	return (&chronicle.Record{}).Normalize()
}

// tierContext derives the deadline context for one tier call.
func (c *Chain) tierContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// decodeRecord parses a JSON object into a record. Missing keys are filled
// with empty lists rather than rejected; malformed JSON or mismatched field
// types are errors.
func decodeRecord(raw string) (*chronicle.Record, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("extract: empty response")
	}
	var rec chronicle.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("extract: decode record: %w", err)
	}
	return rec.Normalize(), nil
}
