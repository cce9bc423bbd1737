// Package announce mirrors chronicle events to a Discord channel. It owns
// the discordgo.Session lifecycle and posts one embed per event so a party
// can follow the session log from chat without opening the web UI.
package announce

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dungeonarchive/chronicler/internal/pipeline"
)

// Config holds Discord announcer configuration.
type Config struct {
	// Token is the Discord bot token (e.g., "MTIz...", without the "Bot " prefix).
	Token string `yaml:"token"`

	// ChannelID is the text channel that receives event embeds.
	ChannelID string `yaml:"channel_id"`
}

// Embed sidebar colors, one per event family.
const (
	colorWorld     = 0x2ECC71
	colorCharacter = 0x3498DB
	colorQuest     = 0xF1C40F
	colorSystem    = 0x95A5A6
)

// defaultQueueSize bounds how many events may wait on the Discord API
// before Publish starts dropping.
const defaultQueueSize = 32

// Sender posts embeds to a Discord channel. *discordgo.Session satisfies it.
type Sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Announcer forwards pipeline events to a Discord channel. Publish never
// blocks the caller: events are queued and posted by a background worker,
// and dropped with a warning when Discord cannot keep up.
type Announcer struct {
	sender    Sender
	channelID string
	logger    *slog.Logger
	queue     chan pipeline.Event
	done      chan struct{}
	closeOnce sync.Once
}

var _ pipeline.Publisher = (*Announcer)(nil)

// Option configures an Announcer.
type Option func(*Announcer)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Announcer) { a.logger = logger }
}

// WithQueueSize overrides the pending event queue capacity.
func WithQueueSize(n int) Option {
	return func(a *Announcer) {
		if n > 0 {
			a.queue = make(chan pipeline.Event, n)
		}
	}
}

// Connect opens a Discord gateway session for cfg. The returned session is
// ready to be passed to New; callers own closing it after the announcer
// stops.
func Connect(cfg Config) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("announce: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("announce: open session: %w", err)
	}
	return session, nil
}

// New creates an Announcer posting to channelID and starts its worker.
func New(sender Sender, channelID string, opts ...Option) (*Announcer, error) {
	if sender == nil {
		return nil, fmt.Errorf("announce: sender is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("announce: channel ID is required")
	}
	a := &Announcer{
		sender:    sender,
		channelID: channelID,
		logger:    slog.Default(),
		queue:     make(chan pipeline.Event, defaultQueueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.loop()
	return a, nil
}

// Publish queues an event for posting. Events are dropped when the queue
// is full so a stalled Discord API cannot back up the transcription
// pipeline.
func (a *Announcer) Publish(ev pipeline.Event) {
	select {
	case a.queue <- ev:
	default:
		a.logger.Warn("announce: queue full, dropping event", "heading", ev.Heading)
	}
}

// Close drains pending events and stops the worker.
func (a *Announcer) Close() {
	a.closeOnce.Do(func() {
		close(a.queue)
		<-a.done
	})
}

func (a *Announcer) loop() {
	defer close(a.done)
	for ev := range a.queue {
		if _, err := a.sender.ChannelMessageSendEmbed(a.channelID, buildEmbed(ev)); err != nil {
			a.logger.Warn("announce: failed to post event", "heading", ev.Heading, "err", err)
		}
	}
}

// buildEmbed renders one pipeline event as a Discord embed.
func buildEmbed(ev pipeline.Event) *discordgo.MessageEmbed {
	var fields []*discordgo.MessageEmbedField
	if ev.Location != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Location", Value: ev.Location, Inline: true})
	}
	if ev.QuestName != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Quest", Value: ev.QuestName, Inline: true})
	}
	return &discordgo.MessageEmbed{
		Title:       ev.Heading,
		Description: ev.Content,
		Color:       embedColor(ev.Heading),
		Fields:      fields,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// embedColor picks the sidebar color from the event heading family.
func embedColor(heading string) int {
	switch {
	case heading == "World State Update":
		return colorWorld
	case heading == "Quest Update":
		return colorQuest
	case len(heading) >= 9 && heading[:9] == "Character":
		return colorCharacter
	default:
		return colorSystem
	}
}
