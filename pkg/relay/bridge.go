// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/relaybridge/pkg/transform"
)

type routeKey struct {
	platform  string
	selfID    string
	channelID string
}

// Bridge owns the dispatchers of every rule and routes inbound events to
// them.
type Bridge struct {
	log         zerolog.Logger
	cfg         *Config
	bots        map[string]Bot
	dispatchers []*Dispatcher
	routes      map[routeKey][]*Dispatcher

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ EventSink = (*Bridge)(nil)

// NewBridge builds one dispatcher per rule. Every endpoint used by a rule
// must have a bot in bots.
func NewBridge(cfg *Config, bots []Bot, store CorrelationStore, engine *transform.Engine, log zerolog.Logger) (*Bridge, error) {
	b := &Bridge{
		log:    log.With().Str("component", "relay").Logger(),
		cfg:    cfg,
		bots:   make(map[string]Bot, len(bots)),
		routes: make(map[routeKey][]*Dispatcher),
	}
	for _, bot := range bots {
		b.bots[BotID(bot.Platform(), bot.SelfID())] = bot
	}
	for i, rule := range cfg.Rules {
		from, err := cfg.Endpoint(rule.From)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		to, err := cfg.Endpoint(rule.To)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, ok := b.bots[from.Bot()]; !ok {
			return nil, fmt.Errorf("rule %d: %w %s for endpoint %q", i, ErrUnknownBot, from.Bot(), rule.From)
		}
		bot, ok := b.bots[to.Bot()]
		if !ok {
			return nil, fmt.Errorf("rule %d: %w %s for endpoint %q", i, ErrUnknownBot, to.Bot(), rule.To)
		}
		if dir := (transform.Direction{From: from.Platform, To: to.Platform}); !engine.Supports(dir) {
			b.log.Warn().Stringer("rule", rule).Stringer("direction", dir).
				Msg("No transform table for rule direction, messages will be empty")
		}
		d, err := NewDispatcher(rule, cfg, bot, store, engine, log)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		b.dispatchers = append(b.dispatchers, d)
		key := routeKey{from.Platform, from.SelfID, from.ChannelID}
		b.routes[key] = append(b.routes[key], d)
	}
	return b, nil
}

// Dispatchers returns the dispatchers in rule order.
func (b *Bridge) Dispatchers() []*Dispatcher {
	return b.dispatchers
}

// Channels returns the channel ids the bot identified by platform and
// selfID is a rule source for.
func (b *Bridge) Channels(platform, selfID string) []string {
	var out []string
	for key := range b.routes {
		if key.platform == platform && key.selfID == selfID {
			out = append(out, key.channelID)
		}
	}
	return out
}

// Start launches one worker per dispatcher.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	for _, d := range b.dispatchers {
		go d.Run(ctx)
	}
	b.log.Info().Int("rules", len(b.dispatchers)).Msg("Relay bridge started")
}

// Stop closes every queue and waits for the workers to drain. When ctx
// expires first, in-flight work is cancelled and ctx's error is returned.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	defer cancel()
	for _, d := range b.dispatchers {
		d.Close()
	}
	for _, d := range b.dispatchers {
		select {
		case <-d.Done():
		case <-ctx.Done():
			b.log.Warn().Msg("Relay bridge stop timed out, cancelling pending sends")
			return ctx.Err()
		}
	}
	b.log.Info().Msg("Relay bridge stopped")
	return nil
}

// HandleEvent routes evt to every dispatcher whose source endpoint matches.
func (b *Bridge) HandleEvent(ctx context.Context, evt *Event) {
	if evt == nil {
		return
	}
	ds := b.routes[routeKey{evt.Platform, evt.SelfID, evt.ChannelID}]
	if len(ds) == 0 {
		b.log.Trace().
			Str("platform", evt.Platform).
			Str("channel_id", evt.ChannelID).
			Msg("No rule for channel, ignoring event")
		return
	}
	for _, d := range ds {
		if err := d.Enqueue(evt); err != nil {
			eventsDropped.WithLabelValues(d.Rule().String()).Inc()
			level := zerolog.WarnLevel
			if errors.Is(err, ErrDispatcherClosed) {
				level = zerolog.DebugLevel
			}
			b.log.WithLevel(level).Err(err).
				Stringer("rule", d.Rule()).
				Str("message_id", evt.MessageID).
				Msg("Dropping inbound event")
		}
	}
}
