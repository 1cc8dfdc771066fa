// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aiku/relaybridge/pkg/correlation"
	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/transform"
)

// Outcome describes what a dispatcher did with one event.
type Outcome string

const (
	OutcomeRelayed    Outcome = "relayed"
	OutcomeSelf       Outcome = "self"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeEmpty      Outcome = "empty"
	OutcomeSendFailed Outcome = "send_failed"
	OutcomeNoIDs      Outcome = "no_ids"
	OutcomePanic      Outcome = "panic"
)

// Dispatcher relays the events of one rule. Events are processed one at a
// time in arrival order, at most one send per configured delay.
type Dispatcher struct {
	rule   Rule
	from   *EndpointConfig
	to     *EndpointConfig
	bot    Bot
	store  CorrelationStore
	engine *transform.Engine
	cfg    *Config
	log    zerolog.Logger

	limiter *rate.Limiter
	queue   chan *Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	now func() time.Time
}

// NewDispatcher creates the dispatcher for rule. The rule's endpoints must
// exist in cfg and bot must be the destination endpoint's bot.
func NewDispatcher(rule Rule, cfg *Config, bot Bot, store CorrelationStore, engine *transform.Engine, log zerolog.Logger) (*Dispatcher, error) {
	from, err := cfg.Endpoint(rule.From)
	if err != nil {
		return nil, err
	}
	to, err := cfg.Endpoint(rule.To)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if delay := cfg.DelayDuration(); delay > 0 {
		limit = rate.Every(delay)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		rule:    rule,
		from:    from,
		to:      to,
		bot:     bot,
		store:   store,
		engine:  engine,
		cfg:     cfg,
		log:     log.With().Str("component", "relay").Stringer("rule", rule).Logger(),
		limiter: rate.NewLimiter(limit, 1),
		queue:   make(chan *Event, queueSize),
		done:    make(chan struct{}),
		now:     time.Now,
	}, nil
}

// Rule returns the rule served by the dispatcher.
func (d *Dispatcher) Rule() Rule { return d.rule }

// Enqueue hands evt to the worker without blocking.
func (d *Dispatcher) Enqueue(evt *Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		queueDepth.WithLabelValues(d.rule.String()).Set(float64(len(d.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events. Run returns once the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Run processes queued events until the queue is closed and drained or ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-d.queue:
			if !ok {
				return
			}
			queueDepth.WithLabelValues(d.rule.String()).Set(float64(len(d.queue)))
			// Filtered events never send, so they take no delay token.
			if _, skip := d.filter(evt); !skip {
				if err := d.limiter.Wait(ctx); err != nil {
					return
				}
			}
			d.Dispatch(ctx, evt)
		}
	}
}

// Dispatch relays one event synchronously. It never returns an error:
// failures are logged and reported through the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *Event) (outcome Outcome) {
	log := d.log.With().
		Str("message_id", evt.MessageID).
		Str("author_id", evt.Author.ID).
		Logger()
	ctx = log.WithContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Msg("Relay dispatch panicked")
			outcome = OutcomePanic
		}
		eventsTotal.WithLabelValues(d.rule.String(), string(outcome)).Inc()
	}()

	if outcome, skip := d.filter(evt); skip {
		log.Debug().Str("outcome", string(outcome)).Msg("Skipping message")
		return outcome
	}

	quote := d.resolveQuote(ctx, evt)
	dir := transform.Direction{From: d.from.Platform, To: d.to.Platform}
	content := d.engine.Transform(ctx, evt.Elements, dir, evt.Session)
	if len(content) == 0 {
		log.Debug().Msg("Nothing left to relay after transform")
		return OutcomeEmpty
	}
	payload := d.assemble(evt, quote, content)

	start := time.Now()
	ids, err := d.bot.SendMessage(ctx, d.to.ChannelID, payload)
	if err != nil {
		sendDuration.WithLabelValues(d.rule.String(), "error").Observe(time.Since(start).Seconds())
		log.Err(err).Str("channel_id", d.to.ChannelID).Msg("Failed to send relayed message")
		return OutcomeSendFailed
	}
	sendDuration.WithLabelValues(d.rule.String(), "ok").Observe(time.Since(start).Seconds())
	if len(ids) == 0 {
		log.Debug().Msg("Send returned no message ids, nothing to correlate")
		return OutcomeNoIDs
	}

	d.persist(ctx, evt, ids)
	log.Debug().Strs("sent_ids", ids).Msg("Relayed message")
	return OutcomeRelayed
}

// filter reports whether evt must not be relayed: it was written by the
// source bot itself or by a blocked user.
func (d *Dispatcher) filter(evt *Event) (Outcome, bool) {
	switch {
	case evt.Author.ID == d.from.SelfID:
		return OutcomeSelf, true
	case d.from.IsBlocked(evt.Author.ID):
		return OutcomeBlocked, true
	default:
		return "", false
	}
}

// resolveQuote finds the destination-side message equivalent to the one evt
// quotes. Only records produced for this rule's destination are candidates.
func (d *Dispatcher) resolveQuote(ctx context.Context, evt *Event) *element.Quote {
	q := evt.Quote
	if q == nil || q.MessageID == "" {
		return nil
	}
	log := zerolog.Ctx(ctx)
	artifact := q.AuthorID == evt.SelfID || q.AuthorIsBot

	var records []correlation.Record
	var err error
	if artifact {
		records, err = d.store.FindByTarget(ctx, q.MessageID, evt.Bot(), evt.ChannelID)
	} else {
		records, err = d.store.FindBySource(ctx, q.MessageID, evt.Bot(), evt.ChannelID)
	}
	if err != nil {
		log.Warn().Err(err).Str("quote_id", q.MessageID).Msg("Failed to look up quoted message")
		return nil
	}

	toBot := d.to.Bot()
	for _, r := range records {
		if artifact && r.FromBot == toBot && r.FromChannelID == d.to.ChannelID {
			return &element.Quote{ID: r.FromMessageID}
		}
		if !artifact && r.ToBot == toBot && r.ToChannelID == d.to.ChannelID {
			return &element.Quote{ID: r.ToMessageID}
		}
	}
	log.Debug().
		Str("quote_id", q.MessageID).
		Bool("artifact", artifact).
		Int("candidates", len(records)).
		Msg("Quoted message has no counterpart on destination")
	return nil
}

func (d *Dispatcher) assemble(evt *Event, quote *element.Quote, content []element.Element) []element.Element {
	payload := make([]element.Element, 0, len(content)+3)
	if quote != nil {
		payload = append(payload, *quote)
	}
	if d.bot.Capabilities().NativeAuthor && evt.Quote == nil {
		payload = append(payload, element.Author{
			ID:     evt.Author.ID,
			Name:   evt.Author.DisplayName(),
			Avatar: evt.Author.Avatar,
		})
	} else {
		payload = append(payload, element.NewText(d.cfg.FormatAuthor(evt.Author)), element.Break{})
	}
	return append(payload, content...)
}

func (d *Dispatcher) persist(ctx context.Context, evt *Event, ids []string) {
	now := d.now()
	records := make([]correlation.Record, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		records = append(records, correlation.Record{
			FromMessageID: evt.MessageID,
			FromBot:       d.from.Bot(),
			FromChannelID: evt.ChannelID,
			ToMessageID:   id,
			ToBot:         d.to.Bot(),
			ToChannelID:   d.to.ChannelID,
			Time:          now,
		})
	}
	if err := d.store.Record(ctx, records); err != nil {
		zerolog.Ctx(ctx).Err(err).Int("records", len(records)).Msg("Failed to record correlation")
	}
}
