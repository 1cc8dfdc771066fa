// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"time"

	"github.com/aiku/relaybridge/pkg/correlation"
	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/transform"
)

// BotID returns the "platform:selfId" identifier used in correlation
// records.
func BotID(platform, selfID string) string {
	return platform + ":" + selfID
}

// Author identifies who wrote an inbound message.
type Author struct {
	ID     string
	Name   string
	Avatar string
	IsBot  bool
}

// DisplayName returns the name, falling back to the id.
func (a Author) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Quote references the message an inbound message replies to.
type Quote struct {
	MessageID   string
	AuthorID    string
	AuthorIsBot bool
}

// Event is one inbound message as delivered by a platform client.
type Event struct {
	Platform  string
	SelfID    string
	ChannelID string
	MessageID string
	Author    Author
	Elements  []element.Element
	Quote     *Quote
	// Session resolves content referenced by Elements. It may be nil.
	Session transform.Session
	Time    time.Time
}

// Bot returns the "platform:selfId" identifier of the receiving bot.
func (e *Event) Bot() string {
	return BotID(e.Platform, e.SelfID)
}

// Capabilities describe optional behavior of a Bot.
type Capabilities struct {
	// NativeAuthor means the bot renders element.Author nodes as a real
	// author (username and avatar) instead of needing a text prefix.
	NativeAuthor bool
}

// Bot sends messages to one platform under one identity.
type Bot interface {
	Platform() string
	SelfID() string
	Capabilities() Capabilities
	// SendMessage delivers nodes to channelID and returns the ids of every
	// message created. A send may create several messages.
	SendMessage(ctx context.Context, channelID string, nodes []element.Element) ([]string, error)
}

// EventSink receives inbound events from platform clients.
type EventSink interface {
	HandleEvent(ctx context.Context, evt *Event)
}

// CorrelationStore is the subset of the correlation store the relay uses.
type CorrelationStore interface {
	Record(ctx context.Context, entries []correlation.Record) error
	FindByTarget(ctx context.Context, messageID, bot, channelID string) ([]correlation.Record, error)
	FindBySource(ctx context.Context, messageID, bot, channelID string) ([]correlation.Record, error)
}

var _ CorrelationStore = (*correlation.Store)(nil)
