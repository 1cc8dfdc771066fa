// Copyright 2024-2026 Aiku AI

// Package platform defines the lifecycle shared by the chat platform clients.
package platform

import (
	"context"

	"github.com/aiku/relaybridge/pkg/relay"
)

// Client is a connection to one platform under one bot identity.
//
// Login authenticates and learns the bot's own id, so SelfID is only
// meaningful after it returns. Start begins delivering inbound messages to
// sink; events that arrive earlier are discarded.
type Client interface {
	relay.Bot
	Login(ctx context.Context) error
	Start(ctx context.Context, sink relay.EventSink) error
	Stop()
}

// DedupSize is the number of recent inbound message ids each client
// remembers to drop re-deliveries.
const DedupSize = 512
