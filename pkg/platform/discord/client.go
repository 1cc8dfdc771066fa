// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package discord connects the relay to Discord through the gateway and
// REST API.
package discord

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/relaybridge/pkg/platform"
	"github.com/aiku/relaybridge/pkg/relay"
	"github.com/aiku/relaybridge/pkg/transform"
)

// Platform is the platform name used in endpoint configs.
const Platform = transform.PlatformDiscord

// Client is one Discord bot connection.
type Client struct {
	cfg     Config
	session *discordgo.Session
	fetcher transform.Fetcher
	selfID  string

	sink atomic.Pointer[sinkBox]
	seen *exsync.RingBuffer[string, struct{}]
	ctx  context.Context

	webhooksMu sync.Mutex
	webhooks   map[string]*discordgo.Webhook
	ownHooks   sync.Map

	log zerolog.Logger
}

type sinkBox struct{ relay.EventSink }

var _ platform.Client = (*Client)(nil)

// New creates a client. Call Login before using it.
func New(cfg Config, fetcher transform.Fetcher, log zerolog.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Client{
		cfg:      cfg,
		session:  session,
		fetcher:  fetcher,
		seen:     exsync.NewRingBuffer[string, struct{}](platform.DedupSize),
		ctx:      context.Background(),
		webhooks: make(map[string]*discordgo.Webhook),
		log:      log.With().Str("component", "discord").Logger(),
	}, nil
}

func (c *Client) Platform() string { return Platform }
func (c *Client) SelfID() string   { return c.selfID }

func (c *Client) Capabilities() relay.Capabilities {
	return relay.Capabilities{NativeAuthor: c.cfg.Webhook}
}

// Login verifies the token and learns the bot's user id.
func (c *Client) Login(ctx context.Context) error {
	me, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	c.selfID = me.ID
	c.log = c.log.With().Str("self_id", me.ID).Logger()
	c.log.Info().Str("username", me.Username).Msg("Authenticated")
	return nil
}

// Start opens the gateway and delivers created messages to sink.
func (c *Client) Start(ctx context.Context, sink relay.EventSink) error {
	c.ctx = ctx
	c.sink.Store(&sinkBox{sink})
	c.session.AddHandler(c.onMessageCreate)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.log.Info().Msg("Gateway connected")
	return nil
}

// Stop closes the gateway connection.
func (c *Client) Stop() {
	if err := c.session.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to close discord session")
	}
}

func (c *Client) emit(evt *relay.Event) {
	box := c.sink.Load()
	if box == nil {
		c.log.Debug().Str("message_id", evt.MessageID).Msg("Dropping message received before start")
		return
	}
	box.HandleEvent(c.ctx, evt)
}
