// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrix connects the relay to a Matrix homeserver as a regular
// client account using the sync API.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/relaybridge/pkg/platform"
	"github.com/aiku/relaybridge/pkg/relay"
	"github.com/aiku/relaybridge/pkg/transform"
)

// Platform is the platform name used in endpoint configs.
const Platform = transform.PlatformMatrix

// syncRetryDelay is the pause before restarting a failed sync loop.
const syncRetryDelay = 10 * time.Second

// Client is one logged in Matrix account.
type Client struct {
	cfg        Config
	client     *mautrix.Client
	fetcher    transform.Fetcher
	homeserver string

	userID id.UserID

	sink atomic.Pointer[sinkBox]
	seen *exsync.RingBuffer[string, struct{}]
	ctx  context.Context

	stopOnce sync.Once
	cancel   context.CancelFunc
	log      zerolog.Logger
}

type sinkBox struct{ relay.EventSink }

var _ platform.Client = (*Client)(nil)

// New creates a client. Call Login before using it.
func New(cfg Config, fetcher transform.Fetcher, log zerolog.Logger) (*Client, error) {
	homeserver := strings.TrimRight(cfg.Homeserver, "/")
	client, err := mautrix.NewClient(homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	log = log.With().Str("component", "matrix").Logger()
	client.Log = log.With().Str("subcomponent", "mautrix").Logger()
	return &Client{
		cfg:        cfg,
		client:     client,
		fetcher:    fetcher,
		homeserver: homeserver,
		userID:     id.UserID(cfg.UserID),
		seen:       exsync.NewRingBuffer[string, struct{}](platform.DedupSize),
		ctx:        context.Background(),
		log:        log,
	}, nil
}

func (c *Client) Platform() string { return Platform }
func (c *Client) SelfID() string   { return string(c.userID) }

func (c *Client) Capabilities() relay.Capabilities {
	return relay.Capabilities{}
}

// Login verifies the access token and learns the account's user id.
func (c *Client) Login(ctx context.Context) error {
	resp, err := c.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify Matrix session: %w", err)
	}
	if c.cfg.UserID != "" && resp.UserID != id.UserID(c.cfg.UserID) {
		return fmt.Errorf("access token belongs to %s, not %s", resp.UserID, c.cfg.UserID)
	}
	c.userID = resp.UserID
	c.client.UserID = resp.UserID
	c.log = c.log.With().Str("self_id", string(resp.UserID)).Logger()
	c.log.Info().Msg("Authenticated")
	return nil
}

// Start registers the event handlers and runs the sync loop until Stop.
// Events from before the first sync are skipped.
func (c *Client) Start(ctx context.Context, sink relay.EventSink) error {
	syncer, ok := c.client.Syncer.(mautrix.ExtensibleSyncer)
	if !ok {
		return errors.New("matrix client syncer does not accept handlers")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.ctx = ctx
	c.sink.Store(&sinkBox{sink})
	syncer.OnSync(c.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, c.handleEvent)
	syncer.OnEventType(event.EventSticker, c.handleEvent)
	go c.syncLoop(ctx)
	return nil
}

// Stop ends the sync loop.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.client.StopSync()
	})
}

func (c *Client) syncLoop(ctx context.Context) {
	for {
		err := c.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return
		}
		c.log.Err(err).Dur("retry_in", syncRetryDelay).Msg("Sync stopped, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(syncRetryDelay):
		}
	}
}

func (c *Client) emit(ctx context.Context, evt *relay.Event) {
	box := c.sink.Load()
	if box == nil {
		c.log.Debug().Str("event_id", evt.MessageID).Msg("Dropping event received before start")
		return
	}
	box.HandleEvent(ctx, evt)
}

// mediaURL converts an mxc:// URI to a download URL on the homeserver.
func (c *Client) mediaURL(uri id.ContentURIString) string {
	parsed, err := uri.Parse()
	if err != nil || parsed.IsEmpty() {
		return ""
	}
	return c.homeserver + "/_matrix/media/v3/download/" + parsed.Homeserver + "/" + parsed.FileID
}
