// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermost connects the relay to a Mattermost server through the
// REST API and the websocket event stream.
package mattermost

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/relaybridge/pkg/platform"
	"github.com/aiku/relaybridge/pkg/relay"
	"github.com/aiku/relaybridge/pkg/transform"
)

// Platform is the platform name used in endpoint configs.
const Platform = transform.PlatformMattermost

// maxPostLength is the server's default post size limit in runes.
const maxPostLength = 16383

// maxFilesPerPost is the number of attachments the server accepts per post.
const maxFilesPerPost = 5

// Client is one authenticated Mattermost bot connection.
type Client struct {
	cfg      Config
	client   *model.Client4
	wsClient *model.WebSocketClient
	fetcher  transform.Fetcher

	userID    string
	username  string
	serverURL string

	sink atomic.Pointer[sinkBox]
	seen *exsync.RingBuffer[string, struct{}]
	ctx  context.Context

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

type sinkBox struct{ relay.EventSink }

var _ platform.Client = (*Client)(nil)

// New creates a client. Call Login before using it.
func New(cfg Config, fetcher transform.Fetcher, log zerolog.Logger) *Client {
	serverURL := strings.TrimRight(cfg.ServerURL, "/")
	client := model.NewAPIv4Client(serverURL)
	client.SetToken(cfg.Token)
	return &Client{
		cfg:       cfg,
		client:    client,
		fetcher:   fetcher,
		serverURL: serverURL,
		seen:      exsync.NewRingBuffer[string, struct{}](platform.DedupSize),
		ctx:       context.Background(),
		stopChan:  make(chan struct{}),
		log:       log.With().Str("component", "mattermost").Logger(),
	}
}

func (m *Client) Platform() string { return Platform }
func (m *Client) SelfID() string   { return m.userID }

func (m *Client) Capabilities() relay.Capabilities {
	return relay.Capabilities{NativeAuthor: m.cfg.OverrideUsername}
}

// Login verifies the token and learns the bot's user id.
func (m *Client) Login(ctx context.Context) error {
	me, _, err := m.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	m.userID = me.Id
	m.username = me.Username
	m.log = m.log.With().Str("self_id", me.Id).Logger()
	m.log.Info().Str("username", me.Username).Msg("Authenticated")
	return nil
}

// Start opens the websocket and delivers posted messages to sink.
func (m *Client) Start(ctx context.Context, sink relay.EventSink) error {
	m.ctx = ctx
	m.sink.Store(&sinkBox{sink})
	if err := m.connectWebSocket(); err != nil {
		return err
	}
	return nil
}

// Stop closes the websocket and stops the event loop.
func (m *Client) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	if m.wsClient != nil {
		m.wsClient.Close()
	}
}

func (m *Client) connectWebSocket() error {
	wsURL := httpToWS(m.serverURL)
	ws, err := model.NewWebSocketClient4(wsURL, m.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	m.wsClient = ws
	ws.Listen()

	go m.listenWebSocket(ws)

	m.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (m *Client) listenWebSocket(ws *model.WebSocketClient) {
	for {
		select {
		case <-m.stopChan:
			return
		case evt, ok := <-ws.EventChannel:
			if !ok {
				m.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				m.handleWebSocketDisconnect()
				return
			}
			if evt == nil {
				continue
			}
			m.handleEvent(m.ctx, evt)
		}
	}
}

func (m *Client) handleWebSocketDisconnect() {
	select {
	case <-m.stopChan:
		return
	default:
	}
	if err := m.connectWebSocket(); err != nil {
		m.log.Error().Err(err).Msg("Failed to reconnect WebSocket")
	}
}

func (m *Client) emit(ctx context.Context, evt *relay.Event) {
	box := m.sink.Load()
	if box == nil {
		m.log.Debug().Str("post_id", evt.MessageID).Msg("Dropping post received before start")
		return
	}
	box.HandleEvent(ctx, evt)
}
