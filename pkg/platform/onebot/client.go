// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package onebot connects the relay to QQ through a OneBot v11
// implementation over its forward websocket.
//
// API calls are written to the same socket that delivers events. Each
// request carries a unique echo and its response is routed back to the
// waiting caller by the read loop.
package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.mau.fi/util/exsync"

	"github.com/aiku/relaybridge/pkg/platform"
	"github.com/aiku/relaybridge/pkg/relay"
	"github.com/aiku/relaybridge/pkg/transform"
)

// Platform is the platform name used in endpoint configs.
const Platform = transform.PlatformOneBot

var (
	// ErrNotConnected is returned by API calls while the socket is down.
	ErrNotConnected = errors.New("onebot websocket not connected")
	// ErrAPIFailed is returned when the implementation answers with a
	// non-ok status.
	ErrAPIFailed = errors.New("onebot API call failed")
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	eventBuffer  = 256
)

type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

// Client is one OneBot connection, i.e. one QQ account.
type Client struct {
	cfg     Config
	fetcher transform.Fetcher
	selfID  string

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan []byte

	events chan []byte
	sink   atomic.Pointer[sinkBox]
	seen   *exsync.RingBuffer[string, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	log    zerolog.Logger
}

type sinkBox struct{ relay.EventSink }

var _ platform.Client = (*Client)(nil)

// New creates a client. Call Login before using it.
func New(cfg Config, fetcher transform.Fetcher, log zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		pending: make(map[string]chan []byte),
		events:  make(chan []byte, eventBuffer),
		seen:    exsync.NewRingBuffer[string, struct{}](platform.DedupSize),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With().Str("component", "onebot").Logger(),
	}
}

func (c *Client) Platform() string { return Platform }
func (c *Client) SelfID() string   { return c.selfID }

func (c *Client) Capabilities() relay.Capabilities {
	return relay.Capabilities{}
}

// Login connects and learns the account's QQ number.
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.URL == "" {
		return fmt.Errorf("onebot url not configured")
	}
	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to OneBot: %w", err)
	}
	go c.processEvents()

	info, err := c.callAPI(ctx, "get_login_info", nil)
	if err != nil {
		return fmt.Errorf("failed to get login info: %w", err)
	}
	selfID := info.Get("user_id").String()
	if selfID == "" || selfID == "0" {
		return fmt.Errorf("login info has no user_id: %s", info.Raw)
	}
	c.selfID = selfID
	c.log = c.log.With().Str("self_id", selfID).Logger()
	c.log.Info().Str("nickname", info.Get("nickname").String()).Msg("Authenticated")
	return nil
}

// Start delivers inbound messages to sink and keeps the socket connected.
func (c *Client) Start(_ context.Context, sink relay.EventSink) error {
	c.sink.Store(&sinkBox{sink})
	if interval := c.cfg.reconnectInterval(); interval > 0 {
		go c.reconnectLoop(interval)
	}
	return nil
}

// Stop closes the socket and fails pending API calls.
func (c *Client) Stop() {
	c.once.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	})
}

func (c *Client) connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.listen(conn)
	go c.pinger(conn)
	c.log.Info().Str("url", c.cfg.URL).Msg("WebSocket connected")
	return nil
}

func (c *Client) pinger(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Msg("Ping failed, stopping pinger")
				return
			}
		}
	}
}

func (c *Client) reconnectLoop(interval time.Duration) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(interval):
		}
		c.mu.Lock()
		connected := c.conn != nil
		c.mu.Unlock()
		if connected {
			continue
		}
		c.log.Info().Msg("Attempting to reconnect")
		if err := c.connect(c.ctx); err != nil {
			c.log.Error().Err(err).Msg("Reconnect failed")
		}
	}
}

// listen reads frames until the socket fails. Responses are routed to
// their waiting callers and events are queued for processEvents.
func (c *Client) listen(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.log.Error().Err(err).Msg("WebSocket read error")
			}
			c.mu.Lock()
			if c.conn == conn {
				_ = conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if !gjson.ValidBytes(data) {
			c.log.Warn().Int("length", len(data)).Msg("Dropping malformed frame")
			continue
		}
		if echo := gjson.GetBytes(data, "echo"); echo.Exists() && echo.String() != "" {
			c.resolve(echo.String(), data)
			continue
		}
		select {
		case c.events <- data:
		default:
			c.log.Warn().Msg("Event queue full, dropping event")
		}
	}
}

func (c *Client) resolve(echo string, data []byte) {
	c.pendingMu.Lock()
	ch, ok := c.pending[echo]
	c.pendingMu.Unlock()
	if !ok {
		c.log.Debug().Str("echo", echo).Msg("Received API response with no waiter")
		return
	}
	select {
	case ch <- data:
	default:
	}
}

func (c *Client) processEvents() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.events:
			c.handleFrame(gjson.ParseBytes(data))
		}
	}
}

// callAPI performs one API action and returns the response's data field.
func (c *Client) callAPI(ctx context.Context, action string, params any) (gjson.Result, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return gjson.Result{}, ErrNotConnected
	}

	echo := uuid.NewString()
	ch := make(chan []byte, 1)
	c.pendingMu.Lock()
	c.pending[echo] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(apiRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to marshal %s request: %w", action, err)
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to write %s request: %w", action, err)
	}

	timer := time.NewTimer(c.cfg.apiTimeout())
	defer timer.Stop()
	select {
	case data := <-ch:
		resp := gjson.ParseBytes(data)
		if status := resp.Get("status").String(); status != "ok" {
			return gjson.Result{}, fmt.Errorf("%w: %s returned %s (retcode %d): %s",
				ErrAPIFailed, action, status, resp.Get("retcode").Int(), resp.Get("message").String())
		}
		return resp.Get("data"), nil
	case <-timer.C:
		return gjson.Result{}, fmt.Errorf("%s timed out after %s", action, c.cfg.apiTimeout())
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	case <-c.ctx.Done():
		return gjson.Result{}, ErrNotConnected
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
