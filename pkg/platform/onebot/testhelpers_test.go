// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/aiku/relaybridge/pkg/relay"
)

// mockSink captures events delivered by the client.
type mockSink struct {
	mu     sync.Mutex
	events []*relay.Event
}

func (m *mockSink) HandleEvent(_ context.Context, evt *relay.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockSink) Events() []*relay.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*relay.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

// apiCall records one API request received by the fake.
type apiCall struct {
	Action string
	Params gjson.Result
}

// fakeOneBot simulates a OneBot v11 implementation's forward websocket.
// Handlers return the response data and whether the call succeeded.
type fakeOneBot struct {
	Server *httptest.Server
	Token  string

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	calls    []apiCall
	handlers map[string]func(params gjson.Result) (any, bool)
}

func newFakeOneBot() *fakeOneBot {
	f := &fakeOneBot{handlers: make(map[string]func(gjson.Result) (any, bool))}
	f.Handle("get_login_info", func(gjson.Result) (any, bool) {
		return map[string]any{"user_id": 10001, "nickname": "relaybot"}, true
	})
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

func (f *fakeOneBot) URL() string {
	return "ws" + strings.TrimPrefix(f.Server.URL, "http")
}

func (f *fakeOneBot) Close() {
	f.Server.Close()
}

func (f *fakeOneBot) Handle(action string, h func(params gjson.Result) (any, bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[action] = h
}

func (f *fakeOneBot) Calls(action string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeOneBot) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Push sends an event frame to the connected client.
func (f *fakeOneBot) Push(t *testing.T, event map[string]any) {
	t.Helper()
	if err := f.write(event); err != nil {
		t.Fatalf("push event: %v", err)
	}
}

func (f *fakeOneBot) serve(w http.ResponseWriter, r *http.Request) {
	if f.Token != "" && r.Header.Get("Authorization") != "Bearer "+f.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req := gjson.ParseBytes(data)
		action := req.Get("action").String()
		f.mu.Lock()
		f.calls = append(f.calls, apiCall{Action: action, Params: req.Get("params")})
		h := f.handlers[action]
		f.mu.Unlock()

		resp := map[string]any{"status": "failed", "retcode": 1404, "message": "unsupported", "echo": req.Get("echo").String()}
		if h != nil {
			if result, ok := h(req.Get("params")); ok {
				resp = map[string]any{"status": "ok", "retcode": 0, "data": result, "echo": req.Get("echo").String()}
			} else {
				resp["retcode"] = 100
				resp["message"] = "handler failed"
			}
		}
		_ = f.write(resp)
	}
}

// newTestClient logs a client into fake and starts it with a capturing sink.
func newTestClient(t *testing.T, fake *fakeOneBot) (*Client, *mockSink) {
	t.Helper()
	c := New(Config{URL: fake.URL(), AccessToken: fake.Token, APITimeout: 2}, nil, zerolog.Nop())
	t.Cleanup(c.Stop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login: %v", err)
	}
	sink := &mockSink{}
	if err := c.Start(ctx, sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c, sink
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func groupMessage(messageID, userID int64, message any) map[string]any {
	return map[string]any{
		"post_type":    "message",
		"message_type": "group",
		"time":         1700000000,
		"self_id":      10001,
		"message_id":   messageID,
		"group_id":     123456,
		"user_id":      userID,
		"sender":       map[string]any{"user_id": userID, "nickname": "Alice", "card": "Ali"},
		"message":      message,
	}
}
