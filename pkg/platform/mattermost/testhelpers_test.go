// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

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

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu      sync.Mutex
	calls   []endpointCall
	created []*model.Post

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// Files maps file ID to model.FileInfo.
	Files map[string]*model.FileInfo
	// FileData maps file ID to its content.
	FileData map[string][]byte
	// Posts maps post ID to model.Post for GetPost.
	Posts map[string]*model.Post
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		Channels:      make(map[string]*model.Channel),
		Files:         make(map[string]*model.FileInfo),
		FileData:      make(map[string][]byte),
		Posts:         make(map[string]*model.Post),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(r *http.Request, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) Created() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]*model.Post, len(f.created))
	copy(cp, f.created)
	return cp
}

func (f *fakeMM) CalledPath(method, path string) bool {
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && !strings.Contains(path[len("/api/v4/users/"):], "/"):
		uid := path[len("/api/v4/users/"):]
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/channels/{channel_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/channels/") && !strings.Contains(path[len("/api/v4/channels/"):], "/"):
		chID := path[len("/api/v4/channels/"):]
		if ch, ok := f.Channels[chID]; ok {
			_ = json.NewEncoder(w).Encode(ch)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/files/{file_id}/info
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/files/") && strings.HasSuffix(path, "/info"):
		fileID := strings.TrimSuffix(path[len("/api/v4/files/"):], "/info")
		if fi, ok := f.Files[fileID]; ok {
			_ = json.NewEncoder(w).Encode(fi)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/files/{file_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/files/"):
		fileID := path[len("/api/v4/files/"):]
		if data, ok := f.FileData[fileID]; ok {
			_, _ = w.Write(data)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/posts/{post_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/posts/"):
		postID := path[len("/api/v4/posts/"):]
		if p, ok := f.Posts[postID]; ok {
			_ = json.NewEncoder(w).Encode(p)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "post not found"})

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		f.mu.Lock()
		f.created = append(f.created, &post)
		post.Id = "created-post-" + strconv.Itoa(len(f.created))
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(&post)

	// POST /api/v4/files (upload)
	case r.Method == "POST" && path == "/api/v4/files":
		_ = json.NewEncoder(w).Encode(&model.FileUploadResponse{
			FileInfos: []*model.FileInfo{{Id: "uploaded-file-id", Name: r.URL.Query().Get("filename")}},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEvent wraps post in a posted websocket event.
func postedEvent(post *model.Post, senderName string) *model.WebSocketEvent {
	raw, _ := json.Marshal(post)
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":        string(raw),
		"sender_name": senderName,
	})
}

// newTestClient creates a Client pointed at a fake server. The client is
// considered logged in as my-user-id.
func newTestClient(serverURL string, cfg Config) *Client {
	cfg.ServerURL = serverURL
	if cfg.Token == "" {
		cfg.Token = "test-token"
	}
	c := New(cfg, nil, zerolog.Nop())
	c.userID = "my-user-id"
	return c
}
