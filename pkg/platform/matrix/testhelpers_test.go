// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/relaybridge/pkg/relay"
)

const (
	testSelf = id.UserID("@bot:example.org")
	testRoom = id.RoomID("!room:example.org")
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

// sentEvent is one event the fake homeserver received.
type sentEvent struct {
	Room    string
	Type    string
	Content map[string]any
}

// fakeHS simulates the parts of the client-server API the client uses.
type fakeHS struct {
	Server *httptest.Server

	mu        sync.Mutex
	Members   map[string]map[string]any // user id -> member content
	Profiles  map[string]string         // user id -> display name
	RoomNames map[string]string
	Events    map[string]map[string]any // event id -> event JSON
	Media     map[string][]byte         // media id -> data
	Fail      map[string]bool           // "send", "upload", "whoami"
	FailAfter int                       // fail sends once this many succeeded, 0 disables

	sent    []sentEvent
	uploads int
	syncs   int
}

func newFakeHS(t *testing.T) *fakeHS {
	t.Helper()
	f := &fakeHS{
		Members:   map[string]map[string]any{},
		Profiles:  map[string]string{},
		RoomNames: map[string]string{},
		Events:    map[string]map[string]any{},
		Media:     map[string][]byte{},
		Fail:      map[string]bool{},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"errcode": "M_NOT_FOUND", "error": "not found"})
}

func forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, map[string]string{"errcode": "M_FORBIDDEN", "error": "denied"})
}

func (f *fakeHS) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/account/whoami"):
		if f.Fail["whoami"] || r.Header.Get("Authorization") != "Bearer test-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errcode": "M_UNKNOWN_TOKEN", "error": "bad token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"user_id": string(testSelf), "device_id": "DEVICE"})

	case strings.Contains(path, "/state/m.room.member/"):
		user := path[strings.LastIndex(path, "/")+1:]
		if m, ok := f.Members[user]; ok {
			writeJSON(w, http.StatusOK, m)
			return
		}
		notFound(w)

	case strings.Contains(path, "/state/m.room.name"):
		room := strings.TrimPrefix(path[:strings.Index(path, "/state/")], "/_matrix/client/v3/rooms/")
		if name, ok := f.RoomNames[room]; ok {
			writeJSON(w, http.StatusOK, map[string]string{"name": name})
			return
		}
		notFound(w)

	case strings.Contains(path, "/profile/"):
		user := strings.TrimSuffix(path[strings.Index(path, "/profile/")+len("/profile/"):], "/displayname")
		if name, ok := f.Profiles[user]; ok {
			writeJSON(w, http.StatusOK, map[string]string{"displayname": name})
			return
		}
		notFound(w)

	case strings.Contains(path, "/event/"):
		eventID := path[strings.LastIndex(path, "/")+1:]
		if evt, ok := f.Events[eventID]; ok {
			writeJSON(w, http.StatusOK, evt)
			return
		}
		notFound(w)

	case strings.Contains(path, "/send/"):
		if f.Fail["send"] || (f.FailAfter > 0 && len(f.sent) >= f.FailAfter) {
			forbidden(w)
			return
		}
		parts := strings.Split(path, "/")
		var content map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &content)
		f.sent = append(f.sent, sentEvent{Room: parts[len(parts)-4], Type: parts[len(parts)-2], Content: content})
		writeJSON(w, http.StatusOK, map[string]string{"event_id": "$sent-" + strconv.Itoa(len(f.sent))})

	case strings.HasSuffix(path, "/upload"):
		if f.Fail["upload"] {
			forbidden(w)
			return
		}
		f.uploads++
		writeJSON(w, http.StatusOK, map[string]string{"content_uri": "mxc://example.org/up" + strconv.Itoa(f.uploads)})

	case strings.Contains(path, "/download/"):
		mediaID := path[strings.LastIndex(path, "/")+1:]
		if data, ok := f.Media[mediaID]; ok {
			_, _ = w.Write(data)
			return
		}
		notFound(w)

	case strings.HasSuffix(path, "/filter"):
		writeJSON(w, http.StatusOK, map[string]string{"filter_id": "1"})

	case strings.HasSuffix(path, "/sync"):
		f.syncs++
		f.mu.Unlock()
		select {
		case <-r.Context().Done():
		case <-time.After(20 * time.Millisecond):
		}
		f.mu.Lock()
		writeJSON(w, http.StatusOK, map[string]string{"next_batch": "batch"})

	default:
		notFound(w)
	}
}

func (f *fakeHS) Sent() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentEvent, len(f.sent))
	copy(cp, f.sent)
	return cp
}

// newTestClient returns a logged in client with a sink attached and no
// sync loop running.
func newTestClient(t *testing.T, f *fakeHS) (*Client, *mockSink) {
	t.Helper()
	c, err := New(Config{Homeserver: f.Server.URL, AccessToken: "test-token"}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	sink := &mockSink{}
	c.sink.Store(&sinkBox{sink})
	return c, sink
}

func messageEvent(eventID string, sender id.UserID, content *event.MessageEventContent) *event.Event {
	return &event.Event{
		Type:      event.EventMessage,
		ID:        id.EventID(eventID),
		RoomID:    testRoom,
		Sender:    sender,
		Timestamp: 1700000000000,
		Content:   event.Content{Parsed: content},
	}
}
