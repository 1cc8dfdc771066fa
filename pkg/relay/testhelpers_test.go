// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/relaybridge/pkg/correlation"
	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/transform"
)

type sentMessage struct {
	ChannelID string
	Nodes     []element.Element
}

// mockBot captures outbound sends and returns sequential message ids.
type mockBot struct {
	platform string
	selfID   string
	caps     Capabilities

	mu      sync.Mutex
	sent    []sentMessage
	counter int

	// IDsPerSend is the number of ids returned per send. Defaults to 1.
	IDsPerSend int
	Err        error
	Panic      bool
}

func newMockBot(platform, selfID string, native bool) *mockBot {
	return &mockBot{platform: platform, selfID: selfID, caps: Capabilities{NativeAuthor: native}, IDsPerSend: 1}
}

func (m *mockBot) Platform() string           { return m.platform }
func (m *mockBot) SelfID() string             { return m.selfID }
func (m *mockBot) Capabilities() Capabilities { return m.caps }

func (m *mockBot) SendMessage(_ context.Context, channelID string, nodes []element.Element) ([]string, error) {
	if m.Panic {
		panic("send exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{ChannelID: channelID, Nodes: nodes})
	if m.Err != nil {
		return nil, m.Err
	}
	ids := make([]string, 0, m.IDsPerSend)
	for range m.IDsPerSend {
		m.counter++
		ids = append(ids, fmt.Sprintf("%s-%d", m.platform, m.counter))
	}
	return ids, nil
}

func (m *mockBot) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]sentMessage, len(m.sent))
	copy(cp, m.sent)
	return cp
}

// mockStore is an in-memory CorrelationStore with the same lookup rules as
// the SQL store.
type mockStore struct {
	mu      sync.Mutex
	records []correlation.Record
	Err     error
}

func (m *mockStore) Record(_ context.Context, entries []correlation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.records = append(m.records, entries...)
	return nil
}

func (m *mockStore) FindByTarget(_ context.Context, messageID, bot, channelID string) ([]correlation.Record, error) {
	return m.find(func(r correlation.Record) bool {
		return r.ToMessageID == messageID && r.ToBot == bot && r.ToChannelID == channelID
	})
}

func (m *mockStore) FindBySource(_ context.Context, messageID, bot, channelID string) ([]correlation.Record, error) {
	return m.find(func(r correlation.Record) bool {
		return r.FromMessageID == messageID && r.FromBot == bot && r.FromChannelID == channelID
	})
}

func (m *mockStore) find(match func(correlation.Record) bool) ([]correlation.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []correlation.Record
	for _, r := range m.records {
		if match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) Records() []correlation.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]correlation.Record, len(m.records))
	copy(cp, m.records)
	return cp
}

var errSendFailed = errors.New("channel unavailable")

// testConfig has endpoints qq (onebot), dc (discord) and mm (mattermost)
// with rules qq->dc, dc->qq and qq->mm.
func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Configs: map[string]*EndpointConfig{
			"qq": {Platform: "onebot", SelfID: "10001", ChannelID: "123456", BlockID: []string{"spammer"}},
			"dc": {Platform: "discord", SelfID: "999", ChannelID: "chan-1"},
			"mm": {Platform: "mattermost", SelfID: "bot-mm", ChannelID: "town-square"},
		},
		Rules: []Rule{
			{From: "qq", To: "dc"},
			{From: "dc", To: "qq"},
			{From: "qq", To: "mm"},
		},
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

func testEngine() *transform.Engine {
	return transform.NewDefaultEngine(zerolog.Nop(), transform.Options{})
}

func newTestDispatcher(t *testing.T, cfg *Config, rule int, bot Bot, store CorrelationStore) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(cfg.Rules[rule], cfg, bot, store, testEngine(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func qqEvent(messageID, authorID, authorName, text string) *Event {
	return &Event{
		Platform:  "onebot",
		SelfID:    "10001",
		ChannelID: "123456",
		MessageID: messageID,
		Author:    Author{ID: authorID, Name: authorName},
		Elements:  []element.Element{element.NewText(text)},
	}
}
