// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/relaybridge/pkg/element"
)

func newTestBridge(t *testing.T, cfg *Config, bots ...Bot) *Bridge {
	t.Helper()
	b, err := NewBridge(cfg, bots, &mockStore{}, testEngine(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	return b
}

func TestNewBridgeUnknownBot(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	_, err := NewBridge(cfg, []Bot{newMockBot("onebot", "10001", false)}, &mockStore{}, testEngine(), zerolog.Nop())
	if !errors.Is(err, ErrUnknownBot) {
		t.Errorf("got %v, want ErrUnknownBot", err)
	}
}

func TestBridgeRoutesToEveryMatchingRule(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	qq := newMockBot("onebot", "10001", false)
	dc := newMockBot("discord", "999", true)
	mm := newMockBot("mattermost", "bot-mm", false)
	b := newTestBridge(t, cfg, qq, dc, mm)

	ctx := context.Background()
	b.Start(ctx)
	b.HandleEvent(ctx, qqEvent("in-1", "alice", "alice", "hello"))
	// Different channel, no rule.
	other := qqEvent("in-2", "alice", "alice", "elsewhere")
	other.ChannelID = "999999"
	b.HandleEvent(ctx, other)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := len(dc.Sent()); n != 1 {
		t.Errorf("discord sends: got %d, want 1", n)
	}
	if n := len(mm.Sent()); n != 1 {
		t.Errorf("mattermost sends: got %d, want 1", n)
	}
	if n := len(qq.Sent()); n != 0 {
		t.Errorf("qq sends: got %d, want 0", n)
	}
}

func TestBridgePreservesOrderPerRule(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Delay = 1
	dc := newMockBot("discord", "999", true)
	b := newTestBridge(t, cfg,
		newMockBot("onebot", "10001", false), dc, newMockBot("mattermost", "bot-mm", false))

	ctx := context.Background()
	b.Start(ctx)
	want := []string{"one", "two", "three", "four"}
	for i, s := range want {
		b.HandleEvent(ctx, qqEvent("in-"+string(rune('a'+i)), "alice", "alice", s))
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	var got []string
	for _, s := range dc.Sent() {
		got = append(got, s.Nodes[len(s.Nodes)-1].(element.Text).Content)
	}
	if !slices.Equal(got, want) {
		t.Errorf("order: got %q, want %q", got, want)
	}
}

func TestBridgeQueueFull(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.QueueSize = 1
	b := newTestBridge(t, cfg,
		newMockBot("onebot", "10001", false), newMockBot("discord", "999", true), newMockBot("mattermost", "bot-mm", false))

	// Not started, so the first event fills the queue.
	d := b.Dispatchers()[0]
	if err := d.Enqueue(qqEvent("in-1", "alice", "alice", "a")); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := d.Enqueue(qqEvent("in-2", "alice", "alice", "b")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Enqueue: got %v, want ErrQueueFull", err)
	}
	d.Close()
	if err := d.Enqueue(qqEvent("in-3", "alice", "alice", "c")); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Enqueue after Close: got %v, want ErrDispatcherClosed", err)
	}
}

func TestBridgeChannels(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := newTestBridge(t, cfg,
		newMockBot("onebot", "10001", false), newMockBot("discord", "999", true), newMockBot("mattermost", "bot-mm", false))

	if got := b.Channels("onebot", "10001"); !slices.Equal(got, []string{"123456"}) {
		t.Errorf("onebot channels: got %q", got)
	}
	if got := b.Channels("mattermost", "bot-mm"); len(got) != 0 {
		t.Errorf("mattermost is only a destination, got %q", got)
	}
}

func TestBridgeStopWithoutStart(t *testing.T) {
	t.Parallel()
	b := newTestBridge(t, testConfig(t),
		newMockBot("onebot", "10001", false), newMockBot("discord", "999", true), newMockBot("mattermost", "bot-mm", false))
	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
