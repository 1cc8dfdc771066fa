// Copyright 2024-2026 Aiku AI

package transform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aiku/relaybridge/pkg/element"
)

// fakeSession serves canned media and lookups and records fetched URLs.
type fakeSession struct {
	mu      sync.Mutex
	fetched []string

	Media    map[string]*Media
	Delay    map[string]time.Duration
	Users    map[string]string
	Channels map[string]string
	Forwards map[string][]element.Message
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		Media:    make(map[string]*Media),
		Delay:    make(map[string]time.Duration),
		Users:    make(map[string]string),
		Channels: make(map[string]string),
		Forwards: make(map[string][]element.Message),
	}
}

func (f *fakeSession) Fetch(ctx context.Context, url string) (*Media, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	delay := f.Delay[url]
	media, ok := f.Media[url]
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: 404 for %s", ErrFetchFailed, url)
	}
	return media, nil
}

func (f *fakeSession) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.fetched))
	copy(cp, f.fetched)
	return cp
}

func (f *fakeSession) UserName(_ context.Context, id string) (string, error) {
	if name, ok := f.Users[id]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown user %s", id)
}

func (f *fakeSession) ChannelName(_ context.Context, id string) (string, error) {
	if name, ok := f.Channels[id]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown channel %s", id)
}

func (f *fakeSession) ForwardMessages(_ context.Context, id string) ([]element.Message, error) {
	if msgs, ok := f.Forwards[id]; ok {
		return msgs, nil
	}
	return nil, fmt.Errorf("unknown forward %s", id)
}

// texts returns the content of every top-level Text node, failing the shape
// check with ok=false when a non-text node is present.
func texts(nodes []element.Element) (out []string, ok bool) {
	for _, n := range nodes {
		t, isText := n.(element.Text)
		if !isText {
			return out, false
		}
		out = append(out, t.Content)
	}
	return out, true
}
