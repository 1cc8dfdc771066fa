// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"fmt"
	"strings"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/transform"
)

// session resolves Mattermost file ids, users and channels for one event.
type session struct {
	client *Client
}

var _ transform.Session = (*session)(nil)

func (s *session) Fetch(ctx context.Context, url string) (*transform.Media, error) {
	fileID, ok := strings.CutPrefix(url, fileScheme)
	if !ok {
		base := transform.BaseSession{Fetcher: s.client.fetcher}
		return base.Fetch(ctx, url)
	}
	info, _, err := s.client.client.GetFileInfo(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: file info %s: %w", transform.ErrFetchFailed, fileID, err)
	}
	data, _, err := s.client.client.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: file %s: %w", transform.ErrFetchFailed, fileID, err)
	}
	return &transform.Media{Data: data, MimeType: info.MimeType, Name: info.Name}, nil
}

func (s *session) UserName(ctx context.Context, userID string) (string, error) {
	user, _, err := s.client.client.GetUser(ctx, userID, "")
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return displayName(user), nil
}

func (s *session) ChannelName(ctx context.Context, channelID string) (string, error) {
	ch, _, err := s.client.client.GetChannel(ctx, channelID, "")
	if err != nil {
		return "", fmt.Errorf("failed to get channel: %w", err)
	}
	if ch.DisplayName != "" {
		return ch.DisplayName, nil
	}
	return ch.Name, nil
}

func (s *session) ForwardMessages(_ context.Context, forwardID string) ([]element.Message, error) {
	return nil, fmt.Errorf("mattermost has no forward bundles (%s)", forwardID)
}
