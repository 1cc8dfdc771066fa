// Copyright 2024-2026 Aiku AI

package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/aiku/relaybridge/pkg/transform"
)

// session resolves Discord users and channels for one event. Media is
// served by the public CDN and fetched over plain HTTP.
type session struct {
	transform.BaseSession
	client  *Client
	guildID string
}

var _ transform.Session = (*session)(nil)

func (c *Client) newSession(guildID string) *session {
	return &session{BaseSession: transform.BaseSession{Fetcher: c.fetcher}, client: c, guildID: guildID}
}

// UserName prefers the guild nickname over the global display name.
func (s *session) UserName(ctx context.Context, userID string) (string, error) {
	if s.guildID != "" {
		member, err := s.client.session.GuildMember(s.guildID, userID, discordgo.WithContext(ctx))
		if err == nil {
			if member.Nick != "" {
				return member.Nick, nil
			}
			if member.User != nil {
				return member.User.DisplayName(), nil
			}
		}
	}
	user, err := s.client.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return user.DisplayName(), nil
}

func (s *session) ChannelName(ctx context.Context, channelID string) (string, error) {
	ch, err := s.client.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to get channel: %w", err)
	}
	return ch.Name, nil
}
