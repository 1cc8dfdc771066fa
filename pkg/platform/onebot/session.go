// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/transform"
)

// session resolves QQ users, groups and forward bundles for one event.
type session struct {
	transform.BaseSession
	client  *Client
	groupID string
}

var _ transform.Session = (*session)(nil)

func (c *Client) newSession(channelID string) *session {
	s := &session{BaseSession: transform.BaseSession{Fetcher: c.fetcher}, client: c}
	if !strings.HasPrefix(channelID, privatePrefix) {
		s.groupID = channelID
	}
	return s
}

// UserName prefers the member's group card over the account nickname.
func (s *session) UserName(ctx context.Context, userID string) (string, error) {
	if s.groupID != "" {
		member, err := s.client.callAPI(ctx, "get_group_member_info", map[string]any{
			"group_id": numericOrString(s.groupID),
			"user_id":  numericOrString(userID),
		})
		if err == nil {
			if card := member.Get("card").String(); card != "" {
				return card, nil
			}
			return member.Get("nickname").String(), nil
		}
		s.client.log.Debug().Err(err).Str("user_id", userID).Msg("Member lookup failed, trying stranger info")
	}
	info, err := s.client.callAPI(ctx, "get_stranger_info", map[string]any{"user_id": numericOrString(userID)})
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return info.Get("nickname").String(), nil
}

func (s *session) ChannelName(ctx context.Context, channelID string) (string, error) {
	info, err := s.client.callAPI(ctx, "get_group_info", map[string]any{"group_id": numericOrString(channelID)})
	if err != nil {
		return "", fmt.Errorf("failed to get group: %w", err)
	}
	return info.Get("group_name").String(), nil
}

func (s *session) ForwardMessages(ctx context.Context, forwardID string) ([]element.Message, error) {
	data, err := s.client.callAPI(ctx, "get_forward_msg", map[string]any{"id": forwardID, "message_id": forwardID})
	if err != nil {
		return nil, fmt.Errorf("failed to get forward bundle: %w", err)
	}
	list := data.Get("messages")
	if !list.Exists() {
		list = data.Get("message")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("forward bundle %s has no messages", forwardID)
	}
	return ParseForwardMessages(list), nil
}

// numericOrString sends ids as numbers when they are numeric, which every
// OneBot implementation accepts.
func numericOrString(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
