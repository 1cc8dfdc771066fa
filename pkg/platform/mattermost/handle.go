// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/relay"
)

// fileScheme marks element URLs that point at Mattermost file ids. The
// session downloads them through the authenticated API.
const fileScheme = "mmfile://"

// handleEvent dispatches a Mattermost WebSocket event to the appropriate handler.
func (m *Client) handleEvent(ctx context.Context, evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		m.handlePosted(ctx, evt)
	default:
		m.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying all echo prevention layers. Returns (nil, nil) to skip silently,
// (nil, err) to log an error, or (post, nil) to proceed.
func (m *Client) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts, including username overrides.
	if post.UserId == m.userID {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	// Echo prevention: skip posts from usernames matching the bridge prefix.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBridgeUsername(senderName, m.cfg.BotPrefix) {
		m.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bridge username post (echo prevention)")
		return nil, nil
	}

	if m.seen.Contains(post.Id) {
		m.log.Debug().Str("post_id", post.Id).Msg("Skipping re-delivered post")
		return nil, nil
	}
	m.seen.Push(post.Id, struct{}{})

	return &post, nil
}

func (m *Client) handlePosted(ctx context.Context, evt *model.WebSocketEvent) {
	post, err := m.parsePostedEvent(evt)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}

	m.log.Debug().
		Str("post_id", post.Id).
		Str("channel_id", post.ChannelId).
		Str("user_id", post.UserId).
		Msg("Received new message")

	m.emit(ctx, m.convertPost(ctx, post))
}

// convertPost builds the relay event for a post. Lookups that fail degrade
// to ids instead of dropping the post.
func (m *Client) convertPost(ctx context.Context, post *model.Post) *relay.Event {
	author := relay.Author{ID: post.UserId}
	if user, _, err := m.client.GetUser(ctx, post.UserId, ""); err != nil {
		m.log.Warn().Err(err).Str("user_id", post.UserId).Msg("Failed to get post author")
	} else {
		author.Name = displayName(user)
		author.IsBot = user.IsBot
		author.Avatar = m.serverURL + "/api/v4/users/" + user.Id + "/image"
	}
	if override, ok := post.GetProp("override_username").(string); ok && override != "" {
		author.Name = override
	}

	var nodes []element.Element
	if post.Message != "" {
		nodes = append(nodes, element.NewText(post.Message))
	}
	for _, fileID := range post.FileIds {
		if node := m.convertFile(ctx, fileID); node != nil {
			nodes = append(nodes, node)
		}
	}

	evt := &relay.Event{
		Platform:  Platform,
		SelfID:    m.userID,
		ChannelID: post.ChannelId,
		MessageID: post.Id,
		Author:    author,
		Elements:  nodes,
		Session:   &session{client: m},
		Time:      time.UnixMilli(post.CreateAt),
	}
	if post.RootId != "" {
		evt.Quote = m.quoteFor(ctx, post.RootId)
	}
	return evt
}

func (m *Client) quoteFor(ctx context.Context, rootID string) *relay.Quote {
	q := &relay.Quote{MessageID: rootID}
	root, _, err := m.client.GetPost(ctx, rootID, "")
	if err != nil {
		m.log.Warn().Err(err).Str("root_id", rootID).Msg("Failed to get quoted post")
		return q
	}
	q.AuthorID = root.UserId
	fromBot, _ := root.GetProp("from_bot").(string)
	fromWebhook, _ := root.GetProp("from_webhook").(string)
	q.AuthorIsBot = fromBot == "true" || fromWebhook == "true"
	return q
}

// convertFile maps an attachment to an element by its mime type.
func (m *Client) convertFile(ctx context.Context, fileID string) element.Element {
	info, _, err := m.client.GetFileInfo(ctx, fileID)
	if err != nil {
		m.log.Error().Err(err).Str("file_id", fileID).Msg("Failed to get file info")
		return nil
	}
	url := fileScheme + fileID
	switch mime := info.MimeType; {
	case strings.HasPrefix(mime, "image/"):
		return element.Image{URL: url, Name: info.Name, MimeType: mime, Width: info.Width, Height: info.Height}
	case strings.HasPrefix(mime, "video/"):
		return element.Video{URL: url, Name: info.Name}
	case strings.HasPrefix(mime, "audio/"):
		return element.Audio{URL: url, Name: info.Name}
	default:
		return element.File{URL: url, Name: info.Name, Size: info.Size}
	}
}

func displayName(u *model.User) string {
	if u.Nickname != "" {
		return u.Nickname
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	return u.Username
}

// isBridgeUsername returns true if the username carries the configured
// bridge prefix.
func isBridgeUsername(username, botPrefix string) bool {
	return botPrefix != "" && strings.HasPrefix(username, botPrefix)
}
