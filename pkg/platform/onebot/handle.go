// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aiku/relaybridge/pkg/relay"
)

// privatePrefix marks channel ids that address a private chat.
const privatePrefix = "private:"

func (c *Client) handleFrame(frame gjson.Result) {
	switch postType := frame.Get("post_type").String(); postType {
	case "message":
		c.handleMessage(frame)
	case "message_sent":
		c.log.Trace().Str("message_id", frame.Get("message_id").String()).Msg("Ignoring own sent message")
	case "meta_event":
		if frame.Get("meta_event_type").String() == "lifecycle" {
			c.log.Info().Str("sub_type", frame.Get("sub_type").String()).Msg("Lifecycle event")
		}
	default:
		c.log.Trace().Str("post_type", postType).Msg("Unhandled event type")
	}
}

// channelFor returns the channel id of a message event, or "" when the
// message type cannot be routed.
func channelFor(frame gjson.Result) string {
	switch frame.Get("message_type").String() {
	case "group":
		return frame.Get("group_id").String()
	case "private":
		return privatePrefix + frame.Get("user_id").String()
	default:
		return ""
	}
}

func (c *Client) handleMessage(frame gjson.Result) {
	messageID := frame.Get("message_id").String()
	channelID := channelFor(frame)
	if channelID == "" {
		c.log.Warn().Str("message_type", frame.Get("message_type").String()).Msg("Unknown message type, cannot route")
		return
	}
	if messageID != "" && messageID != "0" {
		if c.seen.Contains(messageID) {
			c.log.Debug().Str("message_id", messageID).Msg("Skipping re-delivered message")
			return
		}
		c.seen.Push(messageID, struct{}{})
	}

	c.emit(c.convertMessage(c.ctx, frame, channelID))
}

func (c *Client) convertMessage(ctx context.Context, frame gjson.Result, channelID string) *relay.Event {
	userID := frame.Get("user_id").String()
	sender := frame.Get("sender")
	name := sender.Get("card").String()
	if name == "" {
		name = sender.Get("nickname").String()
	}
	nodes, replyID := ParseMessage(frame.Get("message"))

	evt := &relay.Event{
		Platform:  Platform,
		SelfID:    c.selfID,
		ChannelID: channelID,
		MessageID: frame.Get("message_id").String(),
		Author: relay.Author{
			ID:     userID,
			Name:   name,
			Avatar: AvatarURL(userID),
		},
		Elements: nodes,
		Session:  c.newSession(channelID),
		Time:     time.Unix(frame.Get("time").Int(), 0),
	}
	if replyID != "" {
		evt.Quote = c.quoteFor(ctx, replyID)
	}

	c.log.Debug().
		Str("message_id", evt.MessageID).
		Str("channel_id", channelID).
		Str("user_id", userID).
		Msg("Received new message")
	return evt
}

func (c *Client) quoteFor(ctx context.Context, messageID string) *relay.Quote {
	q := &relay.Quote{MessageID: messageID}
	msg, err := c.callAPI(ctx, "get_msg", map[string]any{"message_id": numericOrString(messageID)})
	if err != nil {
		c.log.Warn().Err(err).Str("reply_id", messageID).Msg("Failed to get quoted message")
		return q
	}
	q.AuthorID = msg.Get("sender.user_id").String()
	if q.AuthorID == "" {
		q.AuthorID = msg.Get("user_id").String()
	}
	return q
}
