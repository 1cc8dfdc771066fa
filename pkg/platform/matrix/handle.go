// Copyright 2024-2026 Aiku AI

package matrix

import (
	"context"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/platform/matrix/matrixfmt"
	"github.com/aiku/relaybridge/pkg/relay"
)

func (c *Client) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == c.userID {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil {
		c.log.Debug().Str("event_id", evt.ID.String()).Msg("Event has no message content")
		return
	}
	if content.RelatesTo.GetReplaceID() != "" {
		c.log.Trace().Str("event_id", evt.ID.String()).Msg("Ignoring edit")
		return
	}
	if c.seen.Contains(evt.ID.String()) {
		c.log.Debug().Str("event_id", evt.ID.String()).Msg("Skipping re-delivered event")
		return
	}
	c.seen.Push(evt.ID.String(), struct{}{})

	c.emit(ctx, c.convertEvent(ctx, evt, content))
}

func (c *Client) convertEvent(ctx context.Context, evt *event.Event, content *event.MessageEventContent) *relay.Event {
	out := &relay.Event{
		Platform:  Platform,
		SelfID:    c.SelfID(),
		ChannelID: evt.RoomID.String(),
		MessageID: evt.ID.String(),
		Author:    c.authorOf(ctx, evt.RoomID, evt.Sender),
		Elements:  messageElements(evt.Type, content),
		Session:   &session{client: c, roomID: evt.RoomID},
		Time:      time.UnixMilli(evt.Timestamp),
	}
	if replyTo := content.RelatesTo.GetReplyTo(); replyTo != "" {
		out.Quote = c.quoteOf(ctx, evt.RoomID, replyTo)
	}
	c.log.Debug().
		Str("event_id", out.MessageID).
		Str("room_id", out.ChannelID).
		Str("sender", evt.Sender.String()).
		Msg("Received new message")
	return out
}

// authorOf reads the sender's room member state, falling back to the
// localpart when it is unavailable.
func (c *Client) authorOf(ctx context.Context, roomID id.RoomID, sender id.UserID) relay.Author {
	author := relay.Author{ID: sender.String(), Name: sender.String()}
	if localpart, _, err := sender.Parse(); err == nil {
		author.Name = localpart
	}
	var member event.MemberEventContent
	if err := c.client.StateEvent(ctx, roomID, event.StateMember, sender.String(), &member); err != nil {
		c.log.Debug().Err(err).Str("sender", sender.String()).Msg("Failed to get member state")
		return author
	}
	if member.Displayname != "" {
		author.Name = member.Displayname
	}
	author.Avatar = c.mediaURL(member.AvatarURL)
	return author
}

func (c *Client) quoteOf(ctx context.Context, roomID id.RoomID, eventID id.EventID) *relay.Quote {
	quote := &relay.Quote{MessageID: eventID.String()}
	replied, err := c.client.GetEvent(ctx, roomID, eventID)
	if err != nil {
		c.log.Debug().Err(err).Str("event_id", eventID.String()).Msg("Failed to get replied event")
		return quote
	}
	quote.AuthorID = replied.Sender.String()
	return quote
}

func messageElements(evtType event.Type, content *event.MessageEventContent) []element.Element {
	if evtType == event.EventSticker {
		return []element.Element{element.Sticker{Name: content.Body, URL: string(content.URL)}}
	}
	name := content.FileName
	if name == "" {
		name = content.Body
	}
	switch content.MsgType {
	case event.MsgImage:
		img := element.Image{URL: string(content.URL), Name: name}
		if content.Info != nil {
			img.MimeType = content.Info.MimeType
			img.Width = content.Info.Width
			img.Height = content.Info.Height
		}
		return []element.Element{img}
	case event.MsgVideo:
		return []element.Element{element.Video{URL: string(content.URL), Name: name}}
	case event.MsgAudio:
		return []element.Element{element.Audio{URL: string(content.URL), Name: name}}
	case event.MsgFile:
		file := element.File{URL: string(content.URL), Name: name}
		if content.Info != nil {
			file.Size = int64(content.Info.Size)
		}
		return []element.Element{file}
	case event.MsgEmote:
		return append([]element.Element{element.NewText("* ")}, matrixfmt.Parse(content)...)
	default:
		return matrixfmt.Parse(content)
	}
}
