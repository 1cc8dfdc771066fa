// Copyright 2024-2026 Aiku AI

package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/relay"
)

func (c *Client) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.WebhookID != "" {
		if _, own := c.ownHooks.Load(m.WebhookID); own {
			c.log.Trace().Str("message_id", m.ID).Msg("Skipping own webhook message")
			return
		}
	}
	if c.seen.Contains(m.ID) {
		c.log.Debug().Str("message_id", m.ID).Msg("Skipping re-delivered message")
		return
	}
	c.seen.Push(m.ID, struct{}{})

	c.emit(c.convertMessage(m.Message))
}

func (c *Client) convertMessage(m *discordgo.Message) *relay.Event {
	evt := &relay.Event{
		Platform:  Platform,
		SelfID:    c.selfID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Author:    authorOf(m),
		Elements:  messageElements(m),
		Quote:     quoteOf(m),
		Session:   c.newSession(m.GuildID),
		Time:      m.Timestamp,
	}
	if ref := m.MessageReference; evt.Quote != nil && ref.ChannelID != "" && ref.ChannelID != m.ChannelID {
		evt.Elements = append([]element.Element{element.Reply{ID: ref.MessageID}}, evt.Elements...)
	}
	c.log.Debug().
		Str("message_id", m.ID).
		Str("channel_id", m.ChannelID).
		Str("user_id", m.Author.ID).
		Msg("Received new message")
	return evt
}

func authorOf(m *discordgo.Message) relay.Author {
	a := relay.Author{
		ID:     m.Author.ID,
		Name:   m.Author.DisplayName(),
		Avatar: m.Author.AvatarURL("128"),
		IsBot:  m.Author.Bot || m.WebhookID != "",
	}
	if m.Member != nil && m.Member.Nick != "" {
		a.Name = m.Member.Nick
	}
	return a
}

// quoteOf returns the replied-to message. Forwards are not replies.
func quoteOf(m *discordgo.Message) *relay.Quote {
	ref := m.MessageReference
	if ref == nil || ref.Type != discordgo.MessageReferenceTypeDefault || ref.MessageID == "" {
		return nil
	}
	q := &relay.Quote{MessageID: ref.MessageID}
	if rm := m.ReferencedMessage; rm != nil && rm.Author != nil {
		q.AuthorID = rm.Author.ID
		q.AuthorIsBot = rm.Author.Bot || rm.WebhookID != ""
	}
	return q
}

// messageElements converts content, attachments, stickers and forwarded
// snapshots, in that order.
func messageElements(m *discordgo.Message) []element.Element {
	names := make(map[string]string, len(m.Mentions))
	for _, u := range m.Mentions {
		names[u.ID] = u.DisplayName()
	}
	nodes := ParseContent(m.Content, names)
	for _, att := range m.Attachments {
		nodes = append(nodes, attachmentElement(att))
	}
	for _, st := range m.StickerItems {
		nodes = append(nodes, element.Sticker{ID: st.ID, Name: st.Name, URL: StickerURL(st)})
	}
	if ref := m.MessageReference; ref != nil && ref.Type == discordgo.MessageReferenceTypeForward && len(m.MessageSnapshots) > 0 {
		fwd := element.Forward{ID: ref.MessageID}
		for _, snap := range m.MessageSnapshots {
			if snap.Message == nil {
				continue
			}
			fwd.Messages = append(fwd.Messages, element.Message{Children: messageElements(snap.Message)})
		}
		nodes = append(nodes, fwd)
	}
	return nodes
}

func attachmentElement(att *discordgo.MessageAttachment) element.Element {
	switch mime := att.ContentType; {
	case strings.HasPrefix(mime, "image/"):
		return element.Image{URL: att.URL, Name: att.Filename, MimeType: mime, Width: att.Width, Height: att.Height}
	case strings.HasPrefix(mime, "video/"):
		return element.Video{URL: att.URL, Name: att.Filename}
	case strings.HasPrefix(mime, "audio/"):
		return element.Audio{URL: att.URL, Name: att.Filename}
	default:
		return element.File{URL: att.URL, Name: att.Filename, Size: int64(att.Size)}
	}
}
