// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package discord

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.mau.fi/util/exmime"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/platform"
)

const (
	maxMessageLength   = 2000
	maxFilesPerMessage = 10
	maxWebhookUsername = 80
)

var markdownStyle = platform.MarkdownStyle{ChannelPrefix: "#"}

// SendMessage sends nodes to channelID. Text longer than a Discord message
// is split and attachments follow the last text chunk. With webhook mode on
// and an Author node present, messages are posted under that author.
func (c *Client) SendMessage(ctx context.Context, channelID string, nodes []element.Element) ([]string, error) {
	quote, author, content := element.Split(nodes)
	msgs := buildMessages(quote, content, channelID)

	var ids []string
	for _, ms := range msgs {
		var sent *discordgo.Message
		var err error
		if c.cfg.Webhook && author != nil {
			sent, err = c.executeWebhook(ctx, channelID, author, ms)
		} else {
			sent, err = c.session.ChannelMessageSendComplex(channelID, ms, discordgo.WithContext(ctx))
		}
		if err != nil {
			if len(ids) > 0 {
				c.log.Warn().Err(err).Int("sent", len(ids)).Msg("Failed to send follow-up message")
				return ids, nil
			}
			return nil, fmt.Errorf("failed to send discord message: %w", err)
		}
		ids = append(ids, sent.ID)
	}
	return ids, nil
}

// buildMessages renders content into the messages to send. Only the first
// message references the quote. Mentions never ping.
func buildMessages(quote *element.Quote, content []element.Element, channelID string) []*discordgo.MessageSend {
	rendered := platform.RenderMarkdown(content, markdownStyle)
	var chunks []string
	if rendered.Text != "" {
		chunks = platform.SplitText(rendered.Text, maxMessageLength)
	}
	files := make([]*discordgo.File, 0, len(rendered.Attachments))
	for _, att := range rendered.Attachments {
		files = append(files, &discordgo.File{
			Name:        attachmentName(att),
			ContentType: att.MimeType,
			Reader:      bytes.NewReader(att.Data),
		})
	}

	var out []*discordgo.MessageSend
	for i := 0; i < len(chunks) || len(files) > 0; i++ {
		ms := &discordgo.MessageSend{
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
		}
		if i < len(chunks) {
			ms.Content = chunks[i]
		}
		if i >= len(chunks)-1 && len(files) > 0 {
			n := min(len(files), maxFilesPerMessage)
			ms.Files = files[:n]
			files = files[n:]
		}
		out = append(out, ms)
	}
	if quote != nil && len(out) > 0 {
		failIfNotExists := false
		out[0].Reference = &discordgo.MessageReference{
			MessageID:       quote.ID,
			ChannelID:       channelID,
			FailIfNotExists: &failIfNotExists,
		}
	}
	return out
}

func attachmentName(att platform.Attachment) string {
	if att.Name != "" {
		return att.Name
	}
	return "image" + exmime.ExtensionFromMimetype(att.MimeType)
}

func (c *Client) executeWebhook(ctx context.Context, channelID string, author *element.Author, ms *discordgo.MessageSend) (*discordgo.Message, error) {
	wh, err := c.webhookFor(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return c.session.WebhookExecute(wh.ID, wh.Token, true, &discordgo.WebhookParams{
		Content:         ms.Content,
		Username:        webhookUsername(author),
		AvatarURL:       author.Avatar,
		Files:           ms.Files,
		AllowedMentions: ms.AllowedMentions,
	}, discordgo.WithContext(ctx))
}

func webhookUsername(author *element.Author) string {
	name := author.Name
	if name == "" {
		name = author.ID
	}
	if runes := []rune(name); len(runes) > maxWebhookUsername {
		name = string(runes[:maxWebhookUsername])
	}
	return name
}

// webhookFor returns the bridge webhook of a channel, creating it once.
// Its id is remembered so the gateway echo can be dropped.
func (c *Client) webhookFor(ctx context.Context, channelID string) (*discordgo.Webhook, error) {
	c.webhooksMu.Lock()
	defer c.webhooksMu.Unlock()
	if wh, ok := c.webhooks[channelID]; ok {
		return wh, nil
	}
	hooks, err := c.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	var wh *discordgo.Webhook
	for _, h := range hooks {
		if h.Name == c.cfg.webhookName() && h.Token != "" {
			wh = h
			break
		}
	}
	if wh == nil {
		wh, err = c.session.WebhookCreate(channelID, c.cfg.webhookName(), "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook: %w", err)
		}
		c.log.Info().Str("channel_id", channelID).Str("webhook_id", wh.ID).Msg("Created relay webhook")
	}
	c.webhooks[channelID] = wh
	c.ownHooks.Store(wh.ID, struct{}{})
	return wh, nil
}
