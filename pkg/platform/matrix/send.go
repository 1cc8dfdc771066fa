// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"fmt"

	"go.mau.fi/util/exmime"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/platform"
	"github.com/aiku/relaybridge/pkg/platform/matrix/htmlfmt"
)

// SendMessage sends the text as one m.text event and every attachment as its
// own media event. Only the first event carries the reply relation.
func (c *Client) SendMessage(ctx context.Context, channelID string, nodes []element.Element) ([]string, error) {
	roomID := id.RoomID(channelID)
	parsed, attachments := htmlfmt.Render(nodes)
	relatesTo := parsed.RelatesTo

	var contents []*event.MessageEventContent
	if parsed.Body != "" {
		contents = append(contents, parsed.Content(event.MsgText))
		relatesTo = nil
	}
	for _, att := range attachments {
		content, err := c.uploadAttachment(ctx, att)
		if err != nil {
			c.log.Warn().Err(err).Str("name", att.Name).Msg("Failed to upload attachment, skipping")
			continue
		}
		content.RelatesTo = relatesTo
		relatesTo = nil
		contents = append(contents, content)
	}

	var ids []string
	for _, content := range contents {
		resp, err := c.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
		if err != nil {
			if len(ids) > 0 {
				c.log.Warn().Err(err).Int("sent", len(ids)).Msg("Failed to send follow-up event")
				return ids, nil
			}
			return nil, fmt.Errorf("failed to send message event: %w", err)
		}
		ids = append(ids, resp.EventID.String())
	}
	return ids, nil
}

func (c *Client) uploadAttachment(ctx context.Context, att platform.Attachment) (*event.MessageEventContent, error) {
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	name := att.Name
	if name == "" {
		name = "file" + exmime.ExtensionFromMimetype(mimeType)
	}
	resp, err := c.client.UploadBytes(ctx, att.Data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Matrix: %w", err)
	}
	msgType := event.MsgFile
	if att.Kind == element.KindImage {
		msgType = event.MsgImage
	}
	return &event.MessageEventContent{
		MsgType: msgType,
		Body:    name,
		URL:     resp.ContentURI.CUString(),
		Info:    &event.FileInfo{MimeType: mimeType, Size: len(att.Data)},
	}, nil
}
