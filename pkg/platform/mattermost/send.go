// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"fmt"

	"github.com/mattermost/mattermost/server/public/model"
	"go.mau.fi/util/exmime"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/platform"
)

var markdownStyle = platform.MarkdownStyle{ChannelPrefix: "~"}

// SendMessage posts nodes to channelID. Long text is split over several
// posts and attachments are spread five per post; every created post id is
// returned.
func (m *Client) SendMessage(ctx context.Context, channelID string, nodes []element.Element) ([]string, error) {
	quote, author, content := element.Split(nodes)
	rendered := platform.RenderMarkdown(content, markdownStyle)

	fileIDs := make([]string, 0, len(rendered.Attachments))
	for _, att := range rendered.Attachments {
		id, err := m.uploadAttachment(ctx, channelID, att)
		if err != nil {
			m.log.Warn().Err(err).Str("name", att.Name).Msg("Failed to upload attachment, skipping")
			continue
		}
		fileIDs = append(fileIDs, id)
	}

	var rootID string
	if quote != nil {
		rootID = m.threadRoot(ctx, quote.ID)
	}

	var chunks []string
	if rendered.Text != "" {
		chunks = platform.SplitText(rendered.Text, maxPostLength)
	}
	var ids []string
	for i := 0; i < len(chunks) || len(fileIDs) > 0; i++ {
		post := &model.Post{ChannelId: channelID, RootId: rootID}
		if i < len(chunks) {
			post.Message = chunks[i]
		}
		if len(fileIDs) > 0 {
			n := min(len(fileIDs), maxFilesPerPost)
			post.FileIds = fileIDs[:n]
			fileIDs = fileIDs[n:]
		}
		if author != nil && m.cfg.OverrideUsername {
			post.AddProp("override_username", author.Name)
			if author.Avatar != "" {
				post.AddProp("override_icon_url", author.Avatar)
			}
			post.AddProp("from_webhook", "true")
		}
		created, _, err := m.client.CreatePost(ctx, post)
		if err != nil {
			if len(ids) > 0 {
				m.log.Warn().Err(err).Int("sent", len(ids)).Msg("Failed to create follow-up post")
				return ids, nil
			}
			return nil, fmt.Errorf("failed to create post: %w", err)
		}
		ids = append(ids, created.Id)
	}
	return ids, nil
}

// threadRoot returns the post to use as RootId for a reply to postID.
// Replies must target the thread root, not another reply.
func (m *Client) threadRoot(ctx context.Context, postID string) string {
	post, _, err := m.client.GetPost(ctx, postID, "")
	if err != nil {
		m.log.Debug().Err(err).Str("post_id", postID).Msg("Failed to get quoted post, using it as root")
		return postID
	}
	if post.RootId != "" {
		return post.RootId
	}
	return post.Id
}

func (m *Client) uploadAttachment(ctx context.Context, channelID string, att platform.Attachment) (string, error) {
	name := att.Name
	if name == "" {
		name = "image" + exmime.ExtensionFromMimetype(att.MimeType)
	}
	resp, _, err := m.client.UploadFile(ctx, att.Data, channelID, name)
	if err != nil {
		return "", fmt.Errorf("failed to upload to Mattermost: %w", err)
	}
	if len(resp.FileInfos) == 0 {
		return "", fmt.Errorf("no file info returned from upload")
	}
	return resp.FileInfos[0].Id, nil
}
