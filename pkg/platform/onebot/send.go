// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package onebot

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/aiku/relaybridge/pkg/element"
)

// Segment is one part of an outbound OneBot message.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func textSegment(s string) Segment {
	return Segment{Type: "text", Data: map[string]any{"text": s}}
}

// target is the API addressing of a channel id.
type target struct {
	sendAction    string
	forwardAction string
	key           string
	id            int64
}

func parseTarget(channelID string) (target, error) {
	t := target{sendAction: "send_group_msg", forwardAction: "send_group_forward_msg", key: "group_id"}
	raw := channelID
	if rest, ok := strings.CutPrefix(channelID, privatePrefix); ok {
		t = target{sendAction: "send_private_msg", forwardAction: "send_private_forward_msg", key: "user_id"}
		raw = rest
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return target{}, fmt.Errorf("invalid %s in channel id %q", t.key, channelID)
	}
	t.id = id
	return t, nil
}

// SendMessage sends nodes to a group, or to a private chat when channelID
// is "private:<uid>". Forwarded bundles are sent as separate forward
// messages, so one call may produce several message ids.
func (c *Client) SendMessage(ctx context.Context, channelID string, nodes []element.Element) ([]string, error) {
	t, err := parseTarget(channelID)
	if err != nil {
		return nil, err
	}
	quote, author, content := element.Split(nodes)

	var ids []string
	var pending []Segment
	if quote != nil {
		pending = append(pending, Segment{Type: "reply", Data: map[string]any{"id": quote.ID}})
	}
	if author != nil {
		pending = appendText(pending, author.Name+": ")
	}

	send := func(action string, params map[string]any) error {
		params[t.key] = t.id
		data, err := c.callAPI(ctx, action, params)
		if err != nil {
			return err
		}
		if id := data.Get("message_id").String(); id != "" {
			ids = append(ids, id)
		}
		return nil
	}
	flush := func() error {
		segs := pending
		pending = nil
		if !hasContent(segs) {
			return nil
		}
		return send(t.sendAction, map[string]any{"message": segs})
	}
	fail := func(err error) ([]string, error) {
		if len(ids) > 0 {
			c.log.Warn().Err(err).Int("sent", len(ids)).Msg("Failed to send follow-up message")
			return ids, nil
		}
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	for _, n := range content {
		bundle, ok := n.(element.Message)
		if !ok || !bundle.Forward {
			pending = c.appendSegments(pending, n)
			continue
		}
		var nodes []Segment
		for _, child := range bundle.Children {
			if sub, ok := child.(element.Message); ok && !sub.Forward {
				nodes = append(nodes, c.forwardNode(sub))
			} else {
				pending = c.appendSegments(pending, child)
			}
		}
		if err := flush(); err != nil {
			return fail(err)
		}
		if len(nodes) > 0 {
			if err := send(t.forwardAction, map[string]any{"messages": nodes}); err != nil {
				return fail(err)
			}
		}
	}
	if err := flush(); err != nil {
		return fail(err)
	}
	return ids, nil
}

func hasContent(segs []Segment) bool {
	for _, s := range segs {
		if s.Type != "reply" {
			return true
		}
	}
	return false
}

// appendText merges s into a trailing text segment.
func appendText(segs []Segment, s string) []Segment {
	if s == "" {
		return segs
	}
	if n := len(segs); n > 0 && segs[n-1].Type == "text" {
		prev, _ := segs[n-1].Data["text"].(string)
		segs[n-1] = textSegment(prev + s)
		return segs
	}
	return append(segs, textSegment(s))
}

func (c *Client) appendSegments(segs []Segment, n element.Element) []Segment {
	switch v := n.(type) {
	case element.Text:
		return appendText(segs, v.Content)
	case element.Break:
		return appendText(segs, "\n")
	case element.Mention:
		if _, err := strconv.ParseInt(v.ID, 10, 64); err == nil {
			return append(segs, Segment{Type: "at", Data: map[string]any{"qq": v.ID}})
		}
		return appendText(segs, "@"+firstNonEmpty(v.Name, v.ID))
	case element.Face:
		return append(segs, Segment{Type: "face", Data: map[string]any{"id": v.ID}})
	case element.Image:
		if len(v.Data) > 0 {
			return append(segs, Segment{Type: "image", Data: map[string]any{"file": "base64://" + base64.StdEncoding.EncodeToString(v.Data)}})
		}
		if v.URL != "" {
			return append(segs, Segment{Type: "image", Data: map[string]any{"file": v.URL}})
		}
		return segs
	case element.Author:
		return appendText(segs, firstNonEmpty(v.Name, v.ID)+": ")
	case element.Message:
		if v.Forward {
			for _, child := range v.Children {
				if sub, ok := child.(element.Message); ok && !sub.Forward {
					segs = append(segs, c.forwardNode(sub))
				} else {
					segs = c.appendSegments(segs, child)
				}
			}
			return segs
		}
		for _, child := range v.Children {
			segs = c.appendSegments(segs, child)
		}
		return segs
	default:
		return appendText(segs, element.PlainText([]element.Element{n}))
	}
}

// forwardNode renders a sub-message as a custom forward node. Its Author
// marker names the node; nodes without one are attributed to the bot.
func (c *Client) forwardNode(sub element.Message) Segment {
	name, uin := "", c.selfID
	var content []Segment
	for _, child := range sub.Children {
		if a, ok := child.(element.Author); ok && name == "" {
			name = firstNonEmpty(a.Name, a.ID)
			if _, err := strconv.ParseInt(a.ID, 10, 64); err == nil {
				uin = a.ID
			}
			continue
		}
		content = c.appendSegments(content, child)
	}
	if name == "" {
		name = uin
	}
	return Segment{Type: "node", Data: map[string]any{"name": name, "uin": uin, "content": content}}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
