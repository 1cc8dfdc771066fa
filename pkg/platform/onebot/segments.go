// Copyright 2024-2026 Aiku AI

package onebot

import (
	"github.com/tidwall/gjson"

	"github.com/aiku/relaybridge/pkg/element"
)

// AvatarURL returns the public avatar of a QQ account.
func AvatarURL(userID string) string {
	return "http://q.qlogo.cn/headimg_dl?dst_uin=" + userID + "&spec=640"
}

// ParseMessage converts a OneBot message (a segment array or a plain
// string) into elements. The id of a leading reply segment is returned
// separately since replies become the event's quote.
func ParseMessage(msg gjson.Result) (nodes []element.Element, replyID string) {
	if msg.Type == gjson.String {
		if s := msg.String(); s != "" {
			return []element.Element{element.NewText(s)}, ""
		}
		return nil, ""
	}
	for _, seg := range msg.Array() {
		data := seg.Get("data")
		switch seg.Get("type").String() {
		case "text":
			if t := data.Get("text").String(); t != "" {
				nodes = append(nodes, element.NewText(t))
			}
		case "at":
			nodes = append(nodes, element.Mention{ID: data.Get("qq").String(), Name: data.Get("name").String()})
		case "image":
			nodes = append(nodes, element.Image{URL: data.Get("url").String(), Name: data.Get("file").String()})
		case "face":
			nodes = append(nodes, element.Face{ID: data.Get("id").String(), Name: data.Get("raw.faceText").String()})
		case "mface":
			nodes = append(nodes, element.MarketFace{URL: data.Get("url").String(), Summary: data.Get("summary").String()})
		case "record":
			nodes = append(nodes, element.Audio{URL: data.Get("url").String(), Name: data.Get("file").String()})
		case "video":
			nodes = append(nodes, element.Video{URL: data.Get("url").String(), Name: data.Get("file").String()})
		case "file":
			name := data.Get("name").String()
			if name == "" {
				name = data.Get("file").String()
			}
			nodes = append(nodes, element.File{URL: data.Get("url").String(), Name: name, Size: data.Get("file_size").Int()})
		case "json":
			nodes = append(nodes, element.Card{Data: data.Get("data").String()})
		case "reply":
			if replyID == "" {
				replyID = data.Get("id").String()
			}
		case "forward":
			fwd := element.Forward{ID: data.Get("id").String()}
			if content := data.Get("content"); content.IsArray() {
				fwd.Messages = ParseForwardMessages(content)
			}
			nodes = append(nodes, fwd)
		}
	}
	return nodes, replyID
}

// ParseForwardMessages converts the nodes of a forward bundle, as returned
// by get_forward_msg or embedded in a forward segment, into sub-messages.
// Each sub-message starts with an Author marker for its sender.
func ParseForwardMessages(list gjson.Result) []element.Message {
	var out []element.Message
	for _, item := range list.Array() {
		sender := item.Get("sender")
		userID := sender.Get("user_id").String()
		name := sender.Get("nickname").String()
		if card := sender.Get("card").String(); card != "" {
			name = card
		}
		content := item.Get("message")
		if !content.Exists() {
			content = item.Get("content")
		}
		children, _ := ParseMessage(content)
		out = append(out, element.Message{
			Children: append([]element.Element{element.Author{ID: userID, Name: name, Avatar: AvatarURL(userID)}}, children...),
		})
	}
	return out
}
