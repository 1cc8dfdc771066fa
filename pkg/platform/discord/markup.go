// Copyright 2024-2026 Aiku AI

package discord

import (
	"regexp"

	"github.com/bwmarrin/discordgo"

	"github.com/aiku/relaybridge/pkg/element"
)

// markupRegex matches user, channel and custom emoji markup. Role mentions
// are matched so they stay intact as text.
var markupRegex = regexp.MustCompile(`<(@!?|@&|#|a?:[A-Za-z0-9_~]+:)(\d+)>`)

// ParseContent splits Discord message content into text and markup
// elements. names maps user ids to display names for mentions.
func ParseContent(content string, names map[string]string) []element.Element {
	var nodes []element.Element
	last := 0
	for _, loc := range markupRegex.FindAllStringSubmatchIndex(content, -1) {
		if loc[0] > last {
			nodes = append(nodes, element.NewText(content[last:loc[0]]))
		}
		kind, id := content[loc[2]:loc[3]], content[loc[4]:loc[5]]
		switch {
		case kind == "@" || kind == "@!":
			nodes = append(nodes, element.Mention{ID: id, Name: names[id]})
		case kind == "#":
			nodes = append(nodes, element.ChannelMention{ID: id})
		case kind == "@&":
			nodes = append(nodes, element.NewText(content[loc[0]:loc[1]]))
		default:
			animated := kind[0] == 'a'
			name := kind[1 : len(kind)-1]
			if animated {
				name = kind[2 : len(kind)-1]
			}
			nodes = append(nodes, element.Emoji{ID: id, Name: name, URL: EmojiURL(id, animated), Animated: animated})
		}
		last = loc[1]
	}
	if last < len(content) {
		nodes = append(nodes, element.NewText(content[last:]))
	}
	return nodes
}

// EmojiURL returns the CDN image of a custom emoji.
func EmojiURL(id string, animated bool) string {
	if animated {
		return discordgo.EndpointEmojiAnimated(id)
	}
	return discordgo.EndpointEmoji(id)
}

// StickerURL returns the media URL of a sticker. Lottie stickers have no
// raster image and return "".
func StickerURL(st *discordgo.StickerItem) string {
	switch st.FormatType {
	case discordgo.StickerFormatTypeLottie:
		return ""
	case discordgo.StickerFormatTypeGIF:
		return "https://media.discordapp.net/stickers/" + st.ID + ".gif"
	default:
		return "https://media.discordapp.net/stickers/" + st.ID + ".png"
	}
}
