// Copyright 2024-2026 Aiku AI

package transform

import (
	"context"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/relaybridge/pkg/element"
)

// Platform names understood by the built-in tables.
const (
	PlatformOneBot     = "onebot"
	PlatformDiscord    = "discord"
	PlatformMattermost = "mattermost"
	PlatformMatrix     = "matrix"
)

// Platforms lists every platform with a built-in table.
var Platforms = []string{PlatformOneBot, PlatformDiscord, PlatformMattermost, PlatformMatrix}

// forwardImageWidth is the display width given to images inside forwarded
// bundles.
const forwardImageWidth = 300

// NewDefaultEngine returns an engine with the built-in table of every
// source platform registered towards every platform.
func NewDefaultEngine(log zerolog.Logger, opts Options) *Engine {
	e := NewEngine(log, opts)
	sources := map[string]Table{
		PlatformOneBot:     OneBotTable(),
		PlatformDiscord:    DiscordTable(),
		PlatformMattermost: ChatTable(),
		PlatformMatrix:     ChatTable(),
	}
	for from, table := range sources {
		for _, to := range Platforms {
			e.Register(Direction{From: from, To: to}, table)
		}
	}
	return e
}

// OneBotTable converts QQ content (OneBot segments) for other platforms.
func OneBotTable() Table {
	return Table{
		element.KindText:       keep,
		element.KindBreak:      keep,
		element.KindAuthor:     keep,
		element.KindMessage:    transformMessage,
		element.KindMention:    mentionToText,
		element.KindImage:      rehostImage,
		element.KindMarketFace: rehostMarketFace,
		element.KindFace:       faceToText,
		element.KindFile:       fileToText,
		element.KindVideo:      videoToText,
		element.KindAudio:      audioToText,
		element.KindCard:       summarizeCard,
		element.KindForward:    expandForward,
	}
}

// DiscordTable converts Discord content for other platforms.
func DiscordTable() Table {
	return Table{
		element.KindText:           keep,
		element.KindBreak:          keep,
		element.KindAuthor:         keep,
		element.KindMessage:        transformMessage,
		element.KindMention:        mentionToText,
		element.KindChannelMention: channelToText,
		element.KindImage:          rehostImage,
		element.KindSticker:        rehostSticker,
		element.KindEmoji:          rehostEmoji,
		element.KindReply:          replyToText,
		element.KindFile:           fileToText,
		element.KindVideo:          videoToText,
		element.KindAudio:          audioToText,
		element.KindForward:        expandForward,
	}
}

// ChatTable converts content from markdown chat platforms (Mattermost,
// Matrix) for other platforms.
func ChatTable() Table {
	return Table{
		element.KindText:           keep,
		element.KindBreak:          keep,
		element.KindAuthor:         keep,
		element.KindMessage:        transformMessage,
		element.KindMention:        mentionToText,
		element.KindChannelMention: channelToText,
		element.KindImage:          rehostImage,
		element.KindEmoji:          rehostEmoji,
		element.KindFile:           fileToText,
		element.KindVideo:          videoToText,
		element.KindAudio:          audioToText,
	}
}

func keep(_ context.Context, _ *Call, node element.Element) ([]element.Element, error) {
	return []element.Element{node}, nil
}

func text(s string) []element.Element {
	return []element.Element{element.NewText(s)}
}

func transformMessage(ctx context.Context, c *Call, node element.Element) ([]element.Element, error) {
	msg := node.(element.Message)
	return []element.Element{element.Message{
		Forward:  msg.Forward,
		Children: c.Transform(ctx, msg.Children),
	}}, nil
}

// mentionToText renders "@name". Mentions without an inline name are
// resolved through the source platform.
func mentionToText(ctx context.Context, c *Call, node element.Element) ([]element.Element, error) {
	m := node.(element.Mention)
	name := m.Name
	if name == "" && m.ID != "" && c.session != nil {
		if resolved, err := c.session.UserName(ctx, m.ID); err == nil && resolved != "" {
			name = resolved
		} else if err != nil {
			c.log.Debug().Err(err).Str("user_id", m.ID).Msg("Failed to resolve mentioned user")
		}
	}
	if name == "" {
		name = m.ID
	}
	return text("@" + name), nil
}

func channelToText(ctx context.Context, c *Call, node element.Element) ([]element.Element, error) {
	ch := node.(element.ChannelMention)
	name := ch.Name
	if name == "" && ch.ID != "" && c.session != nil {
		if resolved, err := c.session.ChannelName(ctx, ch.ID); err == nil && resolved != "" {
			name = resolved
		} else if err != nil {
			c.log.Debug().Err(err).Str("channel_id", ch.ID).Msg("Failed to resolve mentioned channel")
		}
	}
	if name == "" {
		name = ch.ID
	}
	return text("#" + name), nil
}

// fetchImage downloads url into an inline image. On failure it returns the
// fallback placeholder instead.
func fetchImage(ctx context.Context, c *Call, url, name, fallback string) []element.Element {
	media, err := c.Fetch(ctx, url)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("Failed to fetch image, using placeholder")
		return text(fallback)
	}
	if name == "" {
		name = media.Name
	}
	img := element.Image{
		URL:      url,
		Data:     media.Data,
		MimeType: media.MimeType,
		Name:     name,
	}
	if c.Depth() > 0 {
		img.Width = forwardImageWidth
	}
	return []element.Element{img}
}

func rehostImage(ctx context.Context, c *Call, node element.Element) ([]element.Element, error) {
	img := node.(element.Image)
	if len(img.Data) > 0 {
		if c.Depth() > 0 && img.Width == 0 {
			img.Width = forwardImageWidth
		}
		return []element.Element{img}, nil
	}
	return fetchImage(ctx, c, img.URL, img.Name, placeholder(c.Labels().Image, "")), nil
}

func rehostMarketFace(ctx context.Context, c *Call, node element.Element) ([]element.Element, error) {
	mf := node.(element.MarketFace)
	fallback := mf.Summary
	if fallback == "" {
		fallback = placeholder(c.Labels().Face, "")
	}
	return fetchImage(ctx, c, mf.URL, "", fallback), nil
}

func rehostSticker(ctx context.Context, c *Call, node element.Element) ([]element.Element, error) {
	st := node.(element.Sticker)
	return fetchImage(ctx, c, st.URL, "", placeholder(c.Labels().Sticker, st.Name)), nil
}

func rehostEmoji(ctx context.Context, c *Call, node element.Element) ([]element.Element, error) {
	em := node.(element.Emoji)
	return fetchImage(ctx, c, em.URL, "", placeholder(c.Labels().Emoji, em.Name)), nil
}

func faceToText(_ context.Context, c *Call, node element.Element) ([]element.Element, error) {
	f := node.(element.Face)
	detail := f.Name
	if detail == "" {
		detail = f.ID
	}
	return text(placeholder(c.Labels().Face, detail)), nil
}

// fileToText classifies a file by extension: videos get the video label,
// everything else the file label.
func fileToText(_ context.Context, c *Call, node element.Element) ([]element.Element, error) {
	f := node.(element.File)
	name := f.Name
	if name == "" {
		name = path.Base(f.URL)
	}
	if isVideoFile(name) {
		return text(placeholder(c.Labels().Video, name)), nil
	}
	return text(placeholder(c.Labels().File, name)), nil
}

func isVideoFile(name string) bool {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "mp4", "mov", "mkv", "webm", "avi":
		return true
	default:
		return false
	}
}

func videoToText(_ context.Context, c *Call, node element.Element) ([]element.Element, error) {
	v := node.(element.Video)
	name := v.Name
	if name == "" && v.URL != "" {
		name = v.URL
	}
	return text(placeholder(c.Labels().Video, name)), nil
}

func audioToText(_ context.Context, c *Call, _ element.Element) ([]element.Element, error) {
	return text(placeholder(c.Labels().Voice, "")), nil
}

func replyToText(_ context.Context, c *Call, node element.Element) ([]element.Element, error) {
	r := node.(element.Reply)
	return []element.Element{
		element.NewText("[" + c.Labels().Reply + " " + r.ID + "]"),
		element.Break{},
	}, nil
}

// expandForward turns a forward bundle into a Message{Forward: true} whose
// first child is a header and whose other children are the converted
// sub-messages. Bundles without inline content are resolved through the
// session.
func expandForward(ctx context.Context, c *Call, node element.Element) ([]element.Element, error) {
	fwd := node.(element.Forward)
	header := element.NewText(placeholder(c.Labels().Forward, fwd.ID))

	nested, ok := c.Nested()
	if !ok {
		c.log.Debug().Str("forward_id", fwd.ID).Int("depth", c.Depth()).Msg("Forward depth limit reached")
		return []element.Element{header}, nil
	}

	messages := fwd.Messages
	if len(messages) == 0 {
		if c.session == nil || fwd.ID == "" {
			return []element.Element{header}, nil
		}
		var err error
		messages, err = c.session.ForwardMessages(ctx, fwd.ID)
		if err != nil {
			c.log.Warn().Err(err).Str("forward_id", fwd.ID).Msg("Failed to resolve forward bundle")
			return []element.Element{header}, nil
		}
	}

	children := make([]element.Element, 0, len(messages)+1)
	children = append(children, header)
	for _, msg := range messages {
		children = append(children, element.Message{
			Children: nested.Transform(ctx, msg.Children),
		})
	}
	return []element.Element{element.Message{Forward: true, Children: children}}, nil
}
