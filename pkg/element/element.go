// Copyright 2024-2026 Aiku AI

// Package element defines the platform-neutral message element tree that
// flows between the platform clients and the transformation engine.
//
// Every node is one of a closed set of concrete types, each reporting its
// [Kind]. Trees are built once and never mutated; transformations always
// produce new slices.
package element

import (
	"strings"
)

// Kind identifies the variant of an [Element].
type Kind int

const (
	KindText Kind = iota
	KindBreak
	KindMention
	KindChannelMention
	KindImage
	KindSticker
	KindEmoji
	KindFace
	KindMarketFace
	KindFile
	KindVideo
	KindAudio
	KindCard
	KindForward
	KindReply
	KindQuote
	KindAuthor
	KindMessage
)

var kindNames = [...]string{
	KindText:           "text",
	KindBreak:          "br",
	KindMention:        "at",
	KindChannelMention: "sharp",
	KindImage:          "img",
	KindSticker:        "sticker",
	KindEmoji:          "emoji",
	KindFace:           "face",
	KindMarketFace:     "mface",
	KindFile:           "file",
	KindVideo:          "video",
	KindAudio:          "audio",
	KindCard:           "json",
	KindForward:        "forward",
	KindReply:          "reply",
	KindQuote:          "quote",
	KindAuthor:         "author",
	KindMessage:        "message",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Element is a single node of a message tree.
type Element interface {
	Kind() Kind
}

// Text is a run of literal text.
type Text struct {
	Content string
}

// Break is a hard line break.
type Break struct{}

// Mention references a user. Name is filled when the source platform
// provides it inline.
type Mention struct {
	ID   string
	Name string
}

// ChannelMention references a channel by id.
type ChannelMention struct {
	ID   string
	Name string
}

// Image is either a remote image (URL) or an inline payload (Data).
type Image struct {
	URL      string
	Data     []byte
	MimeType string
	Name     string
	Width    int
	Height   int
}

// Sticker is a platform sticker. URL points at its rendered image.
type Sticker struct {
	ID   string
	Name string
	URL  string
}

// Emoji is a custom (non-unicode) emoji.
type Emoji struct {
	ID       string
	Name     string
	URL      string
	Animated bool
}

// Face is a built-in platform emoticon identified by number.
type Face struct {
	ID   string
	Name string
}

// MarketFace is a store-bought animated emoticon with a hosted image.
type MarketFace struct {
	URL     string
	Summary string
}

// File is a generic file attachment.
type File struct {
	URL  string
	Name string
	Size int64
}

// Video is a video attachment.
type Video struct {
	URL  string
	Name string
}

// Audio is a voice or audio attachment.
type Audio struct {
	URL  string
	Name string
}

// Card is a structured application card carrying a raw JSON payload.
type Card struct {
	Data string
}

// Forward is a bundle of forwarded messages. Messages is empty when the
// bundle must be resolved through the source platform by ID.
type Forward struct {
	ID       string
	Messages []Message
}

// Reply is an inline reply marker emitted by some platforms in addition to
// the message-level quote.
type Reply struct {
	ID string
}

// Quote references a message on the destination platform.
type Quote struct {
	ID string
}

// Author attributes the surrounding message to a user.
type Author struct {
	ID     string
	Name   string
	Avatar string
}

// Message is a container node. Forward marks the container as a bundle of
// sub-messages; otherwise it is one sub-message whose first child is
// usually an Author marker.
type Message struct {
	Forward  bool
	Children []Element
}

func (Text) Kind() Kind           { return KindText }
func (Break) Kind() Kind          { return KindBreak }
func (Mention) Kind() Kind        { return KindMention }
func (ChannelMention) Kind() Kind { return KindChannelMention }
func (Image) Kind() Kind          { return KindImage }
func (Sticker) Kind() Kind        { return KindSticker }
func (Emoji) Kind() Kind          { return KindEmoji }
func (Face) Kind() Kind           { return KindFace }
func (MarketFace) Kind() Kind     { return KindMarketFace }
func (File) Kind() Kind           { return KindFile }
func (Video) Kind() Kind          { return KindVideo }
func (Audio) Kind() Kind          { return KindAudio }
func (Card) Kind() Kind           { return KindCard }
func (Forward) Kind() Kind        { return KindForward }
func (Reply) Kind() Kind          { return KindReply }
func (Quote) Kind() Kind          { return KindQuote }
func (Author) Kind() Kind         { return KindAuthor }
func (Message) Kind() Kind        { return KindMessage }

// NewText is shorthand for a Text node.
func NewText(content string) Text {
	return Text{Content: content}
}

// Walk visits every node depth-first, including the sub-messages of
// Forward nodes and the children of Message nodes. Returning false from fn
// stops the descent into that node's children.
func Walk(nodes []Element, fn func(Element) bool) {
	for _, n := range nodes {
		if !fn(n) {
			continue
		}
		switch v := n.(type) {
		case Message:
			Walk(v.Children, fn)
		case Forward:
			for _, m := range v.Messages {
				if fn(m) {
					Walk(m.Children, fn)
				}
			}
		}
	}
}

// Count returns the number of nodes in the tree.
func Count(nodes []Element) int {
	n := 0
	Walk(nodes, func(Element) bool {
		n++
		return true
	})
	return n
}

// ForwardDepth returns the deepest nesting of forward bundles present in the
// tree. A flat message has depth 0.
func ForwardDepth(nodes []Element) int {
	deepest := 0
	for _, n := range nodes {
		var d int
		switch v := n.(type) {
		case Forward:
			d = 1
			for _, m := range v.Messages {
				d = max(d, 1+ForwardDepth(m.Children))
			}
		case Message:
			d = ForwardDepth(v.Children)
			if v.Forward {
				d++
			}
		}
		deepest = max(deepest, d)
	}
	return deepest
}

// PlainText flattens the tree into readable text. Non-text nodes render as
// nothing except breaks, mentions and channel mentions.
func PlainText(nodes []Element) string {
	var sb strings.Builder
	writePlain(&sb, nodes)
	return sb.String()
}

func writePlain(sb *strings.Builder, nodes []Element) {
	for _, n := range nodes {
		switch v := n.(type) {
		case Text:
			sb.WriteString(v.Content)
		case Break:
			sb.WriteByte('\n')
		case Mention:
			sb.WriteByte('@')
			sb.WriteString(nameOr(v.Name, v.ID))
		case ChannelMention:
			sb.WriteByte('#')
			sb.WriteString(nameOr(v.Name, v.ID))
		case Message:
			writePlain(sb, v.Children)
		}
	}
}

func nameOr(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

// Split separates the leading Quote and Author nodes from the content. The
// returned quote and author are nil when absent.
func Split(nodes []Element) (quote *Quote, author *Author, content []Element) {
	content = make([]Element, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case Quote:
			if quote == nil {
				q := v
				quote = &q
				continue
			}
		case Author:
			if author == nil {
				a := v
				author = &a
				continue
			}
		}
		content = append(content, n)
	}
	return quote, author, content
}
