// Copyright 2024-2026 Aiku AI

package platform

import (
	"strings"

	"github.com/aiku/relaybridge/pkg/element"
)

// Attachment is binary or linked media pulled out of an element tree.
type Attachment struct {
	Kind     element.Kind
	URL      string
	Data     []byte
	Name     string
	MimeType string
}

// Rendered is an element tree flattened for a markdown platform.
type Rendered struct {
	Text        string
	Attachments []Attachment
}

// MarkdownStyle holds the platform specific bits of markdown rendering.
type MarkdownStyle struct {
	// ChannelPrefix precedes channel mention names, "#" on Discord and "~"
	// on Mattermost.
	ChannelPrefix string
}

// RenderMarkdown flattens nodes into markdown text. Images with data are
// returned as attachments; images that only have a URL are linked inline.
// Forwarded bundles render as block quotes, one sub-message after another.
func RenderMarkdown(nodes []element.Element, style MarkdownStyle) Rendered {
	r := &renderer{style: style}
	r.write(nodes, 0)
	return Rendered{
		Text:        strings.TrimRight(r.sb.String(), "\n"),
		Attachments: r.attachments,
	}
}

type renderer struct {
	style       MarkdownStyle
	sb          strings.Builder
	attachments []Attachment
	lineStart   bool
	quoteDepth  int
}

func (r *renderer) writeString(s string) {
	for i, line := range strings.Split(s, "\n") {
		if i > 0 {
			r.sb.WriteByte('\n')
			r.lineStart = true
		}
		if line == "" {
			continue
		}
		if r.lineStart || r.sb.Len() == 0 {
			r.sb.WriteString(strings.Repeat("> ", r.quoteDepth))
			r.lineStart = false
		}
		r.sb.WriteString(line)
	}
}

func (r *renderer) newline() {
	r.sb.WriteByte('\n')
	r.lineStart = true
}

func (r *renderer) write(nodes []element.Element, depth int) {
	for _, n := range nodes {
		switch v := n.(type) {
		case element.Text:
			r.writeString(v.Content)
		case element.Break:
			r.newline()
		case element.Mention:
			r.writeString("@" + firstNonEmpty(v.Name, v.ID))
		case element.ChannelMention:
			r.writeString(r.style.ChannelPrefix + firstNonEmpty(v.Name, v.ID))
		case element.Author:
			r.writeString("**" + firstNonEmpty(v.Name, v.ID) + "**: ")
		case element.Image:
			if len(v.Data) > 0 {
				r.attachments = append(r.attachments, Attachment{
					Kind: element.KindImage, URL: v.URL, Data: v.Data, Name: v.Name, MimeType: v.MimeType,
				})
			} else if v.URL != "" {
				r.writeString(v.URL)
			}
		case element.Message:
			if v.Forward {
				r.writeBundle(v, depth)
			} else {
				r.write(v.Children, depth)
			}
		}
	}
}

// writeBundle renders a forwarded bundle: the header lines stay at the
// current level and every sub-message goes one quote level deeper.
func (r *renderer) writeBundle(bundle element.Message, depth int) {
	if !r.lineStart && r.sb.Len() > 0 {
		r.newline()
	}
	for _, child := range bundle.Children {
		sub, ok := child.(element.Message)
		if !ok || sub.Forward {
			r.write([]element.Element{child}, depth)
			continue
		}
		if !r.lineStart && r.sb.Len() > 0 {
			r.newline()
		}
		r.quoteDepth++
		r.write(sub.Children, depth+1)
		r.quoteDepth--
	}
	r.newline()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SplitText cuts s into chunks of at most limit runes, preferring to cut
// after a newline, then after a space.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	var chunks []string
	for len(runes) > limit {
		cut := limit
		if i := lastIndex(runes[:limit], '\n'); i > limit/2 {
			cut = i + 1
		} else if i := lastIndex(runes[:limit], ' '); i > limit/2 {
			cut = i + 1
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(chunks) == 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastIndex(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
