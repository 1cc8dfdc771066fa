// Copyright 2024-2026 Aiku AI

// Package htmlfmt renders element trees and markdown as Matrix HTML.
package htmlfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/platform"
)

// ParsedMessage holds the body of a Matrix text message.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
	RelatesTo     *event.RelatesTo
}

// Content builds the event content for msgType.
func (p *ParsedMessage) Content(msgType event.MessageType) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       msgType,
		Body:          p.Body,
		Format:        p.Format,
		FormattedBody: p.FormattedBody,
		RelatesTo:     p.RelatesTo,
	}
}

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`(?:^|[^*\w])_(.+?)_(?:[^*\w]|$)`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	ulRe         = regexp.MustCompile(`(?m)^[-*]\s+(.+)$`)
	olRe         = regexp.MustCompile(`(?m)^\d+\.\s+(.+)$`)
	blockquoteRe = regexp.MustCompile(`(?m)^>\s+(.+)$`)
	pillTokenRe  = regexp.MustCompile("\x00PILL(\\d+)\x00")
)

var markdownStyle = platform.MarkdownStyle{ChannelPrefix: "#"}

type pill struct {
	userID string
	name   string
}

// Render flattens nodes into a Matrix text message. Mentions of Matrix users
// become pills and a quote becomes a reply relation. Images that carry data
// are returned for upload as separate events.
func Render(nodes []element.Element) (*ParsedMessage, []platform.Attachment) {
	quote, _, content := element.Split(nodes)
	var pills []pill
	content = replaceMentions(content, &pills)
	rendered := platform.RenderMarkdown(content, markdownStyle)

	parsed := FromMarkdown(rendered.Text)
	if len(pills) > 0 {
		if parsed.Format != event.FormatHTML {
			parsed.Format = event.FormatHTML
			parsed.FormattedBody = strings.ReplaceAll(html.EscapeString(parsed.Body), "\n", "<br/>")
		}
		parsed.Body = pillTokenRe.ReplaceAllStringFunc(parsed.Body, func(match string) string {
			p, _ := pillAt(pills, match)
			return p.name
		})
		parsed.FormattedBody = pillTokenRe.ReplaceAllStringFunc(parsed.FormattedBody, func(match string) string {
			p, ok := pillAt(pills, match)
			if !ok {
				return ""
			}
			return `<a href="https://matrix.to/#/` + html.EscapeString(p.userID) + `">` + html.EscapeString(p.name) + `</a>`
		})
	}
	if quote != nil {
		parsed.RelatesTo = (&event.RelatesTo{}).SetReplyTo(id.EventID(quote.ID))
	}
	return parsed, rendered.Attachments
}

func pillAt(pills []pill, token string) (pill, bool) {
	idx, err := strconv.Atoi(pillTokenRe.FindStringSubmatch(token)[1])
	if err != nil || idx >= len(pills) {
		return pill{}, false
	}
	return pills[idx], true
}

// replaceMentions swaps mentions of Matrix users for pill placeholders,
// descending into forwarded bundles.
func replaceMentions(nodes []element.Element, pills *[]pill) []element.Element {
	out := make([]element.Element, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case element.Text:
			out = append(out, element.NewText(strings.ReplaceAll(v.Content, "\x00", "")))
		case element.Mention:
			if !isUserID(v.ID) {
				out = append(out, v)
				continue
			}
			name := v.Name
			if name == "" {
				name = v.ID
			}
			*pills = append(*pills, pill{userID: v.ID, name: name})
			out = append(out, element.NewText("\x00PILL"+strconv.Itoa(len(*pills)-1)+"\x00"))
		case element.Message:
			out = append(out, element.Message{Forward: v.Forward, Children: replaceMentions(v.Children, pills)})
		default:
			out = append(out, n)
		}
	}
	return out
}

func isUserID(s string) bool {
	return strings.HasPrefix(s, "@") && strings.Contains(s, ":")
}

// codeBlock holds extracted code block data.
type codeBlock struct {
	lang    string
	content string
}

// FromMarkdown converts markdown text to a Matrix message body. Text without
// any formatting stays plain.
func FromMarkdown(text string) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}

	hasFormatting := boldRe.MatchString(text) ||
		italicRe.MatchString(text) ||
		strikeRe.MatchString(text) ||
		codeRe.MatchString(text) ||
		codeBlockRe.MatchString(text) ||
		linkRe.MatchString(text) ||
		headingRe.MatchString(text) ||
		blockquoteRe.MatchString(text) ||
		ulRe.MatchString(text) ||
		olRe.MatchString(text)

	if !hasFormatting {
		return &ParsedMessage{Body: text}
	}

	// Step 1: Extract code blocks into placeholders.
	var codeBlocks []codeBlock
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		idx := len(codeBlocks)
		codeBlocks = append(codeBlocks, codeBlock{lang: parts[1], content: parts[2]})
		return "\x00CODEBLOCK" + strconv.Itoa(idx) + "\x00"
	})

	// Step 2: Structural elements, line by line. Consecutive quote lines
	// share one blockquote.
	var result []string
	var blockType string
	var blockItems []string

	flush := func() {
		if len(blockItems) == 0 {
			return
		}
		if blockType == "blockquote" {
			result = append(result, "<blockquote>"+strings.Join(blockItems, "<br/>")+"</blockquote>")
		} else {
			result = append(result, "<"+blockType+">"+strings.Join(blockItems, "")+"</"+blockType+">")
		}
		blockItems = nil
		blockType = ""
	}
	open := func(kind, item string) {
		if blockType != kind {
			flush()
			blockType = kind
		}
		blockItems = append(blockItems, item)
	}

	for _, line := range strings.Split(processed, "\n") {
		if m := blockquoteRe.FindStringSubmatch(line); m != nil {
			open("blockquote", html.EscapeString(m[1]))
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			lvl := strconv.Itoa(len(m[1]))
			result = append(result, "<h"+lvl+">"+html.EscapeString(m[2])+"</h"+lvl+">")
			continue
		}
		if m := ulRe.FindStringSubmatch(line); m != nil {
			open("ul", "<li>"+html.EscapeString(m[1])+"</li>")
			continue
		}
		if m := olRe.FindStringSubmatch(line); m != nil {
			open("ol", "<li>"+html.EscapeString(m[1])+"</li>")
			continue
		}
		flush()
		result = append(result, html.EscapeString(line))
	}
	flush()

	formatted := strings.Join(result, "\n")

	// Step 3: Inline formatting.
	formatted = codeRe.ReplaceAllString(formatted, "<code>$1</code>")
	formatted = boldRe.ReplaceAllString(formatted, "<strong>$1</strong>")
	formatted = italicRe.ReplaceAllStringFunc(formatted, func(match string) string {
		start := strings.Index(match, "_")
		end := strings.LastIndex(match, "_")
		return match[:start] + "<em>" + match[start+1:end] + "</em>" + match[end+1:]
	})
	formatted = strikeRe.ReplaceAllString(formatted, "<del>$1</del>")

	// Links, only with safe URL schemes.
	formatted = linkRe.ReplaceAllStringFunc(formatted, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		lower := strings.ToLower(strings.TrimSpace(href))
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			return `<a href="` + href + `">` + label + `</a>`
		}
		return label
	})

	// Step 4: Restore code blocks with language hints.
	for i, cb := range codeBlocks {
		placeholder := "\x00CODEBLOCK" + strconv.Itoa(i) + "\x00"
		escaped := html.EscapeString(cb.content)
		replacement := `<pre><code>` + escaped + `</code></pre>`
		if cb.lang != "" {
			replacement = `<pre><code class="language-` + html.EscapeString(cb.lang) + `">` + escaped + `</code></pre>`
		}
		formatted = strings.Replace(formatted, placeholder, replacement, 1)
	}

	// Step 5: Paragraphs and line breaks.
	formatted = strings.ReplaceAll(formatted, "\n\n", "</p><p>")
	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")
	if strings.Contains(formatted, "</p><p>") {
		formatted = "<p>" + formatted + "</p>"
	}

	return &ParsedMessage{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}
