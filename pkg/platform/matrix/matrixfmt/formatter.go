// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixfmt converts Matrix message content to markdown text and
// element trees.
package matrixfmt

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/aiku/relaybridge/pkg/element"
)

var (
	strongRe     = regexp.MustCompile(`<(?:strong|b)>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`<(?:em|i)>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`<(?:del|s)>(.*?)</(?:del|s)>`)
	codeRe       = regexp.MustCompile(`<code>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre><code[^>]*>(.*?)</code></pre>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`<h([1-6])>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)

	replyRe = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	pillRe  = regexp.MustCompile(`<a href="https://matrix\.to/#/([^"?]+)[^"]*"[^>]*>(.*?)</a>`)
	tokenRe = regexp.MustCompile("\x00PILL(\\d+)\x00")
)

// ToMarkdown converts Matrix message content to markdown. Reply fallbacks
// are dropped.
func ToMarkdown(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return stripBodyFallback(content)
	}
	return htmlToMarkdown(replyRe.ReplaceAllString(content.FormattedBody, ""))
}

// Parse converts Matrix message content to elements. Matrix.to pills
// become mentions; newlines become breaks.
func Parse(content *event.MessageEventContent) []element.Element {
	if content == nil {
		return nil
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return splitLines(nil, stripBodyFallback(content))
	}

	var pills []element.Element
	formatted := strings.ReplaceAll(content.FormattedBody, "\x00", "")
	formatted = replyRe.ReplaceAllString(formatted, "")
	formatted = pillRe.ReplaceAllStringFunc(formatted, func(match string) string {
		parts := pillRe.FindStringSubmatch(match)
		target, err := url.PathUnescape(parts[1])
		if err != nil || target == "" || strings.Contains(target, "/") {
			// Event permalinks and broken paths stay ordinary links.
			return match
		}
		name := html.UnescapeString(tagRe.ReplaceAllString(parts[2], ""))
		var pill element.Element
		switch target[0] {
		case '@':
			pill = element.Mention{ID: target, Name: strings.TrimPrefix(name, "@")}
		case '#', '!':
			pill = element.ChannelMention{ID: target, Name: strings.TrimPrefix(name, "#")}
		default:
			return match
		}
		pills = append(pills, pill)
		return "\x00PILL" + strconv.Itoa(len(pills)-1) + "\x00"
	})
	text := htmlToMarkdown(formatted)

	var out []element.Element
	last := 0
	for _, loc := range tokenRe.FindAllStringSubmatchIndex(text, -1) {
		out = splitLines(out, text[last:loc[0]])
		idx, _ := strconv.Atoi(text[loc[2]:loc[3]])
		out = append(out, pills[idx])
		last = loc[1]
	}
	return splitLines(out, text[last:])
}

func splitLines(out []element.Element, text string) []element.Element {
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			out = append(out, element.Break{})
		}
		if line != "" {
			out = append(out, element.NewText(line))
		}
	}
	return out
}

// stripBodyFallback removes the quoted "> " lines plain text replies start
// with.
func stripBodyFallback(content *event.MessageEventContent) string {
	body := content.Body
	if content.RelatesTo == nil || content.RelatesTo.GetReplyTo() == "" || !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "> ") || line == ">" {
			continue
		}
		if line == "" {
			return strings.Join(lines[i+1:], "\n")
		}
		break
	}
	return body
}

func htmlToMarkdown(text string) string {
	// Code blocks first (preserve content inside).
	text = preRe.ReplaceAllString(text, "```\n$1\n```")
	text = codeRe.ReplaceAllString(text, "`$1`")

	text = strongRe.ReplaceAllString(text, "**$1**")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~~$1~~")

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		if parts[1] == parts[2] {
			return parts[1]
		}
		return "[" + parts[2] + "](" + parts[1] + ")"
	})

	text = headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		level := int(parts[1][0] - '0')
		return strings.Repeat("#", level) + " " + parts[2]
	})

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		inner := brRe.ReplaceAllString(parts[1], "\n")
		inner = pRe.ReplaceAllString(inner, "$1\n")
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n")
	})

	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for _, item := range items {
			result = append(result, "- "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})

	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for i, item := range items {
			result = append(result, strconv.Itoa(i+1)+". "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	return strings.TrimSpace(text)
}
