// Copyright 2024-2026 Aiku AI

package transform

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aiku/relaybridge/pkg/element"
)

// QQ application ids with a known card layout.
const (
	AppMiniApp   = "com.tencent.miniapp_01"
	AppStructMsg = "com.tencent.structmsg"
)

var errMalformedCard = errors.New("malformed card payload")

// CardSummary is the readable part of an application card.
type CardSummary struct {
	Tag         string
	Title       string
	Description string
	URL         string
	Preview     string
}

// ParseCard extracts a summary from a QQ card payload. It returns (nil, nil)
// for well-formed cards of an unrecognised application.
func ParseCard(data string) (*CardSummary, error) {
	if !gjson.Valid(data) {
		return nil, errMalformedCard
	}
	root := gjson.Parse(data)
	switch root.Get("app").String() {
	case AppMiniApp:
		detail := root.Get("meta.detail_1")
		return &CardSummary{
			Title:       detail.Get("title").String(),
			Description: detail.Get("desc").String(),
			URL:         detail.Get("qqdocurl").String(),
			Preview:     detail.Get("preview").String(),
		}, nil
	case AppStructMsg:
		view := root.Get("view").String()
		var meta gjson.Result
		root.Get("meta").ForEach(func(key, value gjson.Result) bool {
			if key.String() == view {
				meta = value
				return false
			}
			return true
		})
		if !meta.Exists() {
			return nil, errMalformedCard
		}
		return &CardSummary{
			Tag:         meta.Get("tag").String(),
			Title:       meta.Get("title").String(),
			Description: meta.Get("desc").String(),
			URL:         meta.Get("jumpUrl").String(),
			Preview:     meta.Get("preview").String(),
		}, nil
	default:
		return nil, nil
	}
}

// Text renders the summary as "[label] - heading" followed by the remaining
// non-empty lines.
func (cs *CardSummary) Text(label string) string {
	heading := cs.Title
	lines := []string{cs.Description, cs.URL}
	if cs.Tag != "" {
		heading = cs.Tag
		lines = []string{cs.Title, cs.Description, cs.URL}
	}
	var sb strings.Builder
	sb.WriteString("[" + label + "] - " + heading)
	for _, l := range lines {
		if l == "" {
			continue
		}
		sb.WriteByte('\n')
		sb.WriteString(l)
	}
	return sb.String()
}

// PreviewURL returns the preview image URL with a scheme.
func (cs *CardSummary) PreviewURL() string {
	p := cs.Preview
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
		return "https://" + strings.TrimPrefix(p, "//")
	}
	return p
}

// summarizeCard degrades a card into its text summary plus the re-hosted
// preview image. Unrecognised and malformed cards produce nothing.
func summarizeCard(ctx context.Context, c *Call, node element.Element) ([]element.Element, error) {
	card := node.(element.Card)
	summary, err := ParseCard(card.Data)
	if err != nil {
		c.log.Debug().Err(err).Msg("Dropping unparseable card")
		return nil, nil
	}
	if summary == nil {
		return nil, nil
	}
	out := text(summary.Text(c.Labels().Card))
	if preview := summary.PreviewURL(); preview != "" {
		media, err := c.Fetch(ctx, preview)
		if err != nil {
			c.log.Debug().Err(err).Str("url", preview).Msg("Failed to fetch card preview")
			return out, nil
		}
		out = append(out, element.Break{}, element.Image{
			URL:      preview,
			Data:     media.Data,
			MimeType: media.MimeType,
			Name:     media.Name,
		})
	}
	return out, nil
}
