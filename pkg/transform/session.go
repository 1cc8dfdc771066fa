// Copyright 2024-2026 Aiku AI

package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"go.mau.fi/util/exmime"

	"github.com/aiku/relaybridge/pkg/element"
)

// ErrFetchFailed wraps every content fetch error.
var ErrFetchFailed = errors.New("content fetch failed")

// Media is a fetched binary payload.
type Media struct {
	Data     []byte
	MimeType string
	Name     string
}

// Fetcher retrieves binary content by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Media, error)
}

// Session exposes the source platform's lookups for the duration of one
// inbound message. Platform clients provide one per event.
type Session interface {
	Fetcher
	// UserName resolves a user id to a display name.
	UserName(ctx context.Context, userID string) (string, error)
	// ChannelName resolves a channel id to its name.
	ChannelName(ctx context.Context, channelID string) (string, error)
	// ForwardMessages resolves a forward bundle id into its sub-messages.
	ForwardMessages(ctx context.Context, forwardID string) ([]element.Message, error)
}

// BaseSession implements Session with HTTP fetching and no lookups. Platform
// sessions embed it and override what their platform supports.
type BaseSession struct {
	Fetcher Fetcher
}

var _ Session = (*BaseSession)(nil)

func (b *BaseSession) Fetch(ctx context.Context, url string) (*Media, error) {
	if b.Fetcher == nil {
		return nil, fmt.Errorf("%w: no fetcher configured", ErrFetchFailed)
	}
	return b.Fetcher.Fetch(ctx, url)
}

func (b *BaseSession) UserName(_ context.Context, userID string) (string, error) {
	return "", fmt.Errorf("user lookup not supported for %s", userID)
}

func (b *BaseSession) ChannelName(_ context.Context, channelID string) (string, error) {
	return "", fmt.Errorf("channel lookup not supported for %s", channelID)
}

func (b *BaseSession) ForwardMessages(_ context.Context, forwardID string) ([]element.Message, error) {
	return nil, fmt.Errorf("forward lookup not supported for %s", forwardID)
}

// DefaultMaxFetchSize caps downloaded payloads at 25 MiB, the Discord upload
// limit for unboosted servers.
const DefaultMaxFetchSize = 25 << 20

// HTTPFetcher downloads content over HTTP(S).
type HTTPFetcher struct {
	Client    *http.Client
	MaxSize   int64
	UserAgent string
}

// NewHTTPFetcher returns a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		MaxSize:   DefaultMaxFetchSize,
		UserAgent: "relaybridge/1.0",
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetchFailed, resp.StatusCode)
	}

	limit := f.MaxSize
	if limit <= 0 {
		limit = DefaultMaxFetchSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrFetchFailed, limit)
	}

	mimeType := resp.Header.Get("Content-Type")
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
		if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
			mimeType = parsed
		}
	}
	return &Media{
		Data:     data,
		MimeType: mimeType,
		Name:     fileNameFor(resp.Request.URL.Path, mimeType),
	}, nil
}

// fileNameFor derives an upload file name from a URL path, falling back to
// a generic name with an extension matching the mimetype.
func fileNameFor(urlPath, mimeType string) string {
	base := path.Base(urlPath)
	if base != "." && base != "/" && path.Ext(base) != "" {
		return base
	}
	ext := exmime.ExtensionFromMimetype(mimeType)
	kind, _, _ := strings.Cut(mimeType, "/")
	switch kind {
	case "image", "video", "audio":
		return kind + ext
	default:
		return "file" + ext
	}
}
