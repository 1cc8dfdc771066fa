// Copyright 2024-2026 Aiku AI

package matrix

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.mau.fi/util/exmime"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/relaybridge/pkg/element"
	"github.com/aiku/relaybridge/pkg/transform"
)

// session resolves mxc:// media, users and rooms for one event.
type session struct {
	client *Client
	roomID id.RoomID
}

var _ transform.Session = (*session)(nil)

func (s *session) Fetch(ctx context.Context, url string) (*transform.Media, error) {
	if !strings.HasPrefix(url, "mxc://") {
		base := transform.BaseSession{Fetcher: s.client.fetcher}
		return base.Fetch(ctx, url)
	}
	uri, err := id.ParseContentURI(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transform.ErrFetchFailed, err)
	}
	data, err := s.client.client.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %w", transform.ErrFetchFailed, url, err)
	}
	mimeType := http.DetectContentType(data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return &transform.Media{
		Data:     data,
		MimeType: mimeType,
		Name:     uri.FileID + exmime.ExtensionFromMimetype(mimeType),
	}, nil
}

// UserName prefers the room member name over the global profile.
func (s *session) UserName(ctx context.Context, userID string) (string, error) {
	var member event.MemberEventContent
	err := s.client.client.StateEvent(ctx, s.roomID, event.StateMember, userID, &member)
	if err == nil && member.Displayname != "" {
		return member.Displayname, nil
	}
	resp, err := s.client.client.GetDisplayName(ctx, id.UserID(userID))
	if err != nil {
		return "", fmt.Errorf("failed to get display name: %w", err)
	}
	return resp.DisplayName, nil
}

func (s *session) ChannelName(ctx context.Context, channelID string) (string, error) {
	var name event.RoomNameEventContent
	if err := s.client.client.StateEvent(ctx, id.RoomID(channelID), event.StateRoomName, "", &name); err != nil {
		return "", fmt.Errorf("failed to get room name: %w", err)
	}
	return name.Name, nil
}

func (s *session) ForwardMessages(_ context.Context, forwardID string) ([]element.Message, error) {
	return nil, fmt.Errorf("matrix has no forward bundles (%s)", forwardID)
}
