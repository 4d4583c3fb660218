package downstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	pageSize    = 50
	channelLink = "https://www.youtube.com/channel/"
)

// YouTube implements API on the YouTube Data API v3.
type YouTube struct {
	endpoint   string
	httpClient *http.Client
}

var _ API = (*YouTube)(nil)

type YouTubeOption func(*YouTube)

// WithEndpoint points the client at a different API base URL, e.g. an httptest server.
func WithEndpoint(endpoint string) YouTubeOption {
	return func(y *YouTube) {
		y.endpoint = endpoint
	}
}

// WithHTTPClient sets the base client the per-user OAuth transport wraps.
func WithHTTPClient(client *http.Client) YouTubeOption {
	return func(y *YouTube) {
		y.httpClient = client
	}
}

func NewYouTube(options ...YouTubeOption) *YouTube {
	y := &YouTube{httpClient: http.DefaultClient}
	for _, opt := range options {
		opt(y)
	}
	return y
}

// service builds a client bound to one user's access token.
func (y *YouTube) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, y.httpClient), ts)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if y.endpoint != "" {
		opts = append(opts, option.WithEndpoint(y.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube client: %w", err)
	}
	return svc, nil
}

func (y *YouTube) ListSubscriptions(ctx context.Context, accessToken string) ([]Subscription, error) {
	svc, err := y.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var subs []Subscription
	pageToken := ""
	for {
		call := svc.Subscriptions.List([]string{"snippet"}).Mine(true).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, item := range resp.Items {
			subs = append(subs, toSubscription(item))
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	log.Debug().Int("count", len(subs)).Msg("subscriptions fetched")
	return subs, nil
}

func toSubscription(item *youtube.Subscription) Subscription {
	sub := Subscription{ID: item.Id}
	if item.Snippet == nil {
		return sub
	}
	sub.ChannelName = item.Snippet.Title
	if item.Snippet.ResourceId != nil {
		sub.ChannelID = item.Snippet.ResourceId.ChannelId
		sub.ChannelLink = channelLink + sub.ChannelID
	}
	if thumbs := item.Snippet.Thumbnails; thumbs != nil {
		switch {
		case thumbs.Medium != nil && thumbs.Medium.Url != "":
			sub.ChannelPicture = thumbs.Medium.Url
		case thumbs.Default != nil:
			sub.ChannelPicture = thumbs.Default.Url
		}
	}
	return sub
}

func (y *YouTube) DeleteSubscription(ctx context.Context, accessToken, subscriptionID string) error {
	svc, err := y.service(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := svc.Subscriptions.Delete(subscriptionID).Context(ctx).Do(); err != nil {
		return apperrors.Classify(apperrors.ErrDownstreamItem, fmt.Errorf("delete subscription %s: %w", subscriptionID, err))
	}
	return nil
}

// LatestUpload resolves the channel's uploads playlist and reads its newest item. Missing channels,
// empty playlists and 403/404 replies all mean "unknown" and return nil without error.
func (y *YouTube) LatestUpload(ctx context.Context, accessToken, channelID string) (*time.Time, error) {
	svc, err := y.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	channels, err := svc.Channels.List([]string{"contentDetails"}).Id(channelID).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return unknownOnMissing(channelID, err)
	}
	if len(channels.Items) == 0 {
		log.Debug().Str("channel", channelID).Msg("channel not found")
		return nil, nil
	}
	details := channels.Items[0].ContentDetails
	if details == nil || details.RelatedPlaylists == nil || details.RelatedPlaylists.Uploads == "" {
		log.Debug().Str("channel", channelID).Msg("channel has no uploads playlist")
		return nil, nil
	}

	items, err := svc.PlaylistItems.List([]string{"snippet"}).PlaylistId(details.RelatedPlaylists.Uploads).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return unknownOnMissing(channelID, err)
	}
	if len(items.Items) == 0 || items.Items[0].Snippet == nil || items.Items[0].Snippet.PublishedAt == "" {
		log.Debug().Str("channel", channelID).Msg("channel has no uploads")
		return nil, nil
	}

	published, err := time.Parse(time.RFC3339, items.Items[0].Snippet.PublishedAt)
	if err != nil {
		return nil, apperrors.Classify(apperrors.ErrDownstreamItem, fmt.Errorf("channel %s: bad publishedAt: %w", channelID, err))
	}
	return &published, nil
}

func unknownOnMissing(channelID string, err error) (*time.Time, error) {
	switch StatusCode(err) {
	case http.StatusNotFound, http.StatusForbidden:
		log.Debug().Err(err).Str("channel", channelID).Msg("channel uploads unavailable")
		return nil, nil
	}
	return nil, apperrors.Classify(apperrors.ErrDownstreamItem, fmt.Errorf("channel %s: %w", channelID, err))
}

func (y *YouTube) IsInsufficientPermissions(err error) bool {
	return IsInsufficientPermissions(err)
}
