package downstream

import (
	"context"
	"errors"
	"time"

	"google.golang.org/api/googleapi"
)

// Subscription is one channel subscription of the signed-in user.
type Subscription struct {
	ID             string `json:"subscriptionId"`
	ChannelID      string `json:"channelId"`
	ChannelName    string `json:"channelName"`
	ChannelPicture string `json:"channelPicture"`
	ChannelLink    string `json:"channelLink"`
}

// API is the downstream resource API acting with a user's delegated access token.
type API interface {
	ListSubscriptions(ctx context.Context, accessToken string) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, accessToken, subscriptionID string) error
	// LatestUpload returns the publish time of the channel's newest upload, or nil when unknown.
	LatestUpload(ctx context.Context, accessToken, channelID string) (*time.Time, error)
	IsInsufficientPermissions(err error) bool
}

// IsInsufficientPermissions reports a 403 caused by missing OAuth scopes.
func IsInsufficientPermissions(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 403 {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "insufficientPermissions" || item.Reason == "ACCESS_TOKEN_SCOPE_INSUFFICIENT" {
			return true
		}
	}
	for _, detail := range apiErr.Details {
		if m, ok := detail.(map[string]interface{}); ok && m["reason"] == "ACCESS_TOKEN_SCOPE_INSUFFICIENT" {
			return true
		}
	}
	return false
}

// StatusCode returns the HTTP status of a downstream error, or 0 when it did not come from the API.
func StatusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
