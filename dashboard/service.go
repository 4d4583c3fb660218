package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-subs-manager/bulk"
	"github.com/jrsteele09/go-subs-manager/cache"
	"github.com/jrsteele09/go-subs-manager/downstream"
	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/quota"
	"github.com/jrsteele09/go-subs-manager/workerpool"
	"github.com/rs/zerolog/log"
)

// Entry is one subscription row of the dashboard.
type Entry struct {
	downstream.Subscription
	LastVideoPublishedAt *time.Time `json:"lastVideoPublishedAt"`
}

// View is everything the dashboard page shows.
type View struct {
	RemainingSubs int `json:"remainingSubs"`
	// SubsLockTimeReset is the number of seconds until the quota window closes, -1 when unknown.
	SubsLockTimeReset int64   `json:"subsLockTimeReset"`
	Subscriptions     []Entry `json:"subscriptions"`
}

type Service struct {
	api          downstream.API
	quota        *quota.Ledger
	cache        *cache.Ledger
	orchestrator *bulk.Orchestrator
	fanOut       int
}

func NewService(api downstream.API, q *quota.Ledger, c *cache.Ledger, o *bulk.Orchestrator, fanOutLimit int) *Service {
	return &Service{api: api, quota: q, cache: c, orchestrator: o, fanOut: fanOutLimit}
}

// Load builds the dashboard for identity. A failing subscription listing degrades to an empty view,
// except a missing YouTube scope which is returned as ErrInsufficientScope.
func (s *Service) Load(ctx context.Context, identity, accessToken string) (View, error) {
	remaining, err := s.quota.Remaining(ctx, identity)
	if err != nil {
		return View{}, err
	}
	resetIn, err := s.quota.ResetWindowRemaining(ctx, identity)
	if err != nil {
		return View{}, err
	}

	subs, err := s.api.ListSubscriptions(ctx, accessToken)
	if err != nil {
		if s.api.IsInsufficientPermissions(err) {
			return View{}, apperrors.Classify(apperrors.ErrInsufficientScope, err)
		}
		log.Err(err).Str("identity", identity).Msg("failed to list subscriptions")
		return View{RemainingSubs: 0, SubsLockTimeReset: -1, Subscriptions: []Entry{}}, nil
	}

	channelOf := make(map[string]string, len(subs))
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		channelOf[sub.ID] = sub.ChannelID
		ids = append(ids, sub.ID)
	}

	latest, err := s.cache.Reconcile(ctx, identity, ids, func(ctx context.Context, missing []string) (map[string]*time.Time, error) {
		return s.fetchLatestUploads(ctx, accessToken, missing, channelOf), nil
	})
	if err != nil {
		return View{}, err
	}

	entries := make([]Entry, 0, len(subs))
	for _, sub := range subs {
		entries = append(entries, Entry{Subscription: sub, LastVideoPublishedAt: latest[sub.ID]})
	}

	return View{
		RemainingSubs:     remaining,
		SubsLockTimeReset: int64(resetIn / time.Second),
		Subscriptions:     entries,
	}, nil
}

// fetchLatestUploads looks up the newest upload for each subscription. Per-item failures become unknown.
func (s *Service) fetchLatestUploads(ctx context.Context, accessToken string, subscriptionIDs []string, channelOf map[string]string) map[string]*time.Time {
	outcomes := workerpool.Run(ctx, s.fanOut, subscriptionIDs, func(ctx context.Context, id string) (*time.Time, error) {
		return s.api.LatestUpload(ctx, accessToken, channelOf[id])
	})

	out := make(map[string]*time.Time, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			log.Warn().Err(o.Err).Str("subscription", o.Item).Msg("latest upload lookup failed")
			continue
		}
		out[o.Item] = o.Result
	}
	return out
}

// Delete unsubscribes identity from ids, subject to the quota.
func (s *Service) Delete(ctx context.Context, identity, accessToken string, ids []string) (bulk.Result, error) {
	if len(ids) == 0 {
		return bulk.Result{}, fmt.Errorf("%w: no subscriptions selected", apperrors.ErrValidation)
	}
	return s.orchestrator.Execute(ctx, identity, ids, func(ctx context.Context, id string) error {
		return s.api.DeleteSubscription(ctx, accessToken, id)
	})
}
