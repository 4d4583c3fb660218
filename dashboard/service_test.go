package dashboard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/go-subs-manager/bulk"
	"github.com/jrsteele09/go-subs-manager/cache"
	"github.com/jrsteele09/go-subs-manager/dashboard"
	"github.com/jrsteele09/go-subs-manager/downstream"
	"github.com/jrsteele09/go-subs-manager/downstream/downstreamfake"
	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/quota"
	"github.com/jrsteele09/go-subs-manager/store/storefake"
	"github.com/stretchr/testify/require"
)

const (
	testIdentity = "google-1"
	testToken    = "access-1"
)

var published = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testFixture struct {
	store   *storefake.FakeStore
	api     *downstreamfake.FakeAPI
	quota   *quota.Ledger
	service *dashboard.Service
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	fs := storefake.NewFakeStore()
	api := downstreamfake.NewFakeAPI()
	q := quota.NewLedger(fs, 50, 24*time.Hour)
	c := cache.NewLedger(fs, 2*time.Hour)

	api.AddSubscription(testToken, downstream.Subscription{ID: "sub-1", ChannelID: "chan-1", ChannelName: "One"}, &published)
	api.AddSubscription(testToken, downstream.Subscription{ID: "sub-2", ChannelID: "chan-2", ChannelName: "Two"}, nil)

	return &testFixture{
		store:   fs,
		api:     api,
		quota:   q,
		service: dashboard.NewService(api, q, c, bulk.NewOrchestrator(q, c, 4), 4),
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	view, err := f.service.Load(ctx, testIdentity, testToken)
	require.NoError(t, err)
	require.Equal(t, 50, view.RemainingSubs)
	require.EqualValues(t, 24*60*60, view.SubsLockTimeReset)
	require.Len(t, view.Subscriptions, 2)
	require.Equal(t, "sub-1", view.Subscriptions[0].ID)
	require.True(t, view.Subscriptions[0].LastVideoPublishedAt.Equal(published))
	require.Nil(t, view.Subscriptions[1].LastVideoPublishedAt)

	_, err = f.service.Load(ctx, testIdentity, testToken)
	require.NoError(t, err)
	require.Equal(t, 1, f.api.UploadCalls("chan-1"), "second load is served from cache")
	require.Equal(t, 1, f.api.UploadCalls("chan-2"))
}

func TestLoadLookupFailureIsUnknown(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	later := published.Add(48 * time.Hour)
	f.api.AddSubscription(testToken, downstream.Subscription{ID: "sub-3", ChannelID: "chan-3", ChannelName: "Three"}, &later)
	f.api.AddSubscription(testToken, downstream.Subscription{ID: "sub-4", ChannelID: "chan-4", ChannelName: "Four"}, &later)
	f.api.FailUpload("chan-4", errors.New("quotaExceeded"))

	view, err := f.service.Load(ctx, testIdentity, testToken)
	require.NoError(t, err)
	require.Len(t, view.Subscriptions, 4)
	require.True(t, view.Subscriptions[0].LastVideoPublishedAt.Equal(published))
	require.Nil(t, view.Subscriptions[1].LastVideoPublishedAt)
	require.True(t, view.Subscriptions[2].LastVideoPublishedAt.Equal(later))
	require.Nil(t, view.Subscriptions[3].LastVideoPublishedAt, "failed lookup is unknown")

	raw, err := f.store.HashGetAll(ctx, "cache:"+testIdentity)
	require.NoError(t, err)
	require.Equal(t, "null", raw["sub-4"])

	_, err = f.service.Load(ctx, testIdentity, testToken)
	require.NoError(t, err)
	require.Equal(t, 1, f.api.UploadCalls("chan-4"), "the failure is cached until the TTL elapses")
	require.Equal(t, 1, f.api.UploadCalls("chan-3"))
}

func TestLoadDegradesOnListFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.api.FailList(errors.New("backend error"))

	view, err := f.service.Load(context.Background(), testIdentity, testToken)
	require.NoError(t, err)
	require.Equal(t, dashboard.View{RemainingSubs: 0, SubsLockTimeReset: -1, Subscriptions: []dashboard.Entry{}}, view)
}

func TestLoadInsufficientScope(t *testing.T) {
	f := setupTestFixture(t)
	f.api.FailList(downstreamfake.ErrInsufficientPermissions)

	_, err := f.service.Load(context.Background(), testIdentity, testToken)
	require.ErrorIs(t, err, apperrors.ErrInsufficientScope)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	_, err := f.service.Load(ctx, testIdentity, testToken)
	require.NoError(t, err)

	f.api.FailDelete("sub-2")
	result, err := f.service.Delete(ctx, testIdentity, testToken, []string{"sub-1", "sub-2"})
	require.NoError(t, err)
	require.Equal(t, bulk.Result{Succeeded: []string{"sub-1"}, Failed: []string{"sub-2"}}, result)
	require.Equal(t, []string{"sub-1"}, f.api.Deleted())

	view, err := f.service.Load(ctx, testIdentity, testToken)
	require.NoError(t, err)
	require.Equal(t, 48, view.RemainingSubs)
	require.Len(t, view.Subscriptions, 1)
	require.Equal(t, 2, f.api.UploadCalls("chan-2"), "invalidated entry is fetched again")
}

func TestDeleteValidation(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.Delete(context.Background(), testIdentity, testToken, nil)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	many := make([]string, 51)
	for i := range many {
		many[i] = "x"
	}
	_, err = f.service.Delete(context.Background(), testIdentity, testToken, many)
	require.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
	require.Empty(t, f.api.Deleted())
}
