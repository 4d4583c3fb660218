package downstreamfake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/go-subs-manager/downstream"
	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
)

var _ downstream.API = (*FakeAPI)(nil)

// ErrInsufficientPermissions passed to FailList simulates a token without the YouTube scope.
var ErrInsufficientPermissions = errors.New("insufficient permissions")

// FakeAPI is an in-memory downstream.API keyed by access token.
type FakeAPI struct {
	subs        map[string][]downstream.Subscription
	uploads     map[string]*time.Time
	failDeletes map[string]bool
	failUploads map[string]error
	listErr     error
	uploadCalls map[string]int
	deleted     []string
	lock        sync.RWMutex
}

func NewFakeAPI() *FakeAPI {
	return &FakeAPI{
		subs:        make(map[string][]downstream.Subscription),
		uploads:     make(map[string]*time.Time),
		failDeletes: make(map[string]bool),
		failUploads: make(map[string]error),
		uploadCalls: make(map[string]int),
	}
}

// AddSubscription registers a subscription visible to accessToken, with an optional latest upload.
func (f *FakeAPI) AddSubscription(accessToken string, sub downstream.Subscription, latest *time.Time) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.subs[accessToken] = append(f.subs[accessToken], sub)
	if latest != nil {
		f.uploads[sub.ChannelID] = latest
	}
}

// FailDelete makes DeleteSubscription fail for id.
func (f *FakeAPI) FailDelete(id string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.failDeletes[id] = true
}

// FailUpload makes LatestUpload fail with err for channelID.
func (f *FakeAPI) FailUpload(channelID string, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.failUploads[channelID] = err
}

// FailList makes ListSubscriptions return err.
func (f *FakeAPI) FailList(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.listErr = err
}

// UploadCalls returns how many times LatestUpload was asked about channelID.
func (f *FakeAPI) UploadCalls(channelID string) int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.uploadCalls[channelID]
}

// Deleted returns the ids deleted so far.
func (f *FakeAPI) Deleted() []string {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return append([]string(nil), f.deleted...)
}

func (f *FakeAPI) ListSubscriptions(_ context.Context, accessToken string) ([]downstream.Subscription, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]downstream.Subscription(nil), f.subs[accessToken]...), nil
}

func (f *FakeAPI) DeleteSubscription(_ context.Context, accessToken, subscriptionID string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.failDeletes[subscriptionID] {
		return apperrors.Classify(apperrors.ErrDownstreamItem, errors.New("subscription not found"))
	}
	subs := f.subs[accessToken]
	for i, s := range subs {
		if s.ID == subscriptionID {
			f.subs[accessToken] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, subscriptionID)
	return nil
}

func (f *FakeAPI) LatestUpload(_ context.Context, _ string, channelID string) (*time.Time, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.uploadCalls[channelID]++
	if err := f.failUploads[channelID]; err != nil {
		return nil, apperrors.Classify(apperrors.ErrDownstreamItem, err)
	}
	return f.uploads[channelID], nil
}

func (f *FakeAPI) IsInsufficientPermissions(err error) bool {
	return errors.Is(err, ErrInsufficientPermissions)
}
