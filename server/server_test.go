package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-subs-manager/bulk"
	"github.com/jrsteele09/go-subs-manager/cache"
	"github.com/jrsteele09/go-subs-manager/dashboard"
	"github.com/jrsteele09/go-subs-manager/downstream"
	"github.com/jrsteele09/go-subs-manager/downstream/downstreamfake"
	"github.com/jrsteele09/go-subs-manager/internal/config"
	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/provider"
	"github.com/jrsteele09/go-subs-manager/quota"
	"github.com/jrsteele09/go-subs-manager/server"
	"github.com/jrsteele09/go-subs-manager/sessions"
	"github.com/jrsteele09/go-subs-manager/store/storefake"
	"github.com/jrsteele09/go-subs-manager/token/refresh"
	"github.com/stretchr/testify/require"
)

const (
	testSubject = "google-1"
	testAccess  = "access-1"
	testState   = "state-1"
)

type fakeProvider struct {
	tokens      provider.Tokens
	claims      provider.Claims
	exchangeErr error
	refreshed   provider.Tokens
	refreshErr  error
}

var _ provider.IdentityProvider = (*fakeProvider)(nil)

func (p *fakeProvider) AuthCodeURL(state, codeVerifier string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code, codeVerifier string) (provider.Tokens, error) {
	if p.exchangeErr != nil {
		return provider.Tokens{}, p.exchangeErr
	}
	return p.tokens, nil
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (provider.Tokens, error) {
	if p.refreshErr != nil {
		return provider.Tokens{}, p.refreshErr
	}
	return p.refreshed, nil
}

func (p *fakeProvider) DecodeIdentityClaims(_ context.Context, idToken string) (provider.Claims, error) {
	if idToken == "" {
		return provider.Claims{}, apperrors.ErrProviderAuth
	}
	return p.claims, nil
}

type testFixture struct {
	store    *storefake.FakeStore
	api      *downstreamfake.FakeAPI
	provider *fakeProvider
	sessions *sessions.Manager
	server   *server.Server
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("APP_NAME", "Subs Test")
	t.Setenv("MAX_SELECTION", "")

	cfg := config.New()
	fs := storefake.NewFakeStore()
	api := downstreamfake.NewFakeAPI()
	fp := &fakeProvider{
		tokens: provider.Tokens{
			AccessToken:   testAccess,
			RefreshToken:  "refresh-1",
			IDToken:       "id-token",
			Expiry:        time.Now().Add(time.Hour),
			GrantedScopes: []string{"openid", provider.ScopeYouTube},
		},
		claims: provider.Claims{Subject: testSubject, Name: "Test User"},
	}

	api.AddSubscription(testAccess, downstream.Subscription{ID: "sub-1", ChannelID: "chan-1", ChannelName: "One"}, nil)
	api.AddSubscription(testAccess, downstream.Subscription{ID: "sub-2", ChannelID: "chan-2", ChannelName: "Two"}, nil)

	mgr := sessions.NewManager(fs, 24*time.Hour, sessions.WithNowFunc(fs.Now))
	q := quota.NewLedger(fs, cfg.GetMaxSelection(), 24*time.Hour)
	c := cache.NewLedger(fs, 2*time.Hour)

	s, err := server.New(cfg, server.Deps{
		Sessions:  mgr,
		Refresher: refresh.NewCoordinator(fp, mgr, cfg),
		Provider:  fp,
		Dashboard: dashboard.NewService(api, q, c, bulk.NewOrchestrator(q, c, 4), 4),
		Store:     fs,
	})
	require.NoError(t, err)

	return &testFixture{store: fs, api: api, provider: fp, sessions: mgr, server: s}
}

// login creates a session directly and returns its cookie.
func (f *testFixture) login(t *testing.T, expiresAt time.Time) *http.Cookie {
	t.Helper()
	token, err := f.sessions.CreateOrReuse(context.Background(), sessions.Identity{
		ExternalAccountID: testSubject,
		DisplayName:       "Test User",
		Tokens: sessions.Tokens{
			AccessToken:          testAccess,
			RefreshToken:         "refresh-1",
			AccessTokenExpiresAt: expiresAt.Unix(),
		},
	})
	require.NoError(t, err)
	return &http.Cookie{Name: "session", Value: token.String()}
}

func (f *testFixture) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}

func deleteRequest(ids string) *http.Request {
	form := url.Values{"selectedSubscriptions": {ids}}
	req := httptest.NewRequest(http.MethodPost, server.RouteDashboardDelete, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := server.New(config.New(), server.Deps{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteHealth, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	f.store.FailWith(errors.New("connection refused"))
	rec = f.do(httptest.NewRequest(http.MethodGet, server.RouteHealth, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndex(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("anonymous", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"app":"Subs Test","user":null}`, rec.Body.String())
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("signed in slides the cookie", func(t *testing.T) {
		cookie := f.login(t, time.Now().Add(time.Hour))
		rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil), cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"app":"Subs Test","user":{"id":"google-1","name":"Test User"}}`, rec.Body.String())

		refreshed := responseCookie(rec, "session")
		require.NotNil(t, refreshed)
		require.Equal(t, cookie.Value, refreshed.Value)
		require.True(t, refreshed.HttpOnly)
		require.Equal(t, http.SameSiteLaxMode, refreshed.SameSite)
	})

	t.Run("unknown session clears the cookie", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil), &http.Cookie{Name: "session", Value: "nope"})
		require.Equal(t, http.StatusOK, rec.Code)
		cleared := responseCookie(rec, "session")
		require.NotNil(t, cleared)
		require.Equal(t, -1, cleared.MaxAge)
	})

	t.Run("unknown path", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLoginPage(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteLogin+"?error=youtube_permission_required", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var data server.LoginPageData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	require.Equal(t, server.RouteLoginGoogle, data.LoginURL)
	require.Equal(t, server.LoginErrorYouTubePermission, data.Error)
}

func TestGoogleLogin(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteLoginGoogle, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	state := responseCookie(rec, "google_oauth_state")
	verifier := responseCookie(rec, "google_code_verifier")
	require.NotNil(t, state)
	require.NotNil(t, verifier)
	require.True(t, state.HttpOnly)
	require.Equal(t, 600, state.MaxAge)
	require.NotEmpty(t, verifier.Value)
	require.Equal(t, f.provider.AuthCodeURL(state.Value, verifier.Value), rec.Header().Get("Location"))
}

func callbackRequest(code, state string) *http.Request {
	q := url.Values{}
	if code != "" {
		q.Set("code", code)
	}
	if state != "" {
		q.Set("state", state)
	}
	return httptest.NewRequest(http.MethodGet, server.RouteLoginGoogleCallback+"?"+q.Encode(), nil)
}

var flowCookies = []*http.Cookie{
	{Name: "google_oauth_state", Value: testState},
	{Name: "google_code_verifier", Value: "verifier-1"},
}

func TestGoogleCallback(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(callbackRequest("code-1", testState), flowCookies...)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, server.RouteDashboard, rec.Header().Get("Location"))

		cookie := responseCookie(rec, "session")
		require.NotNil(t, cookie)
		require.NotEmpty(t, cookie.Value)
		require.Equal(t, -1, responseCookie(rec, "google_oauth_state").MaxAge)
		require.Equal(t, -1, responseCookie(rec, "google_code_verifier").MaxAge)

		sess, err := f.sessions.Validate(context.Background(), cookie.Value)
		require.NoError(t, err)
		require.Equal(t, testSubject, sess.ExternalAccountID)
		require.Equal(t, testAccess, sess.AccessToken)
		require.Equal(t, "refresh-1", sess.RefreshToken)
	})

	t.Run("missing parameters", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(callbackRequest("", testState), flowCookies...)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/", rec.Header().Get("Location"))

		rec = f.do(callbackRequest("code-1", testState))
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("state mismatch", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(callbackRequest("code-1", "forged"), flowCookies...)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Nil(t, responseCookie(rec, "session"))
	})

	t.Run("exchange failure", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.exchangeErr = apperrors.ErrProviderAuth
		rec := f.do(callbackRequest("code-1", testState), flowCookies...)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Zero(t, f.store.Keys())
	})

	t.Run("youtube scope not granted", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.tokens.GrantedScopes = []string{"openid", "profile"}
		rec := f.do(callbackRequest("code-1", testState), flowCookies...)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, server.RouteLogin+"?error=youtube_permission_required", rec.Header().Get("Location"))
		require.Zero(t, f.store.Keys())
	})

	t.Run("replaces a session of another identity", func(t *testing.T) {
		f := setupTestFixture(t)
		previous, err := f.sessions.CreateOrReuse(context.Background(), sessions.Identity{
			ExternalAccountID: "google-2",
			Tokens:            sessions.Tokens{AccessToken: "access-2", AccessTokenExpiresAt: time.Now().Add(time.Hour).Unix()},
		})
		require.NoError(t, err)

		cookies := append([]*http.Cookie{{Name: "session", Value: previous.String()}}, flowCookies...)
		rec := f.do(callbackRequest("code-1", testState), cookies...)
		require.Equal(t, http.StatusFound, rec.Code)

		_, err = f.sessions.Validate(context.Background(), previous.String())
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("login again reuses the session", func(t *testing.T) {
		f := setupTestFixture(t)
		first := responseCookie(f.do(callbackRequest("code-1", testState), flowCookies...), "session")
		second := responseCookie(f.do(callbackRequest("code-2", testState), flowCookies...), "session")
		require.Equal(t, first.Value, second.Value)
		require.Equal(t, 2, f.store.Keys())
	})
}

func TestDashboard(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteDashboard, nil))
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, server.RouteLogin, rec.Header().Get("Location"))
	})

	t.Run("lists subscriptions", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie := f.login(t, time.Now().Add(time.Hour))

		rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteDashboard, nil), cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var view dashboard.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		require.Equal(t, 50, view.RemainingSubs)
		require.Len(t, view.Subscriptions, 2)
		require.Equal(t, "sub-1", view.Subscriptions[0].ID)
	})

	t.Run("refreshes an expired access token", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.refreshed = provider.Tokens{AccessToken: "access-2", Expiry: time.Now().Add(time.Hour)}
		f.api.AddSubscription("access-2", downstream.Subscription{ID: "sub-9", ChannelID: "chan-9"}, nil)
		cookie := f.login(t, time.Now().Add(-time.Minute))

		rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteDashboard, nil), cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var view dashboard.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		require.Len(t, view.Subscriptions, 1)
		require.Equal(t, "sub-9", view.Subscriptions[0].ID)

		sess, err := f.sessions.Validate(context.Background(), cookie.Value)
		require.NoError(t, err)
		require.Equal(t, "access-2", sess.AccessToken)
		require.Equal(t, "refresh-1", sess.RefreshToken)
	})

	t.Run("refresh failure sends the user to login", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.refreshErr = errors.New("invalid_grant")
		cookie := f.login(t, time.Now().Add(-time.Minute))

		rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteDashboard, nil), cookie)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, server.RouteLogin, rec.Header().Get("Location"))

		_, err := f.sessions.Validate(context.Background(), cookie.Value)
		require.NoError(t, err, "session is left intact")
	})

	t.Run("missing scope", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.FailList(downstreamfake.ErrInsufficientPermissions)
		cookie := f.login(t, time.Now().Add(time.Hour))

		rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteDashboard, nil), cookie)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, server.RouteLogin+"?error=youtube_permission_required", rec.Header().Get("Location"))
	})
}

func TestDeleteSubscriptions(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(deleteRequest("sub-1"))
		require.Equal(t, http.StatusFound, rec.Code)
		require.Empty(t, f.api.Deleted())
	})

	t.Run("empty selection", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(deleteRequest(" , ,"), f.login(t, time.Now().Add(time.Hour)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.JSONEq(t, `{"error":"No subscriptions selected."}`, rec.Body.String())
	})

	t.Run("over quota", func(t *testing.T) {
		f := setupTestFixture(t)
		ids := make([]string, 51)
		for i := range ids {
			ids[i] = "sub-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		}
		rec := f.do(deleteRequest(strings.Join(ids, ",")), f.login(t, time.Now().Add(time.Hour)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.JSONEq(t, `{"error":"You have selected more subscriptions than allowed!"}`, rec.Body.String())
		require.Empty(t, f.api.Deleted())
	})

	t.Run("partial failure", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.FailDelete("sub-2")
		cookie := f.login(t, time.Now().Add(time.Hour))

		rec := f.do(deleteRequest("sub-1, sub-2"), cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"success":true,"succeeded":["sub-1"],"failed":["sub-2"]}`, rec.Body.String())

		rec = f.do(httptest.NewRequest(http.MethodGet, server.RouteDashboard, nil), cookie)
		var view dashboard.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		require.Equal(t, 48, view.RemainingSubs)
	})
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	cookie := f.login(t, time.Now().Add(time.Hour))

	rec := f.do(httptest.NewRequest(http.MethodPost, server.RouteLogout, nil), cookie)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))
	require.Equal(t, -1, responseCookie(rec, "session").MaxAge)

	_, err := f.sessions.Validate(context.Background(), cookie.Value)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	require.Zero(t, f.store.Keys())
}

func TestLogoutRejectsGet(t *testing.T) {
	f := setupTestFixture(t)
	cookie := f.login(t, time.Now().Add(time.Hour))

	// A cross-site link or image is a top-level GET that carries the Lax cookie.
	rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteLogout, nil), cookie)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Nil(t, responseCookie(rec, "session"))

	_, err := f.sessions.Validate(context.Background(), cookie.Value)
	require.NoError(t, err)
}

func TestCorsAllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	f := setupTestFixture(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, server.RouteDashboardDelete, nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		return f.do(req)
	}

	rec := preflight("https://app.example.com")
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight("https://evil.example.com")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
