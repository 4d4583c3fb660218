package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-subs-manager/internal/config"
	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/provider"
	"github.com/jrsteele09/go-subs-manager/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// refreshTimeout bounds one shared refresh round trip, including the write back.
const refreshTimeout = 30 * time.Second

// Refresher exchanges a refresh token for new provider tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (provider.Tokens, error)
}

// TokenWriter persists refreshed tokens into a session record.
type TokenWriter interface {
	UpdateTokens(ctx context.Context, sessionID string, tokens sessions.Tokens) error
}

// Coordinator keeps a session's access token usable: it detects staleness, refreshes and persists.
type Coordinator struct {
	refresher     Refresher
	writer        TokenWriter
	buffer        time.Duration
	defaultExpiry time.Duration
	inflight      singleflight.Group
}

// NewCoordinator creates a new access token refresh coordinator
func NewCoordinator(refresher Refresher, writer TokenWriter, cfg config.OAuthConfig) *Coordinator {
	return &Coordinator{
		refresher:     refresher,
		writer:        writer,
		buffer:        cfg.GetAccessTokenRefreshBuffer(),
		defaultExpiry: cfg.GetDefaultAccessTokenExpiry(),
	}
}

// IsExpired reports whether an access token expiring at expiresAt (epoch seconds) is within the refresh buffer.
func (c *Coordinator) IsExpired(expiresAt int64) bool {
	return NowTimeFunc().Unix() >= expiresAt-int64(c.buffer/time.Second)
}

// Refresh obtains new tokens. The old refresh token is kept when the provider does not rotate it,
// and a missing expiry falls back to the default access token lifetime.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (sessions.Tokens, error) {
	if refreshToken == "" {
		return sessions.Tokens{}, fmt.Errorf("%w: session has no refresh token", apperrors.ErrRefresh)
	}

	fresh, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrRefresh) {
			return sessions.Tokens{}, err
		}
		return sessions.Tokens{}, apperrors.Classify(apperrors.ErrRefresh, err)
	}
	if fresh.AccessToken == "" {
		return sessions.Tokens{}, fmt.Errorf("%w: provider returned no access token", apperrors.ErrRefresh)
	}

	tokens := sessions.Tokens{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	if fresh.Expiry.IsZero() {
		tokens.AccessTokenExpiresAt = NowTimeFunc().Add(c.defaultExpiry).Unix()
	} else {
		tokens.AccessTokenExpiresAt = fresh.Expiry.Unix()
	}
	return tokens, nil
}

// EnsureFresh returns sess unchanged when its access token is still usable. Otherwise it refreshes,
// persists the new tokens and returns a copy carrying them. Concurrent calls for one session share
// a single provider round trip. A caller whose ctx ends stops waiting; the shared refresh carries on
// for the others.
func (c *Coordinator) EnsureFresh(ctx context.Context, sess *sessions.Session) (*sessions.Session, error) {
	if !c.IsExpired(sess.AccessTokenExpiresAt) {
		return sess, nil
	}

	flight := c.inflight.DoChan(sess.ID, func() (interface{}, error) {
		// Shared by every waiter, so it must not end with the first caller's request.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		tokens, err := c.Refresh(refreshCtx, sess.RefreshToken)
		if err != nil {
			return nil, err
		}
		if err := c.writer.UpdateTokens(refreshCtx, sess.ID, tokens); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
		}
		return tokens, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-flight:
	}
	if res.Err != nil {
		log.Warn().Err(res.Err).Str("identity", sess.ExternalAccountID).Msg("access token refresh failed")
		return nil, res.Err
	}

	refreshed := *sess
	refreshed.Tokens = res.Val.(sessions.Tokens)
	log.Debug().Str("identity", sess.ExternalAccountID).Bool("shared", res.Shared).Msg("access token refreshed")
	return &refreshed, nil
}
