package main

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-subs-manager/bulk"
	"github.com/jrsteele09/go-subs-manager/cache"
	"github.com/jrsteele09/go-subs-manager/dashboard"
	"github.com/jrsteele09/go-subs-manager/downstream"
	"github.com/jrsteele09/go-subs-manager/internal/config"
	"github.com/jrsteele09/go-subs-manager/provider"
	"github.com/jrsteele09/go-subs-manager/quota"
	"github.com/jrsteele09/go-subs-manager/server"
	"github.com/jrsteele09/go-subs-manager/sessions"
	"github.com/jrsteele09/go-subs-manager/store/redisstore"
	"github.com/jrsteele09/go-subs-manager/token/refresh"
	"github.com/rs/zerolog/log"
)

// app holds the wired services of one process.
type app struct {
	store  *redisstore.Store
	quota  *quota.Ledger
	server *server.Server
}

func openStore(ctx context.Context, c config.StoreConfig) (*redisstore.Store, error) {
	return redisstore.New(ctx, redisstore.Config{
		Addr:      c.GetRedisAddr(),
		Username:  c.GetRedisUsername(),
		Password:  c.GetRedisPassword(),
		DB:        c.GetRedisDB(),
		KeyPrefix: c.GetStoreKeyPrefix(),
	})
}

func newQuotaLedger(s *redisstore.Store, c config.QuotaConfig) *quota.Ledger {
	return quota.NewLedger(s, c.GetMaxSelection(), c.GetQuotaWindow())
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	s, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}

	var sessionOpts []sessions.ManagerOption
	if c.GetHashSessionSecrets() {
		key := c.GetSessionSecretKey()
		if key == "" {
			_ = s.Close()
			return nil, errors.New("SESSION_SECRET_KEY is required when SESSION_HASH_SECRETS is set")
		}
		sessionOpts = append(sessionOpts, sessions.WithHashedSecrets([]byte(key)))
	}
	mgr := sessions.NewManager(s, c.GetSessionLifetime(), sessionOpts...)

	google, err := provider.New(ctx, provider.Config{
		ClientID:      c.GetGoogleClientID(),
		ClientSecret:  c.GetGoogleClientSecret(),
		RedirectURL:   c.GetGoogleRedirectURI(),
		Issuer:        c.GetGoogleIssuer(),
		VerifyIDToken: c.GetVerifyIDToken(),
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	q := newQuotaLedger(s, c)
	ch := cache.NewLedger(s, c.GetCacheTTL())
	fanOut := c.GetFanOutLimit()
	svc := dashboard.NewService(downstream.NewYouTube(), q, ch, bulk.NewOrchestrator(q, ch, fanOut), fanOut)

	srv, err := server.New(c, server.Deps{
		Sessions:  mgr,
		Refresher: refresh.NewCoordinator(google, mgr, c),
		Provider:  google,
		Dashboard: svc,
		Store:     s,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	log.Info().
		Str("env", c.GetEnv()).
		Bool("hashed_sessions", mgr.HashedSecrets()).
		Stringer("allowed_origins", c.GetAllowedOrigins()).
		Int("max_selection", q.Max()).
		Msg("services wired")

	return &app{store: s, quota: q, server: srv}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Err(err).Msg("failed to close store")
	}
}
