package server

import (
	"context"
	"net/http"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/sessions"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the validated *sessions.Session
	ContextKeySession ContextKey = "session"
)

func withSession(ctx context.Context, sess *sessions.Session) context.Context {
	return context.WithValue(ctx, ContextKeySession, sess)
}

// SessionFromContext returns the session loaded for this request, or nil.
func SessionFromContext(ctx context.Context) *sessions.Session {
	sess, _ := ctx.Value(ContextKeySession).(*sessions.Session)
	return sess
}

// LoadSession validates the session cookie on every request. A valid session slides its
// expiry and re-sets the cookie; an invalid one clears it. Either way the request continues.
func (s *Server) LoadSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := cookieValue(r, sessionCookieName)
		if raw == "" {
			next(w, r)
			return
		}

		sess, err := s.sessions.Validate(r.Context(), raw)
		switch {
		case err == nil:
			s.SetSessionCookie(w, r, raw)
			r = r.WithContext(withSession(r.Context(), sess))
		case apperrors.Is(err, apperrors.ErrSessionNotFound):
			s.DeleteSessionCookie(w, r)
		default:
			// Store trouble: treat the request as anonymous but keep the cookie for the next attempt
			log.Ctx(r.Context()).Err(err).Msg("session validation failed")
		}
		next(w, r)
	}
}

// RequireSession sends anonymous requests to the login page and makes sure the access
// token is usable before the handler runs. Chain it after LoadSession.
func (s *Server) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := SessionFromContext(r.Context())
		if sess == nil {
			http.Redirect(w, r, RouteLogin, http.StatusFound)
			return
		}

		fresh, err := s.refresher.EnsureFresh(r.Context(), sess)
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Str("identity", sess.ExternalAccountID).Msg("session needs a new login")
			http.Redirect(w, r, RouteLogin, http.StatusFound)
			return
		}

		next(w, r.WithContext(withSession(r.Context(), fresh)))
	}
}
