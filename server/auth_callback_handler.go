package server

import (
	"net/http"
	"time"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/provider"
	"github.com/jrsteele09/go-subs-manager/sessions"
	"github.com/rs/zerolog/log"
)

// GoogleCallbackHandler completes the login: it checks the state, exchanges the code,
// creates or reuses the identity's session and sets the session cookie.
func (s *Server) GoogleCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.Ctx(r.Context())

		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		storedState := cookieValue(r, stateCookieName)
		codeVerifier := cookieValue(r, verifierCookieName)

		if code == "" || state == "" || storedState == "" || codeVerifier == "" {
			http.Redirect(w, r, RouteIndex, http.StatusFound)
			return
		}

		// The flow cookies are single use
		deleteCookie(w, r, stateCookieName)
		deleteCookie(w, r, verifierCookieName)

		if state != storedState {
			writeJSONError(w, http.StatusBadRequest, "Invalid state parameter")
			return
		}

		tokens, err := s.provider.Exchange(r.Context(), code, codeVerifier)
		if err != nil {
			logger.Err(err).Msg("token exchange failed")
			writeJSONError(w, http.StatusBadRequest, "Token exchange failed")
			return
		}

		claims, err := s.provider.DecodeIdentityClaims(r.Context(), tokens.IDToken)
		if err != nil {
			logger.Err(err).Msg("failed to decode identity claims")
			writeJSONError(w, http.StatusBadRequest, "Invalid identity token")
			return
		}

		if !tokens.HasScope(provider.ScopeYouTube) {
			logger.Info().Str("identity", claims.Subject).Msg("youtube scope not granted")
			redirectWithError(w, r, RouteLogin, LoginErrorYouTubePermission)
			return
		}

		s.dropForeignSession(r, claims.Subject)

		expiry := tokens.Expiry
		if expiry.IsZero() {
			expiry = time.Now().Add(s.config.GetDefaultAccessTokenExpiry())
		}

		token, err := s.sessions.CreateOrReuse(r.Context(), sessions.Identity{
			ExternalAccountID: claims.Subject,
			DisplayName:       claims.Name,
			Tokens: sessions.Tokens{
				AccessToken:          tokens.AccessToken,
				RefreshToken:         tokens.RefreshToken,
				AccessTokenExpiresAt: expiry.Unix(),
			},
		})
		if err != nil {
			if apperrors.Is(err, apperrors.ErrSessionPending) {
				logger.Warn().Str("identity", claims.Subject).Msg("concurrent login still pending")
				redirectWithError(w, r, RouteLogin, LoginErrorRetry)
				return
			}
			logger.Err(err).Str("identity", claims.Subject).Msg("failed to create session")
			writeJSONError(w, http.StatusInternalServerError, "Failed to create session")
			return
		}

		s.SetSessionCookie(w, r, token.String())
		logger.Info().Str("identity", claims.Subject).Msg("logged in")
		http.Redirect(w, r, RouteDashboard, http.StatusFound)
	}
}

// dropForeignSession deletes the session the browser already holds when it belongs to another identity.
func (s *Server) dropForeignSession(r *http.Request, subject string) {
	raw := cookieValue(r, sessionCookieName)
	if raw == "" {
		return
	}
	existing, err := s.sessions.Validate(r.Context(), raw)
	if err != nil || existing.ExternalAccountID == subject {
		return
	}
	if err := s.sessions.Delete(r.Context(), existing.ID, existing.ExternalAccountID); err != nil {
		log.Ctx(r.Context()).Err(err).Str("identity", existing.ExternalAccountID).Msg("failed to delete previous session")
	}
}
