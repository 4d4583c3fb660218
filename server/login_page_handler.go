package server

import (
	"net/http"

	"github.com/jrsteele09/go-subs-manager/provider"
	"github.com/rs/zerolog/log"
)

// LoginPageData is the login hint returned by GET /login
type LoginPageData struct {
	AppName  string `json:"app"`
	LoginURL string `json:"loginUrl"`
	Error    string `json:"error,omitempty"`
}

// LoginPageHandler tells the client where to start the Google login (GET /login)
func (s *Server) LoginPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, LoginPageData{
			AppName:  s.config.GetAppName(),
			LoginURL: RouteLoginGoogle,
			Error:    r.URL.Query().Get("error"),
		})
	}
}

// GoogleLoginHandler starts the authorization code flow with PKCE (GET /login/google)
func (s *Server) GoogleLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := provider.GenerateState()
		if err != nil {
			log.Ctx(r.Context()).Err(err).Msg("failed to generate oauth state")
			writeJSONError(w, http.StatusInternalServerError, "Failed to start login")
			return
		}
		verifier := provider.GenerateVerifier()

		s.SetAuthFlowCookie(w, r, stateCookieName, state)
		s.SetAuthFlowCookie(w, r, verifierCookieName, verifier)

		http.Redirect(w, r, s.provider.AuthCodeURL(state, verifier), http.StatusFound)
	}
}

// LogoutHandler removes the server-side session and the cookie (POST /logout)
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sess := SessionFromContext(r.Context()); sess != nil {
			if err := s.sessions.Delete(r.Context(), sess.ID, sess.ExternalAccountID); err != nil {
				log.Ctx(r.Context()).Err(err).Str("identity", sess.ExternalAccountID).Msg("failed to delete session")
			} else {
				log.Ctx(r.Context()).Info().Str("identity", sess.ExternalAccountID).Msg("logged out")
			}
		}
		s.DeleteSessionCookie(w, r)
		http.Redirect(w, r, RouteIndex, http.StatusFound)
	}
}
