package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// sessionCookieName carries the opaque session token
	sessionCookieName = "session"
	// stateCookieName and verifierCookieName live only for the duration of one Google login
	stateCookieName    = "google_oauth_state"
	verifierCookieName = "google_code_verifier"
)

const contentTypeJSON = "application/json"

func (s *Server) SetSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(s.sessions.Lifetime()),
	})
}

func (s *Server) DeleteSessionCookie(w http.ResponseWriter, r *http.Request) {
	deleteCookie(w, r, sessionCookieName)
}

func (s *Server) SetAuthFlowCookie(w http.ResponseWriter, r *http.Request, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.config.GetAuthFlowCookieTimeout() / time.Second),
	})
}

func deleteCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// cookieValue returns the named cookie's value or "" when absent.
func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// redirectWithError sends the browser to path with an error code in the query string
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorCode string) {
	http.Redirect(w, r, path+"?error="+url.QueryEscape(errorCode), http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
