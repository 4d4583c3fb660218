package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const healthCheckTimeout = 2 * time.Second

// IndexUser is the signed in user shown on the home page
type IndexUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type IndexData struct {
	AppName string     `json:"app"`
	User    *IndexUser `json:"user"`
}

// IndexHandler returns the app name and the signed in user, if any
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := IndexData{AppName: s.config.GetAppName()}
		if sess := SessionFromContext(r.Context()); sess != nil {
			data.User = &IndexUser{ID: sess.ExternalAccountID, Name: sess.DisplayName}
		}
		writeJSON(w, http.StatusOK, data)
	}
}

// HealthHandler reports whether the credential store answers
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			log.Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
