package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-subs-manager/dashboard"
	"github.com/jrsteele09/go-subs-manager/internal/config"
	"github.com/jrsteele09/go-subs-manager/provider"
	"github.com/jrsteele09/go-subs-manager/sessions"
	"github.com/jrsteele09/go-subs-manager/token/refresh"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP surface drives.
type Deps struct {
	Sessions  *sessions.Manager
	Refresher *refresh.Coordinator
	Provider  provider.IdentityProvider
	Dashboard *dashboard.Service
	Store     Pinger
}

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	handler http.Handler
	routes  []string
	config  config.Config

	sessions  *sessions.Manager
	refresher *refresh.Coordinator
	provider  provider.IdentityProvider
	dashboard *dashboard.Service
	store     Pinger
}

func New(config config.Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.Refresher == nil || deps.Provider == nil || deps.Dashboard == nil || deps.Store == nil {
		return nil, errors.New("[Server New] missing dependency")
	}

	s := &Server{
		env:       config.GetEnv(),
		mux:       http.NewServeMux(),
		config:    config,
		sessions:  deps.Sessions,
		refresher: deps.Refresher,
		provider:  deps.Provider,
		dashboard: deps.Dashboard,
		store:     deps.Store,
	}

	s.initRoutes()
	s.logRoutes()

	s.handler = cors.New(cors.Options{
		AllowOriginFunc:  config.GetAllowedOrigins().IsAllowedOrigin,
		AllowedMethods:   config.GetAllowedMethods(),
		AllowedHeaders:   config.GetAllowedHeaders(),
		AllowCredentials: true,
	}).Handler(s.mux)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Debug().Msgf("[%-19s] %s", displayMethod, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
