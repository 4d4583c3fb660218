package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteIndex+"{$}", ChainMiddleware(s.IndexHandler(), s.HTMLMiddleWare(s.LoadSession)...))

	// LOGIN
	s.RegisterRouteHandler("GET "+RouteLogin, ChainMiddleware(s.LoginPageHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteLoginGoogle, ChainMiddleware(s.GoogleLoginHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteLoginGoogleCallback, ChainMiddleware(s.GoogleCallbackHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare(s.LoadSession)...))

	// Dashboard routes (require a session with a usable access token)
	s.RegisterRouteHandler("GET "+RouteDashboard, ChainMiddleware(s.DashboardHandler(), s.HTMLMiddleWare(s.LoadSession, s.RequireSession)...))
	s.RegisterRouteHandler("POST "+RouteDashboardDelete, ChainMiddleware(s.DeleteSubscriptionsHandler(), s.HTMLMiddleWare(s.LoadSession, s.RequireSession)...))
}
