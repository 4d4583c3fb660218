package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteIndex = "/"

	// Auth Routes - Login & Logout
	RouteLogin               = "/login"
	RouteLoginGoogle         = "/login/google"
	RouteLoginGoogleCallback = "/login/google/callback"
	RouteLogout              = "/logout"

	// Dashboard Routes
	RouteDashboard       = "/dashboard"
	RouteDashboardDelete = "/dashboard/delete"

	RouteHealth = "/healthz"
)

// Error codes passed to the login page
const (
	LoginErrorYouTubePermission = "youtube_permission_required"
	LoginErrorRetry             = "session_pending"
)
