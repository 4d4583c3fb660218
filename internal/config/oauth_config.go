package config

import "time"

type OAuthConfig interface {
	GetGoogleClientID() string
	GetGoogleClientSecret() string
	GetGoogleRedirectURI() string
	GetGoogleIssuer() string
	GetVerifyIDToken() bool
	GetAuthFlowCookieTimeout() time.Duration
	GetAccessTokenRefreshBuffer() time.Duration
	GetDefaultAccessTokenExpiry() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetGoogleClientID() string {
	return GetEnv("GOOGLE_CLIENT_ID", "")
}

func (OAuth) GetGoogleClientSecret() string {
	return GetEnv("GOOGLE_CLIENT_SECRET", "")
}

func (OAuth) GetGoogleRedirectURI() string {
	return GetEnv("GOOGLE_REDIRECT_URI", EnvVars{}.GetBaseURL()+"/login/google/callback")
}

func (OAuth) GetGoogleIssuer() string {
	return GetEnv("GOOGLE_ISSUER", "https://accounts.google.com")
}

// GetVerifyIDToken controls whether ID tokens are verified against the issuer's JWKS.
// Only disable it for local development against a fake provider.
func (OAuth) GetVerifyIDToken() bool {
	return GetEnvBool("VERIFY_ID_TOKEN", true)
}

// GetAuthFlowCookieTimeout is the lifetime of the state and code verifier cookies.
func (OAuth) GetAuthFlowCookieTimeout() time.Duration {
	return 10 * time.Minute
}

func (OAuth) GetAccessTokenRefreshBuffer() time.Duration {
	return 5 * time.Minute
}

// GetDefaultAccessTokenExpiry is used when the provider response carries no expiry.
func (OAuth) GetDefaultAccessTokenExpiry() time.Duration {
	return 1 * time.Hour
}
