package config

import (
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
	StoreConfig
	QuotaConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetBaseURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
}

type mainConfig struct {
	EnvVars
	Cors
	OAuth
	Security
	Store
	Quota
}

// New loads an optional .env file and returns the environment backed configuration.
// A missing .env file is not an error; real environment variables always win.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
