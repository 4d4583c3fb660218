package config

import "time"

type SecurityConfig interface {
	GetSessionLifetime() time.Duration
	GetHashSessionSecrets() bool
	GetSessionSecretKey() string
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetSessionLifetime() time.Duration {
	return GetEnvDuration("SESSION_LIFETIME", 24*time.Hour)
}

// GetHashSessionSecrets enables id.secret session tokens where only a keyed hash
// of the secret is persisted.
func (Security) GetHashSessionSecrets() bool {
	return GetEnvBool("SESSION_HASH_SECRETS", false)
}

func (Security) GetSessionSecretKey() string {
	return GetEnv("SESSION_SECRET_KEY", "")
}
