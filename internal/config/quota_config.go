package config

import "time"

type QuotaConfig interface {
	GetMaxSelection() int
	GetQuotaWindow() time.Duration
	GetFanOutLimit() int
}

type Quota struct{}

var _ QuotaConfig = Quota{}

// GetMaxSelection is the number of subscriptions a user may remove per quota window.
func (Quota) GetMaxSelection() int {
	return GetEnvInt("MAX_SELECTION", 50)
}

func (Quota) GetQuotaWindow() time.Duration {
	return GetEnvDuration("QUOTA_WINDOW", 24*time.Hour)
}

// GetFanOutLimit caps concurrent downstream calls made by one request.
func (Quota) GetFanOutLimit() int {
	return GetEnvInt("FANOUT_LIMIT", 15)
}
