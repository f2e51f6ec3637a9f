package dbproxy

import "time"

// PoolConfig tunes a Manager. Defaults mirror spec.md §3:
// {10, 300s, 30s, 5s, 30s, 30s, true, true}.
type PoolConfig struct {
	MaxSize             int
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	RecvTimeout         time.Duration
	DrainTimeout        time.Duration
	TLSEnabled          bool
	VerifyCertificates  bool
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:             10,
		IdleTimeout:         300 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		ConnectTimeout:      5 * time.Second,
		RecvTimeout:         30 * time.Second,
		DrainTimeout:        30 * time.Second,
		TLSEnabled:          true,
		VerifyCertificates:  true,
	}
}
