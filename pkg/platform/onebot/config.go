// Copyright 2024-2026 Aiku AI

package onebot

import "time"

// Config holds one OneBot v11 forward websocket connection.
type Config struct {
	// URL is the implementation's forward websocket endpoint, for example
	// ws://127.0.0.1:3001.
	URL         string `yaml:"url"`
	AccessToken string `yaml:"access_token"`
	// ReconnectInterval is the delay between reconnect attempts in seconds.
	// Zero disables reconnecting.
	ReconnectInterval int `yaml:"reconnect_interval"`
	// APITimeout bounds each API call in seconds.
	APITimeout int `yaml:"api_timeout"`
}

const (
	defaultAPITimeout   = 10 * time.Second
	minReconnectBackoff = 5 * time.Second
)

func (c Config) apiTimeout() time.Duration {
	if c.APITimeout <= 0 {
		return defaultAPITimeout
	}
	return time.Duration(c.APITimeout) * time.Second
}

func (c Config) reconnectInterval() time.Duration {
	if c.ReconnectInterval <= 0 {
		return 0
	}
	return max(time.Duration(c.ReconnectInterval)*time.Second, minReconnectBackoff)
}
