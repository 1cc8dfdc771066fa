// Copyright 2024-2026 Aiku AI

package mattermost

// Config holds one Mattermost bot connection.
type Config struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	// BotPrefix is a username prefix for echo prevention. Posts from any
	// username starting with it are never relayed. Leave empty to disable.
	BotPrefix string `yaml:"bot_prefix"`
	// OverrideUsername posts relayed messages under the original author's
	// name and avatar. The server must allow integrations to override
	// usernames and profile pictures.
	OverrideUsername bool `yaml:"override_username"`
}
