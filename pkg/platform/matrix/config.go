// Copyright 2024-2026 Aiku AI

package matrix

// Config holds one Matrix bot account.
type Config struct {
	Homeserver  string `yaml:"homeserver"`
	AccessToken string `yaml:"access_token"`
	// UserID is optional; Login learns it from the access token.
	UserID string `yaml:"user_id"`
}
