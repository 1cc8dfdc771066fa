// Copyright 2024-2026 Aiku AI

package discord

// Config holds one Discord bot connection.
type Config struct {
	Token string `yaml:"token"`
	// Webhook sends relayed messages through a channel webhook so they show
	// the original author's name and avatar. The bot needs the Manage
	// Webhooks permission in every target channel.
	Webhook bool `yaml:"webhook"`
	// WebhookName names the webhook the bridge creates and reuses.
	WebhookName string `yaml:"webhook_name"`
}

const defaultWebhookName = "relaybridge"

func (c Config) webhookName() string {
	if c.WebhookName == "" {
		return defaultWebhookName
	}
	return c.WebhookName
}
