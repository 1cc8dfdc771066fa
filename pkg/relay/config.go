// Copyright 2024-2026 Aiku AI

package relay

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"
)

var (
	// ErrUnknownEndpoint is returned when a rule names an endpoint that is
	// not configured.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrUnknownBot is returned when an endpoint has no connected bot.
	ErrUnknownBot = errors.New("unknown bot")
	// ErrQueueFull is returned when a dispatcher cannot accept more events.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrDispatcherClosed is returned for events enqueued after shutdown.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Defaults applied by the config loader when a key is absent.
const (
	DefaultDelay          = 200
	DefaultQueueSize      = 256
	DefaultAuthorTemplate = "[{{.Name}}]"
)

// EndpointConfig binds a bot identity on one platform to one channel.
type EndpointConfig struct {
	Platform  string   `yaml:"platform"`
	SelfID    string   `yaml:"selfId"`
	ChannelID string   `yaml:"channelId"`
	BlockID   []string `yaml:"blockId"`

	name    string
	blocked map[string]struct{}
}

// Name returns the key the endpoint is configured under.
func (ec *EndpointConfig) Name() string { return ec.name }

// Bot returns the "platform:selfId" identifier of the endpoint's bot.
func (ec *EndpointConfig) Bot() string {
	return BotID(ec.Platform, ec.SelfID)
}

// IsBlocked reports whether messages from userID must not be relayed.
func (ec *EndpointConfig) IsBlocked(userID string) bool {
	if ec.blocked == nil {
		for _, id := range ec.BlockID {
			if id == userID {
				return true
			}
		}
		return false
	}
	_, ok := ec.blocked[userID]
	return ok
}

// Rule is a one-way bridge between two named endpoints.
type Rule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func (r Rule) String() string {
	return r.From + "->" + r.To
}

// AuthorParams holds the values available to the author template.
type AuthorParams struct {
	ID   string
	Name string
}

// Config is the relay section of the configuration file.
type Config struct {
	Configs map[string]*EndpointConfig `yaml:"configs"`
	Rules   []Rule                     `yaml:"rules"`
	// Delay is the minimum gap between two sends of the same rule, in
	// milliseconds.
	Delay     int `yaml:"delay"`
	QueueSize int `yaml:"queue_size"`
	// AuthorTemplate renders the text prefix used when the destination
	// cannot show a native author.
	AuthorTemplate string `yaml:"author_template"`

	authorTemplate *template.Template
}

// PostProcess validates the relay configuration and prepares derived state.
func (c *Config) PostProcess() error {
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %d", c.Delay)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	for name, ec := range c.Configs {
		if ec == nil {
			return fmt.Errorf("endpoint %q is empty", name)
		}
		if ec.Platform == "" || ec.SelfID == "" || ec.ChannelID == "" {
			return fmt.Errorf("endpoint %q needs platform, selfId and channelId", name)
		}
		ec.name = name
		ec.blocked = make(map[string]struct{}, len(ec.BlockID))
		for _, id := range ec.BlockID {
			ec.blocked[id] = struct{}{}
		}
	}
	for i, rule := range c.Rules {
		if _, ok := c.Configs[rule.From]; !ok {
			return fmt.Errorf("rule %d: %w %q", i, ErrUnknownEndpoint, rule.From)
		}
		if _, ok := c.Configs[rule.To]; !ok {
			return fmt.Errorf("rule %d: %w %q", i, ErrUnknownEndpoint, rule.To)
		}
		if rule.From == rule.To {
			return fmt.Errorf("rule %d: endpoint %q relays to itself", i, rule.From)
		}
	}
	tmpl := c.AuthorTemplate
	if tmpl == "" {
		tmpl = DefaultAuthorTemplate
	}
	var err error
	c.authorTemplate, err = template.New("author").Parse(tmpl)
	if err != nil {
		return fmt.Errorf("failed to parse author template: %w", err)
	}
	return nil
}

// Endpoint returns the endpoint configured under name.
func (c *Config) Endpoint(name string) (*EndpointConfig, error) {
	ec, ok := c.Configs[name]
	if !ok || ec == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownEndpoint, name)
	}
	return ec, nil
}

// DelayDuration returns Delay as a duration.
func (c *Config) DelayDuration() time.Duration {
	return time.Duration(c.Delay) * time.Millisecond
}

// FormatAuthor renders the author prefix. It falls back to "[name]" when
// the template is missing or fails.
func (c *Config) FormatAuthor(a Author) string {
	params := AuthorParams{ID: a.ID, Name: a.DisplayName()}
	fallback := "[" + params.Name + "]"
	if c.authorTemplate == nil {
		return fallback
	}
	var sb strings.Builder
	if err := c.authorTemplate.Execute(&sb, params); err != nil {
		return fallback
	}
	return sb.String()
}
