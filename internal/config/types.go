package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the file-backed configuration. Secrets (the bot token) never live
// here; see Env.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
	Health    HealthConfig    `json:"health"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Audit     AuditConfig     `json:"audit"`
	Invites   InvitesConfig   `json:"invites"`
	Delivery  DeliveryConfig  `json:"delivery"`
	History   HistoryConfig   `json:"history"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type DiscordConfig struct {
	// Prefix for moderation commands. Default "!".
	Prefix string `json:"prefix,omitempty"`
	// OpsChannel receives warn+ log lines when logging.channel is enabled.
	OpsChannel string `json:"ops_channel,omitempty"`
	// MessageCache is the number of messages per channel kept by the gateway
	// state. Deletes and edits of uncached messages are not logged.
	MessageCache int `json:"message_cache,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Channel LoggingChannel `json:"channel"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChannel struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HealthConfig controls the HTTP liveness endpoint. The PORT environment
// variable overrides the port part of Addr.
type HealthConfig struct {
	Addr string `json:"addr,omitempty"` // default ":3000"
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AuditConfig bounds audit-trail attribution.
type AuditConfig struct {
	Window string `json:"window,omitempty"` // default "5s"
	Limit  int    `json:"limit,omitempty"`  // default 5
}

// InvitesConfig controls the scheduled invite cache resync.
type InvitesConfig struct {
	Resync string `json:"resync,omitempty"` // cron spec, default "@every 30m"
}

// DeliveryConfig controls the async log delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type DeliveryConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

type HistoryConfig struct {
	MaxNicknames int `json:"max_nicknames,omitempty"` // default 20
	// Flush is a cron spec for the periodic store rewrite. Default "@every 10m".
	Flush string `json:"flush,omitempty"`
}

// SchedulerConfig sets the clock that cron-style job specs are read in.
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"` // IANA name, default local time
}

const (
	DefaultPrefix       = "!"
	DefaultHealthAddr   = ":3000"
	DefaultAuditWindow  = 5 * time.Second
	DefaultAuditLimit   = 5
	DefaultResyncSpec   = "@every 30m"
	DefaultFlushSpec    = "@every 10m"
	DefaultMaxNicknames = 20
	DefaultMessageCache = 200
)

func (c *Config) PrefixOrDefault() string {
	if p := strings.TrimSpace(c.Discord.Prefix); p != "" {
		return p
	}
	return DefaultPrefix
}

func (c *Config) MessageCacheOrDefault() int {
	if c.Discord.MessageCache > 0 {
		return c.Discord.MessageCache
	}
	return DefaultMessageCache
}

func (c *Config) AuditWindow() time.Duration {
	d, err := ParseDurationOrDefault("audit.window", c.Audit.Window, DefaultAuditWindow)
	if err != nil {
		return DefaultAuditWindow
	}
	return d
}

func (c *Config) AuditLimit() int {
	if c.Audit.Limit > 0 {
		return c.Audit.Limit
	}
	return DefaultAuditLimit
}

func (c *Config) ResyncSpec() string {
	if s := strings.TrimSpace(c.Invites.Resync); s != "" {
		return s
	}
	return DefaultResyncSpec
}

func (c *Config) FlushSpec() string {
	if s := strings.TrimSpace(c.History.Flush); s != "" {
		return s
	}
	return DefaultFlushSpec
}

func (c *Config) MaxNicknames() int {
	if c.History.MaxNicknames > 0 {
		return c.History.MaxNicknames
	}
	return DefaultMaxNicknames
}

// Validate checks values that would otherwise fail late (at component start).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := ParseDurationField("audit.window", c.Audit.Window); err != nil {
		errs = append(errs, err)
	}
	if c.Audit.Limit < 0 || c.Audit.Limit > 100 {
		errs = append(errs, fmt.Errorf("audit.limit: must be within 0..100, got %d", c.Audit.Limit))
	}
	for path, raw := range map[string]string{
		"delivery.retry_base":      c.Delivery.RetryBase,
		"delivery.retry_max_delay": c.Delivery.RetryMaxDelay,
		"delivery.dedup_window":    c.Delivery.DedupWindow,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Delivery.Workers < 0 || c.Delivery.QueueSize < 0 || c.Delivery.RatePerSec < 0 || c.Delivery.RetryMax < 0 {
		errs = append(errs, errors.New("delivery: numeric fields must be >= 0"))
	}
	if c.History.MaxNicknames < 0 {
		errs = append(errs, errors.New("history.max_nicknames: must be >= 0"))
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if c.Logging.Channel.Enabled && strings.TrimSpace(c.Discord.OpsChannel) == "" {
		errs = append(errs, errors.New("logging.channel.enabled requires discord.ops_channel"))
	}
	return errors.Join(errs...)
}
