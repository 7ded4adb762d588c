package config

import (
	"strings"

	logx "modlog/pkg/logx"
)

// SummarizeChange returns the changed top-level sections, safe attrs for
// logging, and the sections whose change only takes effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Discord != newCfg.Discord {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.String("discord.prefix", newCfg.PrefixOrDefault()),
			logx.Bool("discord.ops_channel_set", strings.TrimSpace(newCfg.Discord.OpsChannel) != ""),
		)
		if oldCfg.Discord.MessageCache != newCfg.Discord.MessageCache {
			restart = append(restart, "discord.message_cache")
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.channel_enabled", newCfg.Logging.Channel.Enabled),
		)
	}

	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		restart = append(restart, "health")
	}

	if storageOf(oldCfg) != storageOf(newCfg) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
	}

	if oldCfg.AuditWindow() != newCfg.AuditWindow() || oldCfg.AuditLimit() != newCfg.AuditLimit() {
		changed = append(changed, "audit")
		attrs = append(attrs,
			logx.Duration("audit.window", newCfg.AuditWindow()),
			logx.Int("audit.limit", newCfg.AuditLimit()),
		)
	}

	if oldCfg.ResyncSpec() != newCfg.ResyncSpec() {
		changed = append(changed, "invites")
		restart = append(restart, "invites.resync")
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.Int("delivery.retry_max", newCfg.Delivery.RetryMax),
			logx.String("delivery.dedup_window", strings.TrimSpace(newCfg.Delivery.DedupWindow)),
		)
		if oldCfg.Delivery.Workers != newCfg.Delivery.Workers || oldCfg.Delivery.QueueSize != newCfg.Delivery.QueueSize {
			restart = append(restart, "delivery.workers")
		}
	}

	if oldCfg.MaxNicknames() != newCfg.MaxNicknames() || oldCfg.FlushSpec() != newCfg.FlushSpec() {
		changed = append(changed, "history")
		attrs = append(attrs, logx.Int("history.max_nicknames", newCfg.MaxNicknames()))
		if oldCfg.FlushSpec() != newCfg.FlushSpec() {
			restart = append(restart, "history.flush")
		}
	}
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}
	return changed, attrs, restart
}

func storageOf(c *Config) StorageConfig {
	if c.Storage == nil {
		return StorageConfig{}
	}
	return *c.Storage
}

// LogConfig maps the logging section onto the log service config.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Channel: logx.ChannelConfig{
			Enabled:    c.Logging.Channel.Enabled,
			ChannelID:  strings.TrimSpace(c.Discord.OpsChannel),
			MinLevel:   c.Logging.Channel.MinLevel,
			RatePerSec: c.Logging.Channel.RatePerSec,
		},
	}
}
