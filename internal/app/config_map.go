package app

import (
	"fmt"
	"strings"
	"time"

	"modlog/internal/audit"
	"modlog/internal/config"
	"modlog/internal/notifier"
	"modlog/internal/storage"
	"modlog/internal/task/scheduler"
)

// mapStorageConfig defaults to the file driver under ./data when the section
// is absent.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: storage.DefaultPath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

const defaultRetryMax = 3

// mapDeliveryConfig parses duration strings. Other zero values are defaulted
// by the notifier itself.
func mapDeliveryConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg == nil {
		return notifier.Config{}, nil
	}
	d := cfg.Delivery
	out := notifier.Config{
		Workers:    d.Workers,
		QueueSize:  d.QueueSize,
		RatePerSec: d.RatePerSec,
		RetryMax:   d.RetryMax,
	}
	if out.RetryMax == 0 {
		out.RetryMax = defaultRetryMax
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("delivery.retry_base", d.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("delivery.retry_max_delay", d.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("delivery.dedup_window", d.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func auditPolicy(cfg *config.Config) audit.Policy {
	return audit.Policy{Window: cfg.AuditWindow(), Limit: cfg.AuditLimit()}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}
