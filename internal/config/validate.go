package config

import (
	"fmt"
	"strings"
	"time"

	logx "remindbot/pkg/logx"
)

var storageDrivers = map[string]bool{
	"": true, "file": true, "sqlite": true, "sqlite3": true, "badger": true, "redis": true, "memory": true,
}

// Validate performs structural checks that do not need other packages.
// Trigger syntax is checked by the app when it maps the broadcast section.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s_TOKEN / BOT_TOKEN)", envPrefix)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !storageDrivers[driver] {
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if driver == "redis" && strings.TrimSpace(cfg.Storage.RedisURL) == "" {
		return fmt.Errorf("storage.redis_url is required for the redis driver")
	}
	if (driver == "sqlite" || driver == "sqlite3" || driver == "badger") && strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required for the %s driver", driver)
	}

	b := cfg.Broadcast
	if b.Workers < 0 {
		return fmt.Errorf("broadcast.workers must be >= 0")
	}
	if b.RatePerSec < 0 {
		return fmt.Errorf("broadcast.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("broadcast.repeat_delay", b.RepeatDelay); err != nil {
		return err
	}
	if _, err := ParseDurationField("broadcast.send_timeout", b.SendTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(b.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("broadcast.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// SummarizeConfigChange returns the changed sections, safe log fields (never
// the token) and the subset of changed sections that only take effect after
// a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	ob, nb := oldCfg.Broadcast, newCfg.Broadcast
	if strings.Join(ob.Triggers, ",") != strings.Join(nb.Triggers, ",") || ob.Timezone != nb.Timezone {
		changed = append(changed, "broadcast.schedule")
		restart = append(restart, "broadcast.schedule")
		attrs = append(attrs, logx.Strings("broadcast.triggers", nb.Triggers), logx.String("broadcast.timezone", nb.Timezone))
	}
	if ob.Payload != nb.Payload || ob.RepeatDelay != nb.RepeatDelay || ob.Workers != nb.Workers ||
		ob.RatePerSec != nb.RatePerSec || ob.SendTimeout != nb.SendTimeout {
		changed = append(changed, "broadcast.delivery")
		attrs = append(attrs,
			logx.String("broadcast.repeat_delay", nb.RepeatDelay),
			logx.Int("broadcast.workers", nb.Workers),
			logx.Int("broadcast.rate_per_sec", nb.RatePerSec),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		restart = append(restart, "metrics")
	}
	return changed, attrs, restart
}
