package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/broadcast"
	"remindbot/internal/config"
	"remindbot/internal/observability/ops"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

const (
	defaultRatePerSec  = 25
	defaultSendTimeout = 15 * time.Second
	defaultPollTimeout = 10 * time.Second
	defaultBusyTimeout = 5 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		UsersFile:   orDefault(sc.UsersFile, config.DefaultUsersFile),
		RepeatsFile: orDefault(sc.RepeatsFile, config.DefaultRepeatsFile),
		BusyTimeout: busy,
		RedisURL:    strings.TrimSpace(sc.RedisURL),
		KeyPrefix:   sc.KeyPrefix,
	}, nil
}

// usesFlatFiles reports whether the configured driver stores data in the
// users/repeats files themselves.
func usesFlatFiles(sc storage.Config) bool {
	return sc.Driver == "" || sc.Driver == "file"
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	b := cfg.Broadcast
	delay, err := config.ParseDurationOrDefault("broadcast.repeat_delay", b.RepeatDelay, broadcast.DefaultRepeatDelay)
	if err != nil {
		return broadcast.Config{}, err
	}
	if delay < 0 {
		return broadcast.Config{}, fmt.Errorf("broadcast.repeat_delay must be >= 0")
	}
	sendTimeout, err := config.ParseDurationOrDefault("broadcast.send_timeout", b.SendTimeout, defaultSendTimeout)
	if err != nil {
		return broadcast.Config{}, err
	}
	rate := b.RatePerSec
	if rate == 0 {
		rate = defaultRatePerSec
	}
	return broadcast.Config{
		Payload:     orDefault(b.Payload, config.DefaultPayload),
		RepeatDelay: delay,
		Workers:     b.Workers,
		RatePerSec:  rate,
		SendTimeout: sendTimeout,
	}, nil
}

func mapTriggers(cfg *config.Config) ([]scheduler.Trigger, error) {
	raw := cfg.Broadcast.Triggers
	if len(raw) == 0 {
		raw = config.DefaultTriggers
	}
	ts, err := scheduler.ParseTriggers(raw)
	if err != nil {
		return nil, fmt.Errorf("broadcast.triggers: %w", err)
	}
	return ts, nil
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Addr:  orDefault(cfg.Metrics.Addr, config.DefaultMetricsAddr),
		Token: strings.TrimSpace(cfg.Metrics.Token),
		Pprof: cfg.Metrics.Pprof,
	}
}

// validateForApp checks what config.Validate cannot: trigger syntax and the
// mapped broadcast section.
func validateForApp(cfg *config.Config) error {
	if _, err := mapTriggers(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	_, err := mapStorageConfig(cfg)
	return err
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}
