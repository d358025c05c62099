package config

import (
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "REMINDBOT"

// envOverrides are applied on top of the file config. Empty values leave the
// file value untouched.
type envOverrides struct {
	Token         string   `split_words:"true"`
	LegacyToken   string   `envconfig:"BOT_TOKEN"` // REMINDBOT_BOT_TOKEN, then BOT_TOKEN
	LogLevel      string   `split_words:"true"`
	StorageDriver string   `split_words:"true"`
	StoragePath   string   `split_words:"true"`
	RedisURL      string   `split_words:"true"`
	Triggers      []string `split_words:"true"`
	Timezone      string   `split_words:"true"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(env.Token) != "":
		cfg.Telegram.Token = strings.TrimSpace(env.Token)
	case strings.TrimSpace(cfg.Telegram.Token) == "" && strings.TrimSpace(env.LegacyToken) != "":
		cfg.Telegram.Token = strings.TrimSpace(env.LegacyToken)
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	if env.StorageDriver != "" {
		cfg.Storage.Driver = env.StorageDriver
	}
	if env.StoragePath != "" {
		cfg.Storage.Path = env.StoragePath
	}
	if env.RedisURL != "" {
		cfg.Storage.RedisURL = env.RedisURL
	}
	if len(env.Triggers) > 0 {
		cfg.Broadcast.Triggers = env.Triggers
	}
	if env.Timezone != "" {
		cfg.Broadcast.Timezone = env.Timezone
	}
	return nil
}

func envHasToken() bool {
	for _, k := range []string{envPrefix + "_TOKEN", envPrefix + "_BOT_TOKEN", "BOT_TOKEN"} {
		if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
