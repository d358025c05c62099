package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
logging:
  level: debug
  console: true
storage:
  driver: file
  users_file: ./users.txt
broadcast:
  triggers: ["21:01", "09:01"]
  repeat_delay: 10s
  workers: 4
`)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if got := strings.Join(cfg.Broadcast.Triggers, ","); got != "21:01,09:01" {
		t.Fatalf("triggers = %s", got)
	}
	if cfg.Broadcast.Workers != 4 || cfg.Broadcast.RepeatDelay != "10s" {
		t.Fatalf("broadcast = %+v", cfg.Broadcast)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"},"bogus":1}`)
	if _, err := NewConfigManager(p).Load(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"}}{"telegram":{"token":"y"}}`)
	if _, err := NewConfigManager(p).Load(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REMINDBOT_TOKEN", "")
	t.Setenv("BOT_TOKEN", "legacy-token")
	t.Setenv("REMINDBOT_STORAGE_DRIVER", "memory")
	t.Setenv("REMINDBOT_TRIGGERS", "08:00,20:30")

	p := writeFile(t, "config.json", `{"telegram":{"token":""}}`)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "legacy-token" {
		t.Fatalf("token = %q, want legacy-token", cfg.Telegram.Token)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	if got := strings.Join(cfg.Broadcast.Triggers, ","); got != "08:00,20:30" {
		t.Fatalf("triggers = %s", got)
	}
}

func TestMissingFileWithEnvToken(t *testing.T) {
	t.Setenv("REMINDBOT_TOKEN", "env-token")
	cfg, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.json")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t"}}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{name: "minimal", mutate: func(c *Config) {}, ok: true},
		{name: "no token", mutate: func(c *Config) { c.Telegram.Token = " " }},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }},
		{name: "redis without url", mutate: func(c *Config) { c.Storage.Driver = "redis" }},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }},
		{name: "negative workers", mutate: func(c *Config) { c.Broadcast.Workers = -1 }},
		{name: "bad delay", mutate: func(c *Config) { c.Broadcast.RepeatDelay = "soon" }},
		{name: "negative delay", mutate: func(c *Config) { c.Broadcast.RepeatDelay = "-1s" }},
		{name: "bad timezone", mutate: func(c *Config) { c.Broadcast.Timezone = "Mars/Olympus" }},
		{name: "utc timezone", mutate: func(c *Config) { c.Broadcast.Timezone = "UTC" }, ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram:  TelegramConfig{Token: "t"},
		Broadcast: BroadcastConfig{Triggers: []string{"09:01"}, RepeatDelay: "10s"},
	}
	newCfg := &Config{
		Telegram:  TelegramConfig{Token: "t"},
		Logging:   LoggingConfig{Level: "debug"},
		Broadcast: BroadcastConfig{Triggers: []string{"09:01", "21:01"}, RepeatDelay: "5s"},
	}
	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	if got := strings.Join(changed, ","); got != "logging,broadcast.schedule,broadcast.delivery" {
		t.Fatalf("changed = %s", got)
	}
	if got := strings.Join(restart, ","); got != "broadcast.schedule" {
		t.Fatalf("restart = %s", got)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 10*time.Second)
	if err != nil || d != 10*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "abc"); err == nil {
		t.Fatal("expected error")
	}
}
