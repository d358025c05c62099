package config

// Config is the on-disk configuration (JSON or YAML).
//
// Example (YAML):
//
//	telegram:
//	  token: "123:abc"
//	broadcast:
//	  triggers: ["21:01", "09:01", "19:01"]
//	  repeat_delay: "10s"
//	storage:
//	  driver: file
//	  users_file: ./users.txt
//	  repeats_file: ./repeats.txt
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects where subscribers and repeat preferences live.
//
// Driver values: "file" (default), "sqlite", "badger", "redis", "memory".
//
// UsersFile and RepeatsFile are the flat files of the "file" driver. With any
// other driver and ImportLegacy set, existing flat files are imported once
// at startup.
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	UsersFile    string `json:"users_file,omitempty"`
	RepeatsFile  string `json:"repeats_file,omitempty"`
	ImportLegacy bool   `json:"import_legacy,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	RedisURL     string `json:"redis_url,omitempty"`
	KeyPrefix    string `json:"key_prefix,omitempty"` // redis
}

// BroadcastConfig controls trigger times and delivery.
//
// Defaults (when fields are omitted/zero):
//   - triggers: ["21:01", "09:01", "19:01"]
//   - timezone: local
//   - payload: the reminder text
//   - repeat_delay: "10s"
//   - workers: 8
//   - rate_per_sec: 25
//   - send_timeout: "15s"
type BroadcastConfig struct {
	Triggers    []string `json:"triggers"`
	Timezone    string   `json:"timezone,omitempty"`
	Payload     string   `json:"payload,omitempty"`
	RepeatDelay string   `json:"repeat_delay,omitempty"`
	Workers     int      `json:"workers,omitempty"`
	RatePerSec  int      `json:"rate_per_sec,omitempty"`
	SendTimeout string   `json:"send_timeout,omitempty"`
}

// MetricsConfig controls the ops HTTP server (/healthz, /metrics).
//
// A non-loopback Addr requires Token.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9310"
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"` // mounts /debug/pprof
}

const (
	DefaultPayload     = "🔔 Напоминание: зайдите в Старс Банк"
	DefaultUsersFile   = "users.txt"
	DefaultRepeatsFile = "repeats.txt"
	DefaultMetricsAddr = "127.0.0.1:9310"
)

// DefaultTriggers are the daily broadcast times used when none are configured.
var DefaultTriggers = []string{"21:01", "09:01", "19:01"}
