package storage

import (
	"errors"
	"strings"

	logx "remindbot/pkg/logx"
)

// Open initializes the configured stores.
func Open(cfg Config, log logx.Logger) (Stores, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driverName(driver)))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "badger":
		return openBadger(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return Stores{}, errors.New("unknown storage driver: " + driver)
	}
}

func driverName(d string) string {
	if d == "" {
		return "file"
	}
	return d
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "\r\n") && strings.TrimSpace(id) == id
}
