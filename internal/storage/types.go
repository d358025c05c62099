package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by stores used after Close.
	ErrClosed = errors.New("storage closed")
	// ErrInvalidID is returned for identifiers the driver cannot store.
	ErrInvalidID = errors.New("invalid identifier")
)

// Config configures storage.
//
// Driver values:
//   - "file" or "": users/repeats flat files
//   - "sqlite" / "sqlite3": SQLite database at Path
//   - "badger": BadgerDB directory at Path
//   - "redis": RedisURL, keys prefixed with KeyPrefix
//   - "memory": nothing is written
type Config struct {
	Driver      string
	Path        string
	UsersFile   string
	RepeatsFile string
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisURL    string
	KeyPrefix   string
}

// SetStore holds subscriber identifiers with set semantics.
type SetStore interface {
	// Add is idempotent.
	Add(ctx context.Context, id string) error
	// Remove is idempotent.
	Remove(ctx context.Context, id string) error
	// Members returns a snapshot. Order is driver specific.
	Members(ctx context.Context) ([]string, error)
	Close() error
}

// CounterStore maps an identifier to a repeat count.
type CounterStore interface {
	Put(ctx context.Context, id string, n int) error
	Get(ctx context.Context, id string) (n int, ok bool, err error)
	Close() error
}

// Stores is what Open returns. Both stores may share one backend handle; the
// handle is released when both have been closed.
type Stores struct {
	Subscribers SetStore
	Repeats     CounterStore
}

func (s Stores) Close() error {
	var err1, err2 error
	if s.Subscribers != nil {
		err1 = s.Subscribers.Close()
	}
	if s.Repeats != nil {
		err2 = s.Repeats.Close()
	}
	return errors.Join(err1, err2)
}
