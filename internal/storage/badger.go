package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	logx "remindbot/pkg/logx"
)

const (
	badgerSubPrefix = "sub:"
	badgerRepPrefix = "rep:"
)

type badgerSet struct {
	view
	db *badger.DB
}

type badgerCounter struct {
	view
	db *badger.DB
}

func openBadger(cfg Config, log logx.Logger) (Stores, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return Stores{}, errors.New("badger path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Stores{}, err
	}
	db, err := badger.Open(badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLogger(badgerLogger{log: log}).
		WithLoggingLevel(badger.WARNING).
		WithValueLogFileSize(16 << 20))
	if err != nil {
		return Stores{}, fmt.Errorf("open badger: %w", err)
	}
	log.Debug("badger storage ready", logx.String("path", path))

	h := newSharedHandle(2, db.Close)
	return Stores{
		Subscribers: &badgerSet{view: view{h: h}, db: db},
		Repeats:     &badgerCounter{view: view{h: h}, db: db},
	}, nil
}

func (s *badgerSet) Add(_ context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !validID(id) {
		return ErrInvalidID
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerSubPrefix+id), nil)
	})
}

func (s *badgerSet) Remove(_ context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerSubPrefix + id))
	})
}

func (s *badgerSet) Members(_ context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerSubPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), badgerSubPrefix))
		}
		return nil
	})
	return out, err
}

func (c *badgerCounter) Put(_ context.Context, id string, n int) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !validID(id) {
		return ErrInvalidID
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerRepPrefix+id), []byte(strconv.Itoa(n)))
	})
}

func (c *badgerCounter) Get(_ context.Context, id string) (int, bool, error) {
	if c.isClosed() {
		return 0, false, ErrClosed
	}
	var n int
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerRepPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := strconv.Atoi(string(val))
			if err != nil {
				return fmt.Errorf("repeat count for %s: %w", id, err)
			}
			n = v
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// badgerLogger routes badger's printf-style logging into logx.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(f, v...)), logx.String("src", "badger"))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(f, v...)), logx.String("src", "badger"))
}

func (l badgerLogger) Infof(f string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(f, v...)), logx.String("src", "badger"))
}

func (l badgerLogger) Debugf(f string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(f, v...)), logx.String("src", "badger"))
}
