package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	logx "remindbot/pkg/logx"
)

const (
	DefaultUsersFile   = "users.txt"
	DefaultRepeatsFile = "repeats.txt"
)

// The file driver keeps the historical flat format:
//
//	users.txt    one identifier per line
//	repeats.txt  <identifier>:<count> per line
//
// Files are re-read on every call so external edits are picked up, and every
// mutation rewrites the whole file through a temp file and an atomic rename.

type fileSet struct {
	path string
	log  logx.Logger

	mu     sync.Mutex
	closed bool
}

type fileCounter struct {
	path string
	log  logx.Logger

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Stores, error) {
	users, repeats := filePaths(cfg)
	for _, p := range []string{users, repeats} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return Stores{}, err
		}
	}
	log.Debug("file storage ready", logx.String("users", users), logx.String("repeats", repeats))
	return Stores{
		Subscribers: &fileSet{path: users, log: log},
		Repeats:     &fileCounter{path: repeats, log: log},
	}, nil
}

func filePaths(cfg Config) (users, repeats string) {
	users = strings.TrimSpace(cfg.UsersFile)
	if users == "" {
		users = filepath.Join(cfg.Path, DefaultUsersFile)
	}
	repeats = strings.TrimSpace(cfg.RepeatsFile)
	if repeats == "" {
		repeats = filepath.Join(cfg.Path, DefaultRepeatsFile)
	}
	return users, repeats
}

// NewFileSet opens a users file directly. It is used by the legacy importer.
func NewFileSet(path string) SetStore { return &fileSet{path: path, log: logx.Nop()} }

// NewFileCounter opens a repeats file directly.
func NewFileCounter(path string) CounterStore { return &fileCounter{path: path, log: logx.Nop()} }

func (s *fileSet) Add(_ context.Context, id string) error {
	if !validID(id) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ids, err := readUsers(s.path)
	if err != nil {
		return err
	}
	for _, v := range ids {
		if v == id {
			return nil
		}
	}
	return writeUsers(s.path, append(ids, id))
}

func (s *fileSet) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ids, err := readUsers(s.path)
	if err != nil {
		return err
	}
	out := ids[:0]
	found := false
	for _, v := range ids {
		if v == id {
			found = true
			continue
		}
		out = append(out, v)
	}
	if !found {
		return nil
	}
	return writeUsers(s.path, out)
}

func (s *fileSet) Members(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return readUsers(s.path)
}

func (s *fileSet) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (c *fileCounter) Put(_ context.Context, id string, n int) error {
	if !validID(id) || strings.Contains(id, ":") {
		return ErrInvalidID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	m, err := readRepeats(c.path)
	if err != nil {
		return err
	}
	m[id] = n
	return writeRepeats(c.path, m)
}

func (c *fileCounter) Get(_ context.Context, id string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false, ErrClosed
	}
	m, err := readRepeats(c.path)
	if err != nil {
		return 0, false, err
	}
	n, ok := m[id]
	return n, ok, nil
}

func (c *fileCounter) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// readUsers trims lines, drops empty ones and collapses duplicates, keeping
// first-seen order. A missing file is an empty set.
func readUsers(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func writeUsers(path string, ids []string) error {
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	return writeFileAtomic(path, buf.Bytes())
}

// readRepeats ignores lines without ':' and lines whose count is not a base-10
// integer. A later line for the same id wins.
func readRepeats(path string) (map[string]int, error) {
	m := map[string]int{}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		id, count, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok {
			continue
		}
		id = strings.TrimSpace(id)
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if id == "" || err != nil {
			continue
		}
		m[id] = n
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

func writeRepeats(path string, m map[string]int) error {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var buf bytes.Buffer
	for _, id := range ids {
		fmt.Fprintf(&buf, "%s:%d\n", id, m[id])
	}
	return writeFileAtomic(path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	// Persist the rename itself. Not every platform supports syncing a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
