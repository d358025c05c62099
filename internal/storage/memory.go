package storage

import (
	"context"
	"sync"
)

// NewMemory returns stores backed by process-local maps.
func NewMemory() Stores {
	return Stores{
		Subscribers: &memorySet{members: map[string]struct{}{}},
		Repeats:     &memoryCounter{m: map[string]int{}},
	}
}

type memorySet struct {
	mu      sync.Mutex
	order   []string
	members map[string]struct{}
	closed  bool
}

func (s *memorySet) Add(_ context.Context, id string) error {
	if !validID(id) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.members[id]; ok {
		return nil
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)
	return nil
}

func (s *memorySet) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.members[id]; !ok {
		return nil
	}
	delete(s.members, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memorySet) Members(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return append([]string(nil), s.order...), nil
}

func (s *memorySet) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type memoryCounter struct {
	mu     sync.Mutex
	m      map[string]int
	closed bool
}

func (c *memoryCounter) Put(_ context.Context, id string, n int) error {
	if !validID(id) {
		return ErrInvalidID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.m[id] = n
	return nil
}

func (c *memoryCounter) Get(_ context.Context, id string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false, ErrClosed
	}
	n, ok := c.m[id]
	return n, ok, nil
}

func (c *memoryCounter) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
