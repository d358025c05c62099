package storage

import (
	"sync"
	"sync/atomic"
)

// sharedHandle closes a backend once every view on it has been released.
type sharedHandle struct {
	refs  atomic.Int32
	once  sync.Once
	close func() error
	err   error
}

func newSharedHandle(views int32, closeFn func() error) *sharedHandle {
	h := &sharedHandle{close: closeFn}
	h.refs.Store(views)
	return h
}

func (h *sharedHandle) release() error {
	if h.refs.Add(-1) > 0 {
		return nil
	}
	h.once.Do(func() { h.err = h.close() })
	return h.err
}

// view tracks the closed state of one store on a shared handle.
type view struct {
	h      *sharedHandle
	closed atomic.Bool
}

func (v *view) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	return v.h.release()
}

func (v *view) isClosed() bool { return v.closed.Load() }
