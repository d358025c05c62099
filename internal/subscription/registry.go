package subscription

import (
	"context"
	"sync"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Registry is the set of subscribed recipients.
//
// Each call holds the registry lock for exactly one persist cycle and
// returns only after the store has made the change durable.
type Registry struct {
	mu    sync.Mutex
	store storage.SetStore
	log   logx.Logger
}

func NewRegistry(store storage.SetStore, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log}
}

// Subscribe adds id. Subscribing twice is a no-op.
func (r *Registry) Subscribe(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Add(ctx, id); err != nil {
		return &PersistenceError{Op: "subscribe", ID: id, Err: err}
	}
	r.log.Info("subscribed", logx.String("chat_id", id))
	return nil
}

// Unsubscribe removes id. Removing an absent id is a no-op.
func (r *Registry) Unsubscribe(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Remove(ctx, id); err != nil {
		return &PersistenceError{Op: "unsubscribe", ID: id, Err: err}
	}
	r.log.Info("unsubscribed", logx.String("chat_id", id))
	return nil
}

// List returns a snapshot of the current subscribers. Later mutations do not
// affect the returned slice.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	ids, err := r.store.Members(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, &PersistenceError{Op: "list subscribers", Err: err}
	}
	return append([]string(nil), ids...), nil
}

// Contains reports whether id is subscribed.
func (r *Registry) Contains(ctx context.Context, id string) (bool, error) {
	ids, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range ids {
		if v == id {
			return true, nil
		}
	}
	return false, nil
}
