package subscription

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const (
	MinRepeat     = 1
	MaxRepeat     = 10
	DefaultRepeat = 1
)

// Preferences stores how many times each recipient gets a reminder per
// trigger.
type Preferences struct {
	mu    sync.Mutex
	store storage.CounterStore
	log   logx.Logger
}

func NewPreferences(store storage.CounterStore, log logx.Logger) *Preferences {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Preferences{store: store, log: log}
}

// SetRepeatCount persists n for id, overwriting any previous value.
// It returns *ValidationError when n is outside [MinRepeat, MaxRepeat].
func (p *Preferences) SetRepeatCount(ctx context.Context, id string, n int) error {
	if n < MinRepeat || n > MaxRepeat {
		return &ValidationError{Value: n, Min: MinRepeat, Max: MaxRepeat}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Put(ctx, id, n); err != nil {
		return &PersistenceError{Op: "set repeat count", ID: id, Err: err}
	}
	p.log.Info("repeat count set", logx.String("chat_id", id), logx.Int("repeat", n))
	return nil
}

// GetRepeatCount never fails. Missing entries and read errors yield
// DefaultRepeat; stored values above MaxRepeat are clamped.
func (p *Preferences) GetRepeatCount(ctx context.Context, id string) int {
	p.mu.Lock()
	n, ok, err := p.store.Get(ctx, id)
	p.mu.Unlock()
	switch {
	case err != nil:
		p.log.Warn("repeat count read failed; using default", logx.String("chat_id", id), logx.Err(err))
		return DefaultRepeat
	case !ok:
		return DefaultRepeat
	case n < MinRepeat:
		p.log.Warn("stored repeat count below range; using default", logx.String("chat_id", id), logx.Int("stored", n))
		return DefaultRepeat
	case n > MaxRepeat:
		p.log.Warn("stored repeat count above range; clamping", logx.String("chat_id", id), logx.Int("stored", n))
		return MaxRepeat
	}
	return n
}

// ParseRepeatCount parses a command argument. Only ASCII digits are
// accepted; the range is checked as in SetRepeatCount.
func ParseRepeatCount(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, ErrRepeatSyntax
	}
	for _, r := range arg {
		if r < '0' || r > '9' {
			return 0, ErrRepeatSyntax
		}
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		// only digits, so this is an overflow
		n = math.MaxInt
	}
	if n < MinRepeat || n > MaxRepeat {
		return n, &ValidationError{Value: n, Min: MinRepeat, Max: MaxRepeat}
	}
	return n, nil
}
