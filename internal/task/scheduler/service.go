package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

type Config struct {
	Timezone string // IANA name; empty means time.Local
}

// Job is what a trigger runs. name identifies the trigger that fired.
type Job func(ctx context.Context, name string)

type entry struct {
	name    string
	trigger Trigger
	timeout time.Duration
	job     Job
	id      cron.EntryID
}

// EntryInfo describes one registered trigger.
type EntryInfo struct {
	Name    string
	Trigger Trigger
	Next    time.Time
	Prev    time.Time
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	loc *time.Location

	parser  cron.Parser
	c       *cron.Cron
	entries []*entry

	// runCtx is handed to jobs; cancelled when Stop gives up waiting.
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
		}
		loc = l
	}
	return &Service{
		log:    log,
		loc:    loc,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}, nil
}

func (s *Service) Location() *time.Location { return s.loc }

// AddDaily registers job to run every day at t. Registering the same time
// twice yields two independent entries. timeout <= 0 means no timeout.
func (s *Service) AddDaily(name string, t Trigger, timeout time.Duration, job Job) error {
	if job == nil {
		return fmt.Errorf("scheduler: nil job for %q", name)
	}
	if _, err := s.parser.Parse(t.Spec()); err != nil {
		return fmt.Errorf("scheduler: %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{name: name, trigger: t, timeout: timeout, job: job}
	s.entries = append(s.entries, e)
	if s.c != nil {
		return s.addLocked(e)
	}
	return nil
}

func (s *Service) addLocked(e *entry) error {
	id, err := s.c.AddJob(e.trigger.Spec(), cron.FuncJob(func() { s.run(e) }))
	if err != nil {
		return err
	}
	e.id = id
	s.log.Debug("trigger registered", logx.String("name", e.name), logx.String("at", e.trigger.String()))
	return nil
}

// run executes one tick. Each tick runs in its own goroutine (cron default).
func (s *Service) run(e *entry) {
	s.mu.Lock()
	base := s.runCtx
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx := base
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, e.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("trigger job panicked", logx.String("name", e.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	s.log.Debug("trigger fired", logx.String("name", e.name), logx.String("at", e.trigger.String()))
	e.job(ctx, e.name)
}

// Start begins firing. ctx bounds the jobs' lifetime.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	for _, e := range s.entries {
		if err := s.addLocked(e); err != nil {
			s.c = nil
			s.runCancel()
			return err
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.entries)))
	return nil
}

// Stop stops firing and waits for running jobs until ctx is done; then the
// jobs' context is cancelled.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop: abandoning running jobs", logx.Err(ctx.Err()))
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Entries lists the registered triggers with their next fire time.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().In(s.loc)
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := EntryInfo{Name: e.name, Trigger: e.trigger}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		if info.Next.IsZero() {
			if sched, err := s.parser.Parse(e.trigger.Spec()); err == nil {
				info.Next = sched.Next(now)
			}
		}
		out = append(out, info)
	}
	return out
}

// NextFire returns the earliest upcoming fire time, or zero when nothing is
// registered.
func (s *Service) NextFire() time.Time {
	var next time.Time
	for _, e := range s.Entries() {
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// cronLogger adapts logx to cron.Logger. cron's info output is chatty, so it
// goes to debug.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
