package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender     kit.Sender
	recipients Recipients
	repeats    RepeatCounts
	classify   kit.ErrorClassifier
	metrics    Metrics
	sleep      Sleeper
	log        logx.Logger

	running atomic.Bool

	lastMu sync.RWMutex
	last   *Report
}

type Option func(*Dispatcher)

func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithClassifier sets how send errors map to failure reasons.
func WithClassifier(fn kit.ErrorClassifier) Option {
	return func(d *Dispatcher) { d.classify = fn }
}

// WithSleeper replaces the inter-repeat wait. Used by tests.
func WithSleeper(fn Sleeper) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

func New(cfg Config, sender kit.Sender, recipients Recipients, repeats RepeatCounts, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		sender:     sender,
		recipients: recipients,
		repeats:    repeats,
		metrics:    nopMetrics{},
		sleep:      sleepCtx,
		log:        log,
	}
	for _, o := range opts {
		o(d)
	}
	d.Apply(cfg)
	return d
}

// Apply swaps the delivery config. Runs already in progress keep the
// config they started with.
func (d *Dispatcher) Apply(cfg Config) {
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = lim
	d.mu.Unlock()
}

// Running reports whether a gated run is in progress.
func (d *Dispatcher) Running() bool { return d.running.Load() }

// LastReport returns the most recent completed run, if any.
func (d *Dispatcher) LastReport() (Report, bool) {
	d.lastMu.RLock()
	defer d.lastMu.RUnlock()
	if d.last == nil {
		return Report{}, false
	}
	return *d.last, true
}

// Trigger runs a broadcast unless one is already in progress, in which case
// the tick is skipped and ok is false.
func (d *Dispatcher) Trigger(ctx context.Context, name string) (rep Report, ok bool) {
	if !d.running.CompareAndSwap(false, true) {
		d.log.Warn("broadcast skipped: previous run still in progress", logx.String("trigger", name))
		d.metrics.RunSkipped()
		return Report{}, false
	}
	defer d.running.Store(false)
	return d.Run(ctx, name), true
}

type recipientResult struct {
	delivered int
	err       *DeliveryError
}

// Run performs one broadcast over a snapshot of the subscribers. It never
// returns an error: per-recipient failures are collected in the report.
func (d *Dispatcher) Run(ctx context.Context, trigger string) Report {
	d.mu.Lock()
	cfg, lim := d.cfg, d.limiter
	d.mu.Unlock()

	rep := Report{RunID: uuid.NewString(), Trigger: trigger, Started: time.Now()}
	log := d.log.With(logx.String("run_id", rep.RunID), logx.String("trigger", trigger))

	ids, err := d.recipients.List(ctx)
	if err != nil {
		log.Error("broadcast aborted: subscriber snapshot failed", logx.Err(err))
		rep.SnapshotErr = err
		rep.Duration = time.Since(rep.Started)
		return rep
	}
	rep.Recipients = len(ids)
	log.Info("broadcast started", logx.Int("recipients", len(ids)), logx.Int("workers", workersFor(cfg)))

	var (
		resMu sync.Mutex
		g     errgroup.Group
	)
	record := func(r recipientResult) {
		resMu.Lock()
		defer resMu.Unlock()
		rep.Delivered += r.delivered
		if r.err == nil {
			rep.Completed++
			return
		}
		rep.Failed++
		if len(rep.Failures) < maxReportedFailures {
			rep.Failures = append(rep.Failures, r.err)
		}
	}

	g.SetLimit(workersFor(cfg))
	for _, id := range ids {
		if ctx.Err() != nil {
			// not attempted
			record(recipientResult{err: &DeliveryError{ChatID: id, Repeat: 1, Reason: kit.ReasonCanceled, Err: ctx.Err()}})
			d.metrics.DeliveryFailed(string(kit.ReasonCanceled))
			continue
		}
		g.Go(func() error {
			record(d.serve(ctx, cfg, lim, log, id))
			return nil
		})
	}
	_ = g.Wait()

	rep.Duration = time.Since(rep.Started)
	rep.Canceled = ctx.Err() != nil
	d.metrics.RunCompleted(rep.Duration, rep.Recipients)

	fields := []logx.Field{
		logx.Int("recipients", rep.Recipients),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", rep.Duration),
	}
	switch {
	case rep.Canceled:
		log.Warn("broadcast canceled", fields...)
	case rep.Failed > 0:
		log.Warn("broadcast finished with failures", fields...)
	default:
		log.Info("broadcast finished", fields...)
	}

	d.lastMu.Lock()
	cp := rep
	d.last = &cp
	d.lastMu.Unlock()
	return rep
}

// serve delivers all repeats to one recipient. The delay is only taken
// between two successful sends.
func (d *Dispatcher) serve(ctx context.Context, cfg Config, lim *rate.Limiter, log logx.Logger, id string) recipientResult {
	d.metrics.InflightAdd(1)
	defer d.metrics.InflightAdd(-1)

	var res recipientResult
	fail := func(repeat int, reason kit.FailureReason, err error) recipientResult {
		res.err = &DeliveryError{ChatID: id, Repeat: repeat, Reason: reason, Err: err}
		d.metrics.DeliveryFailed(string(reason))
		log.Warn("delivery failed; skipping recipient",
			logx.String("chat_id", id),
			logx.Int("repeat", repeat),
			logx.String("reason", string(reason)),
			logx.Err(err),
		)
		return res
	}

	target, err := kit.ParseChatTarget(id)
	if err != nil {
		return fail(1, kit.ReasonInvalidID, err)
	}
	n := d.repeats.GetRepeatCount(ctx, id)

	for i := 1; i <= n; i++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return fail(i, kit.ReasonCanceled, err)
			}
		} else if err := ctx.Err(); err != nil {
			return fail(i, kit.ReasonCanceled, err)
		}

		if err := d.send(ctx, cfg, target); err != nil {
			return fail(i, d.reason(ctx, err), err)
		}
		res.delivered++
		d.metrics.DeliveryOK()

		if i < n {
			if err := d.sleep(ctx, cfg.RepeatDelay); err != nil {
				return fail(i+1, kit.ReasonCanceled, err)
			}
		}
	}
	log.Debug("recipient served", logx.String("chat_id", id), logx.Int("repeats", n))
	return res
}

func (d *Dispatcher) send(ctx context.Context, cfg Config, to kit.ChatTarget) error {
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	_, err := d.sender.SendText(ctx, to, cfg.Payload, nil)
	return err
}

func (d *Dispatcher) reason(ctx context.Context, err error) kit.FailureReason {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return kit.ReasonCanceled
	}
	if d.classify != nil {
		if r := d.classify(err); r != "" {
			return r
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kit.ReasonNetwork
	}
	return kit.ReasonUnknown
}

func workersFor(cfg Config) int {
	if cfg.Workers <= 0 {
		return DefaultWorkers
	}
	return cfg.Workers
}
