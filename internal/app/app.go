package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/broadcast"
	"remindbot/internal/config"
	"remindbot/internal/observability/metrics"
	"remindbot/internal/observability/ops"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/subscription"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgPath string
	started time.Time

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	stores   storage.Stores
	registry *subscription.Registry
	prefs    *subscription.Preferences

	metrics    *metrics.Metrics
	dispatcher *broadcast.Dispatcher
	sched      *scheduler.Service
	adapter    *telegram.Adapter
	cmdm       *router.CommandManager
	ops        *ops.Service

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateForApp(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		SendTimeout: bcfg.SendTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	stores, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if cfg.Storage.ImportLegacy && !usesFlatFiles(sc) {
		ictx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := storage.ImportLegacy(ictx, sc.UsersFile, sc.RepeatsFile, stores, log.With(logx.String("comp", "storage")))
		cancel()
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("legacy import: %w", err)
		}
	}
	appLog.Info("storage opened", logx.String("driver", orDefault(sc.Driver, "file")))

	registry := subscription.NewRegistry(stores.Subscribers, log.With(logx.String("comp", "registry")))
	prefs := subscription.NewPreferences(stores.Repeats, log.With(logx.String("comp", "preferences")))

	m := metrics.New()
	disp := broadcast.New(bcfg, ad, registry, prefs, log.With(logx.String("comp", "broadcast")),
		broadcast.WithMetrics(m),
		broadcast.WithClassifier(telegram.ClassifySendError),
	)

	sched, err := scheduler.New(scheduler.Config{Timezone: cfg.Broadcast.Timezone}, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	triggers, err := mapTriggers(cfg)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	for _, t := range triggers {
		// no job timeout: a run ends on its own or when the scheduler stops
		if err := sched.AddDaily("broadcast@"+t.String(), t, 0, func(ctx context.Context, name string) {
			disp.Trigger(ctx, name)
		}); err != nil {
			_ = stores.Close()
			return nil, err
		}
	}

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, 0)
	cmdm.SetRegistry(router.BotCommands(router.Deps{
		Subscriptions: registry,
		Prefs:         prefs,
		Schedule:      sched,
	}))

	a := &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        appLog,
		logs:       logSvc,
		stores:     stores,
		registry:   registry,
		prefs:      prefs,
		metrics:    m,
		dispatcher: disp,
		sched:      sched,
		adapter:    ad,
		cmdm:       cmdm,
		updates:    make(chan kit.Update, 256),
	}
	if cfg.Metrics.Enabled {
		a.ops = ops.New(mapOpsConfig(cfg), m.Handler(), a.health, log.With(logx.String("comp", "ops")))
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateForApp(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go0("telegram.menu.update", func(c context.Context) {
		if err := a.cmdm.PublishMenu(c); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.ops != nil {
		if err := a.ops.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified (READY=1)")
	}

	next := a.sched.NextFire()
	a.log.Info("app started",
		logx.Int("triggers", len(a.sched.Entries())),
		logx.Time("next_broadcast", next),
	)
	return nil
}

// applyConfig applies the hot-reloadable parts of newCfg.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if bcfg, err := mapBroadcastConfig(newCfg); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.dispatcher.Apply(bcfg)
	}

	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// The scheduler goes first so an in-flight broadcast gets a chance to
	// finish before the gateway disappears.
	a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "broadcast", 2*time.Second, func(c context.Context) error { return a.waitBroadcastIdle(c) })

	a.sup.Cancel()

	a.step(ctx, "ops", 1*time.Second, func(c context.Context) error {
		if a.ops != nil {
			a.ops.Stop(c)
		}
		return nil
	})
	a.step(ctx, "adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error { return a.stores.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) waitBroadcastIdle(ctx context.Context) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for a.dispatcher.Running() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// step runs one shutdown step bounded by max so a stuck component cannot
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		// never extend the caller's deadline
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
