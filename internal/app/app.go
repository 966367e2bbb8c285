package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"replybot/internal/broadcast"
	"replybot/internal/command"
	"replybot/internal/config"
	"replybot/internal/eventbus"
	"replybot/internal/irc"
	"replybot/internal/metrics"
	"replybot/internal/observability/pprof"
	"replybot/internal/rules"
	"replybot/internal/runtime/supervisor"
	"replybot/internal/storage"
	"replybot/internal/task/engine"
	"replybot/internal/task/scheduler"
	"replybot/internal/web"
	logx "replybot/pkg/logx"
)

// DialFunc opens the chat connection. irc.Dial is used when nil.
type DialFunc func(ctx context.Context, cfg irc.Config, log logx.Logger) (*irc.Reader, *irc.Writer, error)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	engine   *engine.Service
	repo     *rules.Repository
	cache    *rules.Cache
	registry *broadcast.Registry
	metrics  *metrics.Metrics
	sched    *scheduler.Service
	web      *web.Server

	// pprof has its own supervisor; its failures never cancel the app.
	pprof    *pprof.Server
	pprofSup *supervisor.Supervisor

	dial   DialFunc
	ircCfg irc.Config
	writer *irc.Writer
	disp   *command.Dispatcher
}

type Option func(*App)

// WithDialer replaces the chat dialer.
func WithDialer(d DialFunc) Option {
	return func(a *App) { a.dial = d }
}

// New loads the config at cfgPath and builds every component. Nothing runs
// and no connection is opened until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ircCfg, err := mapIRCConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bcOpt, err := mapBroadcastOptions(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	eng := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	repo := rules.NewRepository(store, eng)
	registry := broadcast.New(bcOpt, log.With(logx.String("comp", "broadcast")))
	m := metrics.New()
	m.TrackBroadcast(registry)

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		engine:   eng,
		repo:     repo,
		cache:    rules.NewCache(),
		registry: registry,
		metrics:  m,
		sched:    scheduler.New(log.With(logx.String("comp", "scheduler")), time.Local),
		dial:     irc.Dial,
		ircCfg:   ircCfg,
	}
	if wo := mapWebOptions(cfg, bcOpt); wo.Addr != "" {
		a.web = web.New(wo, repo, registry, m.Handler(), log.With(logx.String("comp", "web")))
	}
	if cfg.Pprof.Enabled {
		a.pprof = pprof.New(mapPprofConfig(cfg), log.With(logx.String("comp", "pprof")))
	}
	for _, o := range opts {
		o(a)
	}
	if a.dial == nil {
		a.dial = irc.Dial
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads the rule table, connects to chat, and launches the background
// loops. A failed connection is returned as irc.ErrConnectionFailed.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.engine.Start(a.sup.Context())

	snap, err := a.cache.Refresh(ctx, a.repo)
	if err != nil {
		return fmt.Errorf("initial rule load: %w", err)
	}
	a.log.Info("rules loaded", logx.Int("count", len(snap.Rules)), logx.Uint64("version", snap.Version))

	ircLog := a.log.With(logx.String("comp", "irc"))
	reader, writer, err := a.dial(ctx, a.ircCfg, ircLog)
	if err != nil {
		return err
	}
	a.writer = writer
	for _, ch := range channelNames(cfg.IRC.Channels) {
		if err := writer.Join(ctx, ch); err != nil {
			_ = writer.Close()
			return err
		}
		ircLog.Info("joined channel", logx.String("channel", ch))
	}

	a.disp = command.New(a.repo, a.cache, a.registry, writer, a.bus, a.metrics,
		a.log.With(logx.String("comp", "dispatch")), mapDispatchOptions(cfg, a.engine.Snapshot().Workers))
	a.disp.Publish(snap, "startup")

	a.sup.Go0("metrics.events", func(c context.Context) { a.metrics.Consume(c, a.bus) })
	a.sup.Go("commands.dispatch", a.disp.Run)
	a.sup.Go("irc.read", func(c context.Context) error { return a.readLoop(c, reader, writer, ircLog) })
	if a.web != nil {
		a.sup.Go("http", a.web.Run)
	}

	if spec := strings.TrimSpace(cfg.Cache.Resync); spec != "" {
		if err := a.sched.Add("cache.resync", spec, time.Minute, a.resync); err != nil {
			return err
		}
	}
	a.sched.Start(a.sup.Context())

	if a.pprof != nil {
		a.pprofSup = supervisor.New(a.sup.Context(), supervisor.WithLogger(a.log.With(logx.String("comp", "pprof"))))
		a.pprofSup.GoRestart("pprof.serve", a.pprof.Run,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			supervisor.WithMaxRestarts(5),
		)
	}

	a.startConfigReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.Int("channels", len(cfg.IRC.Channels)), logx.Bool("http", a.web != nil))
	return nil
}

// readLoop owns the connection reader. A failed read ends the loop with an
// error, which cancels the app.
func (a *App) readLoop(ctx context.Context, r *irc.Reader, w *irc.Writer, log logx.Logger) error {
	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()

	for {
		line, err := r.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("connection lost", logx.Err(err))
			return err
		}
		a.metrics.LineRead()

		if token, ok := irc.PingToken(line); ok {
			if err := w.Pong(token); err != nil {
				log.Warn("pong failed", logx.Err(err))
			}
			continue
		}
		a.disp.Route(irc.Parse(line))
	}
}

func (a *App) startConfigReload() {
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
				// keep only the latest config of a burst
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// applyConfig hot-applies logging. Every other section needs a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLoggingConfig(next))

	var restart []string
	for _, s := range sections {
		if s != "logging" {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop unwinds everything Start launched. Each step is bounded so one slow
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeUnstarted()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("irc", time.Second, func(context.Context) error {
		if a.writer != nil {
			_ = a.writer.Close()
		}
		return nil
	})
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	if a.pprofSup != nil {
		step("pprof", 3*time.Second, func(c context.Context) error { return a.pprofSup.Stop(c) })
	}
	step("broadcast", 2*time.Second, func(context.Context) error { a.registry.Close(); return nil })

	es := a.engine.Snapshot()
	a.log.Info("task engine summary",
		logx.Uint64("completed", es.Completed),
		logx.Uint64("failed", es.Failed),
		logx.Uint64("dropped_stale", es.DroppedStale),
		logx.Int("queue_len", es.QueueLen),
		logx.Int("history", len(es.History)),
	)
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closeUnstarted() error {
	a.registry.Close()
	err := a.store.Close()
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}
