package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"netpulse/internal/config"
	"netpulse/internal/display"
	"netpulse/internal/eventbus"
	"netpulse/internal/gesture"
	"netpulse/internal/input"
	"netpulse/internal/measure"
	"netpulse/internal/metrics"
	"netpulse/internal/observability/pprof"
	"netpulse/internal/report"
	"netpulse/internal/runtime/supervisor"
	"netpulse/internal/view"
	logx "netpulse/pkg/logx"
	"netpulse/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	sd   systemd.Notifier

	timings timings
	stdin   io.Reader

	sched     *measure.Scheduler
	displays  display.Multi
	telegram  *display.Telegram
	web       *display.Web
	collector *metrics.Collector
	reporter  *report.Reporter

	// Built in Start: they run under the supervisor.
	ctrl   *view.Controller
	driver *gesture.Driver
	lines  *input.Lines
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	tm, err := mapTimings(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		timings: tm,
	}
	if cfg.Input.Stdin {
		a.stdin = os.Stdin
	}

	prober, err := newProber(cfg, tm.transfer)
	if err != nil {
		return nil, err
	}

	if err := a.buildDisplays(cfg); err != nil {
		return nil, err
	}

	sched, err := measure.New(prober, measure.Config{Pause: tm.pause},
		measure.WithNotifier(a.displays),
		measure.WithBus(a.bus),
		measure.WithLogger(log.With(logx.String("comp", "measure"))),
	)
	if err != nil {
		return nil, err
	}
	a.sched = sched

	if cfg.Report.Enabled {
		r, err := report.New(sched, cfg.Report.Schedule, log.With(logx.String("comp", "report")))
		if err != nil {
			return nil, err
		}
		a.reporter = r
	}

	log.Info("configured",
		logx.String("config", cfgPath),
		logx.String("probe.backend", cfg.Probe.Backend),
		logx.Int("displays", len(a.displays)),
		logx.Duration("pause", tm.pause),
	)
	return a, nil
}

func (a *App) buildDisplays(cfg *config.Config) error {
	d := cfg.Display

	if t := d.Telegram; t.Enabled {
		bot, err := display.NewBot(t.Token)
		if err != nil {
			return fmt.Errorf("display.telegram: %w", err)
		}
		tg, err := display.NewTelegram(bot, mapTelegramConfig(cfg), a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return err
		}
		a.telegram = tg
		a.displays = append(a.displays, tg)
	}

	if w := d.Web; w.Enabled {
		wc := display.WebConfig{Addr: w.Addr, Health: a.health}
		if w.Metrics {
			a.collector = metrics.NewCollector(a)
			wc.Metrics = metrics.Handler(metrics.NewRegistry(a.collector))
		}
		if w.Pprof {
			wc.Debug = pprof.Handler(w.PprofToken)
		}
		a.web = display.NewWeb(wc, a, a, a.log.With(logx.String("comp", "web")))
		a.displays = append(a.displays, a.web)
	}

	// The console is the fallback so the view always goes somewhere.
	if d.Console.Enabled || len(a.displays) == 0 {
		a.displays = append(a.displays, display.NewConsole(os.Stdout, a.log.With(logx.String("comp", "console"))))
	}
	return nil
}

// Snapshot is the current measurement state.
func (a *App) Snapshot() measure.Snapshot { return a.sched.Snapshot() }

// Submit feeds a pointer event into the gesture driver. It returns false
// before Start or when the driver queue is full.
func (a *App) Submit(p gesture.Pointer) bool {
	if a.driver == nil {
		return false
	}
	return a.driver.Submit(p)
}

type health struct {
	Cycles     uint64              `json:"cycles"`
	Stopped    bool                `json:"stopped"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
	Bus        eventbus.Stats      `json:"bus"`
}

func (a *App) health() any {
	h := health{Cycles: a.sched.Cycles(), Stopped: a.sched.Stopped(), Bus: a.bus.Stats()}
	if a.sup != nil {
		h.Supervisor = a.sup.Snapshot()
	}
	return h
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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := validate(cfg); err != nil {
			return err
		}
		if cfg.Report.Enabled {
			if _, err := report.ParseSchedule(cfg.Report.Schedule); err != nil {
				return err
			}
		}
		return nil
	})

	a.ctrl = view.NewController(a.sched, a.displays,
		view.WithRefreshInterval(a.timings.refresh),
		view.WithSpawner(a.sup),
		view.WithBus(a.bus),
		view.WithLogger(a.log.With(logx.String("comp", "view"))),
	)
	a.driver = gesture.NewDriver(a.ctrl,
		gesture.WithTickInterval(a.timings.tick),
		gesture.WithLogger(a.log.With(logx.String("comp", "gesture"))),
	)

	// Initial view: averages mode, nothing measured yet.
	a.displays.SetMode(display.ModeAverages)
	a.displays.ShowAverages(a.sched.Averages())

	a.sup.Go("gesture.driver", a.driver.Run)
	a.sup.Go("measure.loop", a.sched.Run)

	if a.telegram != nil {
		a.sup.GoRestart("display.telegram", a.telegram.Run, supervisor.WithBackoff(time.Second, 30*time.Second))
	}
	if a.web != nil {
		a.sup.Go("display.web", a.web.Run)
	}
	if a.collector != nil {
		a.sup.Go0("metrics.consume", func(c context.Context) { a.collector.Consume(c, a.bus) })
	}
	if a.reporter != nil {
		a.sup.Go("report", a.reporter.Run)
	}
	if a.stdin != nil {
		a.lines = input.NewLines(a.stdin, a.driver, "stdin", a.log.With(logx.String("comp", "input")))
		a.sup.Go("input.stdin", a.lines.Run)
	}

	// Debug-level event trace; frequent, so never above debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
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
				// Coalesce bursts: keep only the latest config in the channel.
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

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := a.sd.Watchdog(c); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})
	if ok, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started")
	return nil
}

// applyConfig applies the live-reloadable part of a new config (logging)
// and reports the sections that need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	var pending []string
	for _, s := range sections {
		if restartSections[s] {
			pending = append(pending, s)
		}
	}
	if len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// The loop stops at its next cycle boundary; cancel interrupts an in-flight transfer.
	a.sched.Stop()
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("view", time.Second, func(context.Context) error {
		if a.ctrl != nil {
			a.ctrl.Close()
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("displays", time.Second, func(context.Context) error { return a.displays.Close() })

	a.log.Info("stopped",
		logx.Uint64("cycles", a.sched.Cycles()),
		logx.Uint64("events", a.bus.Stats().Published),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
