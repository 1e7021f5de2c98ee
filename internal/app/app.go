package app

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"orderbot/internal/config"
	"orderbot/internal/delivery"
	"orderbot/internal/dispatch"
	"orderbot/internal/eventbus"
	"orderbot/internal/httpapi"
	"orderbot/internal/order"
	"orderbot/internal/report"
	rtsup "orderbot/internal/runtime/supervisor"
	"orderbot/internal/storage"
	kit "orderbot/internal/transport"
	telegram "orderbot/internal/transport/telegram/adapter"
	"orderbot/internal/transport/telegram/router"
	logx "orderbot/pkg/logx"
)

// Sample job sent by the /test_order command.
const (
	testBouquet      = "Roses in a basket"
	testPriceMinor   = 3500
	testCurrency     = "€"
	testDeliveryDate = "30.12.2025"
	testImagePath    = "media/products/test_bouquet.jpg"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store
	reg   *prometheus.Registry

	adapter *telegram.Adapter
	disp    *dispatch.Dispatcher
	router  *router.Router
	http    *httpapi.Server
	report  *report.Reporter

	poll    bool
	updates chan kit.Update
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log)
	appLog := log.With(logx.String("comp", "app"))

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		if store, err = storage.Open(sc, log); err != nil {
			return nil, err
		}
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	client := delivery.NewClient(ad, log, delivery.WithMediaRoot(cfg.Telegram.MediaRoot))
	opts := []dispatch.Option{dispatch.WithBus(bus), dispatch.WithMetrics(dispatch.NewMetrics(reg))}
	if store != nil {
		opts = append(opts, dispatch.WithStore(store))
	}
	disp := dispatch.New(dcfg, client, log, opts...)

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		reg:     reg,
		adapter: ad,
		disp:    disp,
		poll:    cfg.Telegram.PollCommands,
		updates: make(chan kit.Update, 64),
	}

	// Everything that talks to Telegram goes through the dispatch loop.
	out := disp.Sender(ad)
	a.router = router.New(router.Config{OperatorChatID: cfg.Telegram.OperatorChatID}, out, log)
	router.RegisterBuiltins(a.router, a.sendTestOrder)

	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.http = httpapi.New(hc, disp, log, httpapi.WithGatherer(reg), httpapi.WithCurrency(testCurrency))
	}

	rc, err := mapReportConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.report = report.New(rc, disp, bus, out, log)
	return a, nil
}

// Dispatcher exposes the submission bridge to in-process producers.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }

// HTTPAddr returns the bound ops/intake address, "" when disabled.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
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

func (a *App) sendTestOrder(context.Context) (string, error) {
	j := order.NewTestOrder(testBouquet, order.Money{Minor: testPriceMinor, Currency: testCurrency}, testDeliveryDate, testImagePath)
	adm := a.disp.Submit(j)
	if !adm.Queued() {
		return "", fmt.Errorf("test order not queued: %s", adm)
	}
	return fmt.Sprintf("Test order queued (%s).", j.ID), nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.disp.Start(a.sup.Context())

	if a.poll {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.DispatchLoop(c, a.updates)
		})
		a.sup.Go0("commands.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			cmds := a.router.MenuCommands()
			err := a.disp.Do(mctx, "commands.menu", func(c context.Context) error {
				return a.adapter.UpdateMenuCommands(c, cmds)
			})
			if err != nil {
				a.log.Warn("bot command menu update failed", logx.Err(err))
			}
		})
	}

	if a.http != nil {
		if err := a.http.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if cfg := a.cfgm.Get(); cfg != nil && cfg.Report.Enabled {
		if err := a.report.Start(); err != nil {
			return err
		}
	}

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

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startWatchdog()
	a.sdNotify(daemonReady)
	a.log.Info("app started",
		logx.Bool("poll_commands", a.poll),
		logx.String("http", a.HTTPAddr()),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.sdNotify(daemonStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	drainMax := 16 * time.Second
	if cfg := a.cfgm.Get(); cfg != nil {
		if dc, err := mapDispatchConfig(cfg); err == nil {
			drainMax = cmp.Or(dc.DrainTimeout, 5*time.Second) + cmp.Or(dc.SendTimeout, 10*time.Second) + time.Second
		}
	}

	// Intake closes first so nothing new arrives while the queue drains.
	a.step(ctx, "http", 3*time.Second, func(c context.Context) error {
		if a.http != nil {
			return a.http.Stop(c)
		}
		return nil
	})
	a.step(ctx, "report", 2*time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	a.step(ctx, "dispatcher", drainMax, func(c context.Context) error { return a.disp.Stop(c) })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max (never beyond ctx's deadline)
// so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
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
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}

// restartOnly lists sections whose changes need a process restart.
var restartOnly = map[string]string{
	"telegram": "telegram token, api url and polling",
	"storage":  "storage",
	"http":     "http server",
}

func (a *App) reloadLoop(c context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-c.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = cfg
		}
		// Coalesce bursts: keep only the latest config.
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
		a.apply(lastApplied, newCfg)
		lastApplied = newCfg
	}
}

func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if what, ok := restartOnly[s]; ok {
			a.log.Warn("config change requires restart to take effect", logx.String("section", s), logx.String("affects", what))
		}
	}

	a.logs.Apply(mapLogConfig(next))

	if dc, err := mapDispatchConfig(next); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		// The recipient and polling are fixed for the process lifetime.
		dc.ChatID = prev.Telegram.OperatorChatID
		a.disp.Apply(dc)
	}

	if rc, err := mapReportConfig(next); err != nil {
		a.log.Warn("invalid report config; keeping previous", logx.Err(err))
	} else {
		rc.ChatID = prev.Telegram.OperatorChatID
		switch {
		case prev.Report.Enabled && !next.Report.Enabled:
			stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			a.report.Stop(stopCtx)
			cancel()
			_ = a.report.Apply(rc)
			a.log.Info("digest disabled via config")
		case next.Report.Enabled:
			if err := a.report.Apply(rc); err != nil {
				a.log.Warn("report reschedule failed", logx.Err(err))
			} else if err := a.report.Start(); err != nil {
				a.log.Warn("report start failed", logx.Err(err))
			}
		default:
			_ = a.report.Apply(rc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
