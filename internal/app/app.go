// Package app wires the daemon together: config, logging, the event
// bus, the context store, the rule engine, the trigger scheduler, the
// notification pipeline, the connectors and the REST facade.
package app

import (
	"context"
	"fmt"
	"time"

	"angeld/internal/api"
	"angeld/internal/config"
	"angeld/internal/connectors/activity"
	"angeld/internal/connectors/weather"
	"angeld/internal/contextstore"
	"angeld/internal/eventbus"
	"angeld/internal/notify"
	"angeld/internal/recommend"
	rtsup "angeld/internal/runtime/supervisor"
	"angeld/internal/schedule"
	"angeld/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus      *eventbus.Bus
	store    *contextstore.Store
	engine   *recommend.Service
	sched    *schedule.Service
	notif    *notify.Service
	notifyOn bool
	server   *api.Server

	actConn *activity.Service
	wxConn  *weather.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New(eventbus.Config{
		QueueSize:   cfg.Bus.QueueSize,
		HistorySize: cfg.Bus.HistorySize,
	}, log.With(logx.String("comp", "bus")))

	store := contextstore.New(log.With(logx.String("comp", "context")))

	rcfg, err := mapRecommendConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine := recommend.New(rcfg, bus, store, log.With(logx.String("comp", "recommend")))

	sched := schedule.New(schedule.Config{}, log.With(logx.String("comp", "schedule")))

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notify.New(ncfg, log.With(logx.String("comp", "notify")))

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		engine:   engine,
		sched:    sched,
		notif:    notif,
		notifyOn: cfg.Notify.IsEnabled(),
	}

	if cfg.Server.IsEnabled() {
		a.server = api.NewServer(api.Config{
			Addr:  cfg.Server.Addr,
			Token: cfg.Server.Token,
		}, api.Deps{
			Bus:    bus,
			Store:  store,
			Notify: notif,
			Status: a.statusSnapshot,
		}, log.With(logx.String("comp", "api")))
	}

	if cfg.Connectors.Activity.Enabled {
		poll, err := config.ParseDurationOrDefault("connectors.activity.poll_interval",
			cfg.Connectors.Activity.PollInterval, 10*time.Second)
		if err != nil {
			return nil, err
		}
		a.actConn = activity.New(activity.Config{
			URL:          cfg.Connectors.Activity.URL,
			APIKey:       cfg.Connectors.Activity.APIKey,
			PollInterval: poll,
		}, bus, log.With(logx.String("comp", "connector.activity")))
	}

	if cfg.Connectors.Weather.Enabled {
		poll, err := config.ParseDurationOrDefault("connectors.weather.poll_interval",
			cfg.Connectors.Weather.PollInterval, time.Hour)
		if err != nil {
			return nil, err
		}
		a.wxConn = weather.New(weather.Config{
			URL:          cfg.Connectors.Weather.URL,
			APIKey:       cfg.Connectors.Weather.APIKey,
			Location:     cfg.Connectors.Weather.Location,
			PollInterval: poll,
		}, bus, log.With(logx.String("comp", "connector.weather")))
	}

	return a, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Reject a hot reload that would fail when mapped to services.
		if _, err := mapRecommendConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	cfg := a.cfgm.Get()

	// Bus first; everything downstream publishes into it. Handler
	// registration order matters: the context store must see an
	// activity before the rule engine evaluates it.
	a.bus.Start(runCtx)
	a.store.AttachBus(a.bus)
	a.engine.AttachBus(a.bus)
	if a.notifyOn {
		a.notif.Start(runCtx)
		a.notif.AttachBus(a.bus)
	} else {
		a.log.Info("notification pipeline disabled")
	}

	if err := a.registerTriggers(cfg); err != nil {
		return err
	}
	refresh, err := config.ParseDurationOrDefault("context.refresh_interval",
		cfg.Context.RefreshInterval, 5*time.Minute)
	if err != nil {
		return err
	}
	if err := a.sched.AddInterval("context.refresh", refresh, func(context.Context) {
		a.store.Refresh()
	}); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	// Connectors are best-effort: a failed start leaves the rest of the
	// daemon serving.
	if a.actConn != nil {
		if err := a.actConn.Start(runCtx); err != nil {
			a.log.Warn("activity connector not started", logx.Err(err))
		}
	}
	if a.wxConn != nil {
		if err := a.wxConn.Start(runCtx); err != nil {
			a.log.Warn("weather connector not started", logx.Err(err))
		}
	}

	if a.server != nil {
		if err := a.server.Start(runCtx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	lastApplied := cfg
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("angeld started")
	return nil
}

// applyConfig applies the live-reloadable parts of a new config.
// Trigger time lists are restart-scoped: changing them logs a notice
// but keeps the registered triggers.
func (a *App) applyConfig(prev, cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))

	if rcfg, err := mapRecommendConfig(cfg); err != nil {
		a.log.Warn("invalid recommendations config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(rcfg)
	}

	if ncfg, err := mapNotifyConfig(cfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if triggersChanged(prev, cfg) {
		a.log.Info("trigger times changed; restart to apply new schedule")
	}

	a.log.Info("config reloaded")
}

func triggersChanged(prev, cur *config.Config) bool {
	if prev == nil || cur == nil {
		return false
	}
	return !equalStrings(prev.Recommendations.MedicationTimes, cur.Recommendations.MedicationTimes) ||
		!equalStrings(prev.Recommendations.MealTimes, cur.Recommendations.MealTimes) ||
		!equalStrings(prev.Recommendations.WeatherTimes, cur.Recommendations.WeatherTimes)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// registerTriggers installs the daily check points from config.
func (a *App) registerTriggers(cfg *config.Config) error {
	for _, t := range cfg.Recommendations.MedicationTimes {
		if err := a.sched.AddDaily("medication", t, a.engine.CheckMedication); err != nil {
			return err
		}
	}
	for _, t := range cfg.Recommendations.MealTimes {
		if err := a.sched.AddDaily("meal", t, a.engine.CheckMeal); err != nil {
			return err
		}
	}
	for _, t := range cfg.Recommendations.WeatherTimes {
		if err := a.sched.AddDaily("weather", t, a.engine.CheckWeather); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) statusSnapshot() map[string]any {
	return map[string]any{
		"bus":       a.bus.Snapshot(),
		"scheduler": a.sched.Snapshot(),
		"notify":    a.notif.Snapshot(),
		"recommend": map[string]any{"last_fired": a.engine.LastFired()},
		"context":   map[string]any{"time_of_day": a.store.Snapshot().TimeOfDay},
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// step bounds each shutdown phase so one component cannot stall the
	// whole stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		fn(stepCtx)
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("api", 2*time.Second, func(c context.Context) {
		if a.server != nil {
			a.server.Stop(c)
		}
	})
	step("connectors", 2*time.Second, func(c context.Context) {
		if a.actConn != nil {
			a.actConn.Stop(c)
		}
		if a.wxConn != nil {
			a.wxConn.Stop(c)
		}
	})
	step("scheduler", 2*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("bus", 3*time.Second, func(c context.Context) { a.bus.Stop(c) })
	step("notify", 3*time.Second, func(c context.Context) { a.notif.Stop(c) })

	a.sup.Stop(2 * time.Second)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	}
}

func mapRecommendConfig(cfg *config.Config) (recommend.Config, error) {
	cooldowns := make(map[string]time.Duration, len(cfg.Recommendations.Cooldowns))
	for cat, raw := range cfg.Recommendations.Cooldowns {
		d, err := config.ParseDurationField("recommendations.cooldowns."+cat, raw)
		if err != nil {
			return recommend.Config{}, err
		}
		cooldowns[cat] = d
	}
	return recommend.Config{
		Times: recommend.Times{
			Medication: cfg.Recommendations.MedicationTimes,
			Meal:       cfg.Recommendations.MealTimes,
		},
		Cooldowns: cooldowns,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	dedup, err := config.ParseDurationOrDefault("notify.dedup_window",
		cfg.Notify.DedupWindow, 5*time.Minute)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		RatePerSec:  cfg.Notify.RatePerSec,
		DedupWindow: dedup,
	}, nil
}
