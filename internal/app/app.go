package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"habitbot/internal/config"
	"habitbot/internal/eventbus"
	"habitbot/internal/httpapi"
	"habitbot/internal/notifier"
	"habitbot/internal/reminder"
	rtsup "habitbot/internal/runtime/supervisor"
	"habitbot/internal/storage"
	"habitbot/internal/transport/telegram"
	logx "habitbot/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	tele "gopkg.in/telebot.v4"
)

type options struct {
	offline bool
}

type Option func(*options)

// WithOffline builds the Telegram client without contacting the API.
// Sends still go out; only the startup identity check is skipped.
func WithOffline() Option {
	return func(o *options) { o.offline = true }
}

// App wires storage, the dispatcher, its trigger and the optional chat bot
// and HTTP API.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store storage.Store
	tb    *tele.Bot
	bus   eventbus.Bus
	disp  *reminder.Dispatcher
	trig  *reminder.Trigger
	bot   *telegram.Bot
	http  *httpapi.Server

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	config.LoadDotEnv(cfgPath)
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, logs: logs, log: log, bus: eventbus.New()}
	if err := a.build(cfg, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, o options) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	a.store, err = OpenStore(cfg, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	a.tb, err = newTeleBot(cfg, a.log.With(logx.String("comp", "telegram")), o.offline)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	notif := notifier.NewTelegram(a.tb, notifier.Config{
		RatePerSec:  cfg.Reminders.RatePerSec,
		SendTimeout: cfg.SendTimeout(),
	}, a.log.With(logx.String("comp", "notifier")))

	a.disp = reminder.NewDispatcher(a.store, notif, reminder.Options{
		DefaultRecipient: cfg.Reminders.DefaultChatID,
		OnError:          cfg.Policy(),
		Location:         loc,
		Log:              a.log.With(logx.String("comp", "dispatcher")),
		Bus:              a.bus,
	})

	a.trig, err = reminder.NewTrigger(a.disp, reminder.TriggerConfig{
		Schedule: cfg.Reminders.Schedule,
		Location: loc,
	}, a.log.With(logx.String("comp", "trigger")))
	if err != nil {
		return err
	}

	if cfg.PollingEnabled() {
		a.bot, err = telegram.New(a.tb, a.store, a.disp, telegram.Config{
			IsOwner: func(id int64) bool { return a.cfgm.Get().IsOwner(id) },
		}, a.log.With(logx.String("comp", "bot")))
		if err != nil {
			return err
		}
	}

	if cfg.HTTP.Enabled {
		h := httpapi.NewRouter(httpapi.Deps{
			Store:  a.store,
			Runner: a.disp,
			Status: a.Status,
			Log:    a.log.With(logx.String("comp", "http")),
		}, httpapi.Options{
			Token:       cfg.HTTP.Token,
			CORSOrigins: cfg.HTTP.CORSOrigins,
			Pprof:       cfg.HTTP.Pprof,
		})
		a.http = httpapi.NewServer(cfg.HTTPAddr(), h, a.log.With(logx.String("comp", "http")))
	}
	return nil
}

// Logger returns the app's root logger.
func (a *App) Logger() logx.Logger { return a.log }

// Check runs the dispatcher once, outside the periodic trigger.
func (a *App) Check(ctx context.Context, at string) (reminder.Report, error) {
	return a.disp.Run(ctx, at)
}

// Status is the snapshot served on /status.
type Status struct {
	Reminders  reminder.TriggerStatus `json:"reminders"`
	Supervisor rtsup.Snapshot         `json:"supervisor"`
	Bot        *rtsup.Snapshot        `json:"bot,omitempty"`
}

func (a *App) Status() any {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()

	st := Status{Reminders: a.trig.Status(), Supervisor: sup.Snapshot()}
	if a.bot != nil {
		snap := a.bot.Snapshot()
		st.Bot = &snap
	}
	return st
}

// Done is closed once the app's run context ends, including after a fatal
// task error.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first task error, if any.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))), rtsup.WithCancelOnError(true))
	sup := a.sup
	a.mu.Unlock()

	cfg := a.cfgm.Get()
	if cfg.RemindersEnabled() {
		a.trig.Start(sup.Context())
	} else {
		a.log.Info("reminders disabled; trigger not started")
	}
	if a.bot != nil {
		a.bot.Start(sup.Context())
	}
	if a.http != nil {
		sup.Go("http", a.http.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
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
	sup.Go0("config.reload", func(c context.Context) {
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
				// Coalesce bursts: only the newest config matters.
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
	})

	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Bool("reminders", cfg.RemindersEnabled()),
		logx.Bool("polling", a.bot != nil),
		logx.Bool("http", a.http != nil),
	)
	return nil
}

// apply pushes the live-reloadable settings into running components.
func (a *App) apply(oldCfg, newCfg *config.Config) {
	changed, _ := config.Summarize(oldCfg, newCfg)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(logConfig(newCfg))
	a.disp.SetDefaultRecipient(newCfg.Reminders.DefaultChatID)
	a.disp.SetPolicy(newCfg.Policy())

	if config.RequiresRestart(changed, oldCfg, newCfg) {
		a.log.Warn("config change requires restart to take full effect", logx.Any("sections", changed))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("trigger", 3*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	step("bot", 3*time.Second, func(c context.Context) error {
		if a.bot != nil {
			a.bot.Stop(c)
		}
		return nil
	})
	// http, config watch and the log subscriber unwind with the supervisor.
	step("supervisor", 6*time.Second, func(c context.Context) error { return sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() {
	if err := a.closeStore(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) closeStore() error {
	a.mu.Lock()
	st := a.store
	a.store = nil
	a.mu.Unlock()
	if st == nil {
		return nil
	}
	return st.Close()
}
