package core

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"chimed/internal/audio"
	"chimed/internal/config"
	"chimed/internal/history"
	"chimed/internal/notify"
	"chimed/internal/poller"
	"chimed/internal/store"
	"chimed/pkg/logx"
)

// App wires the daemon together: config manager, logging service, reminder
// store, firing journal, audio sequencer, notifier, and the poll loop.
type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store   *store.Store
	journal *history.Journal
	seq     *audio.Sequencer
	notif   *notify.Service
	poll    *poller.Poller

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		// First run: no config file yet, start on defaults. The file watch
		// picks it up if one appears later.
		cfg = &config.Config{}
	}

	logs, root := logx.New(loggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	st := store.Open(cfg.StorePath(), root.With(logx.String("comp", "store")))

	// Durations were validated at Load.
	maxAge, _ := cfg.HistoryMaxAge()
	busyTimeout, _ := cfg.HistoryBusyTimeout()
	journal, err := history.Open(history.Config{
		Path:        cfg.History.Path,
		MaxAge:      maxAge,
		BusyTimeout: busyTimeout,
	}, root.With(logx.String("comp", "history")))
	if err != nil {
		// The journal is supplemental; run without it rather than refuse to start.
		log.Warn("history journal unavailable", logx.Err(err))
		journal = nil
	}

	player, err := audio.NewExecPlayer(cfg.PlayerCmd(), root.With(logx.String("comp", "player")))
	if err != nil {
		return nil, err
	}
	seq := audio.NewSequencer(player, cfg.Audio.PreAudioDir, root.With(logx.String("comp", "audio")))

	notifSvc := notify.New(notifierConfig(cfg), buildSinks(cfg, log), root.With(logx.String("comp", "notifier")))

	// Playback failures are reported, never fatal to the firing cycle.
	seq.SetErrorHandler(func(taskName string, err error) {
		notifSvc.Publish(notify.Notification{
			TaskName:   taskName,
			Recurrence: "playback failed: " + err.Error(),
			At:         time.Now(),
		})
	})

	interval, _ := cfg.PollInterval()
	poll := poller.New(st, seq, notifSvc, journal, interval, root.With(logx.String("comp", "poller")))

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		store:   st,
		journal: journal,
		seq:     seq,
		notif:   notifSvc,
		poll:    poll,
	}, nil
}

// Store exposes the reminder store for frontends built on top of the daemon.
func (a *App) Store() *store.Store { return a.store }

// Sequencer exposes playback control (toggle, preview) for frontends.
func (a *App) Sequencer() *audio.Sequencer { return a.seq }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.notif.Start(runCtx)
	if a.journal != nil {
		a.journal.StartMaintenance(runCtx)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.poll.Run(runCtx)
	}()

	// External edits to the reminders file trigger an immediate check, so a
	// reminder added already-due fires without waiting for the next tick.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.store.Watch(runCtx, a.poll.Kick)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.cfgm.Watch(runCtx)
	}()

	sub := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reapplyLoop(runCtx, sub)
	}()

	a.notifyReadiness(runCtx)

	a.log.Info("chimed started",
		logx.String("config", a.cfgm.Path()),
		logx.String("store", a.store.Path()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cancel != nil {
		a.cancel()
	}
	a.seq.Stop()
	a.notif.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out", logx.Err(ctx.Err()))
	}

	if a.journal != nil {
		_ = a.journal.Close()
	}
	a.log.Info("chimed stopped")
	return a.logs.Close()
}

// reapplyLoop picks up committed config changes and re-applies the hot
// settings. Sink set and poll interval are fixed at construction; changing
// those takes a restart.
func (a *App) reapplyLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(loggingConfig(cfg))
			a.notif.Apply(notifierConfig(cfg))
			a.log.Info("config reapplied")
		}
	}
}

// notifyReadiness signals READY=1 and, when the unit has WatchdogSec set,
// keeps the watchdog fed at half the interval. Outside systemd both calls
// are no-ops.
func (a *App) notifyReadiness(ctx context.Context) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd readiness signaled")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func notifierConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Enabled:    cfg.Notifier.Enabled,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func buildSinks(cfg *config.Config, log logx.Logger) []notify.Sink {
	var sinks []notify.Sink
	if strings.TrimSpace(cfg.Notifier.Command) != "" {
		s, err := notify.NewCommandSink(cfg.Notifier.Command)
		if err != nil {
			log.Warn("command sink unavailable", logx.Err(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	if strings.TrimSpace(cfg.Notifier.Telegram.Token) != "" {
		s, err := notify.NewTelegramSink(cfg.Notifier.Telegram.Token, cfg.Notifier.Telegram.ChatID)
		if err != nil {
			// Likely offline at boot; the daemon still runs.
			log.Warn("telegram sink unavailable", logx.Err(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}
