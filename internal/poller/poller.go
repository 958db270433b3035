package poller

import (
	"context"
	"time"

	"chimed/internal/history"
	"chimed/internal/notify"
	"chimed/internal/reminder"
	"chimed/internal/store"
	"chimed/pkg/logx"
)

const defaultInterval = time.Second

// Sequencer starts a reminder's playback sequence without blocking.
type Sequencer interface {
	PlaySequence(ctx context.Context, r reminder.Reminder)
}

// Notifier surfaces a firing to the user.
type Notifier interface {
	Publish(n notify.Notification)
}

// Recorder journals a firing. A nil *history.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Poller drives the firing cycle: every tick it fetches the due reminders,
// triggers playback and notification for each in store order, and advances
// them. A slow tick delays the next one; ticks are never skipped by design,
// and advancing before the next fetch keeps a reminder from double-firing.
type Poller struct {
	store    *store.Store
	seq      Sequencer
	notifier Notifier
	journal  Recorder
	log      logx.Logger

	interval time.Duration
	kick     chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

func New(st *store.Store, seq Sequencer, notifier Notifier, journal Recorder, interval time.Duration, log logx.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		store:    st,
		seq:      seq,
		notifier: notifier,
		journal:  journal,
		log:      log,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate check. Non-blocking; a pending kick coalesces.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("poller started", logx.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
			p.check(ctx, p.clock())
		case <-p.kick:
			p.check(ctx, p.clock())
		}
	}
}

func (p *Poller) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// check fires every due reminder, in store order, one after another.
func (p *Poller) check(ctx context.Context, now time.Time) {
	for _, r := range p.store.Due(now) {
		p.fire(ctx, r, now)
	}
}

func (p *Poller) fire(ctx context.Context, r reminder.Reminder, now time.Time) {
	p.log.Info("reminder due",
		logx.String("id", r.ID),
		logx.String("task", r.TaskName),
		logx.String("recurrence", r.Recurrence.String()),
		logx.Time("scheduled", r.StartAt()))

	if p.journal != nil {
		if err := p.journal.Record(ctx, history.Entry{
			ReminderID: r.ID,
			TaskName:   r.TaskName,
			Recurrence: r.Recurrence.String(),
			FiredAt:    now,
		}); err != nil {
			p.log.Warn("history record failed", logx.Err(err))
		}
	}

	p.seq.PlaySequence(ctx, r)

	if p.notifier != nil {
		p.notifier.Publish(notify.Notification{
			ReminderID: r.ID,
			TaskName:   r.TaskName,
			Recurrence: r.Recurrence.String(),
			At:         now,
		})
	}

	if err := p.store.Advance(r.ID); err != nil {
		p.log.Error("advance failed", logx.String("id", r.ID), logx.Err(err))
	}
}
