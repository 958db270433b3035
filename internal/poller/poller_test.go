package poller

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chimed/internal/notify"
	"chimed/internal/reminder"
	"chimed/internal/store"
	"chimed/pkg/logx"
)

type fakeSequencer struct {
	mu     sync.Mutex
	played []string // audio file per sequence start
}

func (f *fakeSequencer) PlaySequence(ctx context.Context, r reminder.Reminder) {
	f.mu.Lock()
	f.played = append(f.played, r.AudioFile)
	f.mu.Unlock()
}

func (f *fakeSequencer) plays() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (f *fakeNotifier) Publish(n notify.Notification) {
	f.mu.Lock()
	f.sent = append(f.sent, n)
	f.mu.Unlock()
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestPoller(t *testing.T) (*Poller, *store.Store, *fakeSequencer, *fakeNotifier) {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "reminders.json"), logx.Nop())
	seq := &fakeSequencer{}
	nt := &fakeNotifier{}
	p := New(st, seq, nt, nil, time.Second, logx.Nop())
	return p, st, seq, nt
}

func TestOneTimeReminderFiresOnceAndDeactivates(t *testing.T) {
	p, st, seq, nt := newTestPoller(t)

	now := time.Now()
	r, err := st.Add(reminder.Reminder{
		TaskName:   "announce",
		StartTime:  now.Add(-time.Second).Unix(),
		Recurrence: reminder.Recurrence{Type: reminder.RecurOneTime},
		AudioFile:  "main.wav",
		Loops:      1,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	p.check(context.Background(), now)

	if plays := seq.plays(); len(plays) != 1 || plays[0] != "main.wav" {
		t.Fatalf("expected exactly one playback of main.wav, got %v", plays)
	}
	if nt.count() != 1 {
		t.Fatalf("expected one notification, got %d", nt.count())
	}
	got, err := st.Get(r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Fatalf("one_time reminder must be inactive after the tick")
	}

	// A second tick must not re-fire it.
	p.check(context.Background(), now.Add(time.Second))
	if plays := seq.plays(); len(plays) != 1 {
		t.Fatalf("reminder re-fired: %v", plays)
	}
}

func TestDailyReminderAdvancesPastNow(t *testing.T) {
	p, st, seq, _ := newTestPoller(t)

	now := time.Now()
	r, err := st.Add(reminder.Reminder{
		TaskName:   "daily",
		StartTime:  now.Unix(),
		Recurrence: reminder.Recurrence{Type: reminder.RecurDaily},
		AudioFile:  "daily.wav",
		Loops:      1,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	p.check(context.Background(), now)

	got, err := st.Get(r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Active {
		t.Fatalf("daily reminder must stay active")
	}
	if got.StartTime != now.Unix()+86400 {
		t.Fatalf("daily reminder must advance 24h: got %d want %d", got.StartTime, now.Unix()+86400)
	}

	// Not due again within the same day.
	p.check(context.Background(), now.Add(time.Minute))
	if plays := seq.plays(); len(plays) != 1 {
		t.Fatalf("advanced reminder re-fired: %v", plays)
	}
}

func TestDueRemindersFireInStoreOrder(t *testing.T) {
	p, st, seq, _ := newTestPoller(t)

	now := time.Now()
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		if _, err := st.Add(reminder.Reminder{
			TaskName:   name,
			StartTime:  now.Add(-time.Minute).Unix(),
			Recurrence: reminder.Recurrence{Type: reminder.RecurOneTime},
			AudioFile:  name,
			Loops:      1,
			Active:     true,
		}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	p.check(context.Background(), now)

	plays := seq.plays()
	if len(plays) != 3 {
		t.Fatalf("expected 3 firings, got %v", plays)
	}
	for i, want := range []string{"a.wav", "b.wav", "c.wav"} {
		if plays[i] != want {
			t.Fatalf("firing order broken at %d: got %q want %q", i, plays[i], want)
		}
	}
}

func TestFutureAndInactiveAreSkipped(t *testing.T) {
	p, st, seq, nt := newTestPoller(t)

	now := time.Now()
	if _, err := st.Add(reminder.Reminder{
		TaskName:   "future",
		StartTime:  now.Add(time.Hour).Unix(),
		Recurrence: reminder.Recurrence{Type: reminder.RecurOneTime},
		AudioFile:  "future.wav",
		Loops:      1,
		Active:     true,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.Add(reminder.Reminder{
		TaskName:   "inactive",
		StartTime:  now.Add(-time.Hour).Unix(),
		Recurrence: reminder.Recurrence{Type: reminder.RecurOneTime},
		AudioFile:  "inactive.wav",
		Loops:      1,
		Active:     false,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	p.check(context.Background(), now)

	if len(seq.plays()) != 0 || nt.count() != 0 {
		t.Fatalf("nothing should have fired: plays=%v notifications=%d", seq.plays(), nt.count())
	}
}

func TestKickCoalesces(t *testing.T) {
	p, _, _, _ := newTestPoller(t)
	// Must never block, even when no one is draining.
	for i := 0; i < 10; i++ {
		p.Kick()
	}
}
