package audio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chimed/internal/reminder"
	"chimed/pkg/logx"
)

// fakePlayer records every play and can fail specific paths.
type fakePlayer struct {
	mu      sync.Mutex
	events  []string
	failOn  map[string]error
	playing bool
}

func (f *fakePlayer) Play(ctx context.Context, path string) error {
	f.mu.Lock()
	f.events = append(f.events, "play:"+path)
	err := f.failOn[path]
	f.mu.Unlock()
	return err
}

func (f *fakePlayer) Stop() {}

func (f *fakePlayer) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakePlayer) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func recordSleep(f *fakePlayer) func(context.Context, time.Duration) {
	return func(_ context.Context, d time.Duration) {
		f.mu.Lock()
		f.events = append(f.events, "wait:"+d.String())
		f.mu.Unlock()
	}
}

func seqReminder(loops, delay int, pre string) reminder.Reminder {
	r := reminder.Reminder{
		ID:                "rem-1",
		TaskName:          "announce",
		AudioFile:         "main.wav",
		Loops:             loops,
		DelayBetweenLoops: delay,
		Active:            true,
		Recurrence:        reminder.Recurrence{Type: reminder.RecurOneTime},
	}
	if pre != "" {
		r.PreAudioFile = &pre
	}
	return r
}

func TestSequenceWithPreAudioLoopsAndDelay(t *testing.T) {
	fp := &fakePlayer{}
	s := NewSequencer(fp, "preaudio", logx.Nop())
	s.sleep = recordSleep(fp)

	s.runSequence(context.Background(), seqReminder(3, 2, "intro.wav"))

	want := []string{
		"play:preaudio/intro.wav",
		"play:main.wav",
		"wait:2s",
		"play:main.wav",
		"wait:2s",
		"play:main.wav",
	}
	got := fp.recorded()
	if len(got) != len(want) {
		t.Fatalf("sequence length: got %d want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestSequenceNoTrailingDelay(t *testing.T) {
	fp := &fakePlayer{}
	s := NewSequencer(fp, "", logx.Nop())
	s.sleep = recordSleep(fp)

	s.runSequence(context.Background(), seqReminder(2, 5, ""))

	got := fp.recorded()
	if got[len(got)-1] != "play:main.wav" {
		t.Fatalf("sequence must not end with a wait: %v", got)
	}
}

func TestSequenceZeroDelayPlaysBackToBack(t *testing.T) {
	fp := &fakePlayer{}
	s := NewSequencer(fp, "", logx.Nop())
	s.sleep = recordSleep(fp)

	s.runSequence(context.Background(), seqReminder(3, 0, ""))

	got := fp.recorded()
	if len(got) != 3 {
		t.Fatalf("expected 3 plays, got %v", got)
	}
	for _, ev := range got {
		if ev != "play:main.wav" {
			t.Fatalf("unexpected event %q", ev)
		}
	}
}

func TestFailedPreAudioStillPlaysMain(t *testing.T) {
	fp := &fakePlayer{failOn: map[string]error{"intro.wav": fmt.Errorf("no such device")}}
	s := NewSequencer(fp, "", logx.Nop())
	s.sleep = recordSleep(fp)

	var reported []string
	s.SetErrorHandler(func(task string, err error) {
		reported = append(reported, task)
	})

	s.runSequence(context.Background(), seqReminder(1, 0, "intro.wav"))

	got := fp.recorded()
	if len(got) != 2 || got[1] != "play:main.wav" {
		t.Fatalf("main clip must still play after pre-audio failure: %v", got)
	}
	if len(reported) != 1 || reported[0] != "announce" {
		t.Fatalf("failure not reported: %v", reported)
	}
}

func TestCurrentTracksSequenceLifetime(t *testing.T) {
	fp := &fakePlayer{}
	s := NewSequencer(fp, "", logx.Nop())
	s.sleep = recordSleep(fp)

	if _, ok := s.Current(); ok {
		t.Fatalf("nothing should be playing initially")
	}

	s.PlaySequence(context.Background(), seqReminder(1, 0, ""))
	s.Stop()

	if _, ok := s.Current(); ok {
		t.Fatalf("Stop must clear the currently playing id")
	}
}

func TestToggleStopsOwnSequence(t *testing.T) {
	// A player that blocks until stopped, so the sequence stays "playing".
	blocking := &blockingPlayer{started: make(chan struct{}), stop: make(chan struct{})}
	s := NewSequencer(blocking, "", logx.Nop())

	r := seqReminder(1, 0, "")
	if !s.Toggle(context.Background(), r) {
		t.Fatalf("first toggle must start playback")
	}
	blocking.waitStarted(t)

	if s.Toggle(context.Background(), r) {
		t.Fatalf("second toggle must stop playback")
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("toggle-off must clear the currently playing id")
	}
}

type blockingPlayer struct {
	once    sync.Once
	started chan struct{}
	stop    chan struct{}
}

func (b *blockingPlayer) Play(ctx context.Context, path string) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-ctx.Done():
	case <-b.stop:
	}
	return nil
}

func (b *blockingPlayer) Stop()         {}
func (b *blockingPlayer) Playing() bool { return false }

func (b *blockingPlayer) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("playback never started")
	}
}
