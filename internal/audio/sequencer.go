package audio

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"chimed/internal/reminder"
	"chimed/pkg/logx"
)

// Sequencer turns a reminder into its playback sequence: pre-audio once,
// then the main clip Loops times with an optional delay between plays (no
// trailing delay). Sequences run asynchronously so the poll loop is never
// blocked by audio duration.
//
// The "currently playing" reminder id is owned here and only transitions
// through PlaySequence/Toggle/Stop.
type Sequencer struct {
	player Player
	log    logx.Logger

	// preDir resolves bare pre-audio file names; pre-clips conventionally
	// live in one directory.
	preDir string

	// onError surfaces per-step playback failures (non-fatal).
	onError func(taskName string, err error)

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration)

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewSequencer(player Player, preDir string, log logx.Logger) *Sequencer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sequencer{
		player: player,
		preDir: preDir,
		log:    log,
		sleep:  sleepCtx,
	}
}

// SetErrorHandler installs a callback for per-step playback failures.
func (s *Sequencer) SetErrorHandler(fn func(taskName string, err error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Current returns the id of the reminder whose sequence is playing.
func (s *Sequencer) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != ""
}

// PlaySequence starts the reminder's playback sequence, preempting any
// sequence already running. It returns as soon as the sequence is started.
func (s *Sequencer) PlaySequence(ctx context.Context, r reminder.Reminder) {
	s.stop()

	sctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.current = r.ID
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runSequence(sctx, r)
		s.mu.Lock()
		if s.current == r.ID {
			s.current = ""
			s.cancel = nil
		}
		s.mu.Unlock()
	}()
}

// Toggle implements the play/stop button behavior: stop when this reminder
// is playing, otherwise play it (preempting whatever is). Reports whether
// the reminder is now playing.
func (s *Sequencer) Toggle(ctx context.Context, r reminder.Reminder) bool {
	if cur, ok := s.Current(); ok && cur == r.ID {
		s.Stop()
		return false
	}
	s.PlaySequence(ctx, r)
	return true
}

// Stop cancels the running sequence, if any, and waits for it to wind down.
func (s *Sequencer) Stop() {
	s.stop()
	s.wg.Wait()
}

func (s *Sequencer) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.current = ""
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.player.Stop()
}

// Preview plays a single clip capped at maxDur, for trying files out.
func (s *Sequencer) Preview(ctx context.Context, path string, maxDur time.Duration) {
	pctx, cancel := context.WithTimeout(ctx, maxDur)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.player.Play(pctx, path); err != nil {
			s.log.Warn("preview failed", logx.String("path", path), logx.Err(err))
		}
	}()
}

func (s *Sequencer) runSequence(ctx context.Context, r reminder.Reminder) {
	if pre, ok := r.PreAudio(); ok {
		path := pre
		if s.preDir != "" && !filepath.IsAbs(pre) {
			path = filepath.Join(s.preDir, pre)
		}
		if err := s.player.Play(ctx, path); err != nil {
			s.reportStep(r.TaskName, err)
		}
	}
	if ctx.Err() != nil {
		return
	}

	loops := r.Loops
	if loops < 1 {
		loops = 1
	}
	delay := time.Duration(r.DelayBetweenLoops) * time.Second

	for i := 0; i < loops; i++ {
		if ctx.Err() != nil {
			return
		}
		if err := s.player.Play(ctx, r.AudioFile); err != nil {
			s.reportStep(r.TaskName, err)
		}
		// No trailing delay after the last play.
		if delay > 0 && i < loops-1 {
			s.sleep(ctx, delay)
		}
	}
}

func (s *Sequencer) reportStep(taskName string, err error) {
	s.log.Warn("playback step failed", logx.String("task", taskName), logx.Err(err))
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(taskName, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
