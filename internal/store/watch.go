package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"chimed/internal/reminder"
	"chimed/pkg/logx"
)

// Watch follows external edits to the store file (the daemon's editing
// surface is the JSON file itself) and reloads the collection when its
// content changes. The store's own atomic saves are recognized by content
// hash and skipped. onReload, if set, runs after each committed reload.
//
// Watch blocks until ctx is canceled. The watcher is recreated with a small
// backoff when it breaks.
func (s *Store) Watch(ctx context.Context, onReload func()) {
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase

	// Debounce so editors that write in several steps trigger one reload.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if s.reload() && onReload != nil {
				onReload()
			}
		})
	}

	for {
		if ctx.Err() != nil {
			return
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			s.log.Warn("store watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < restartBackoffMax {
				backoff *= 2
			}
			continue
		}
		backoff = restartBackoffBase
		s.log.Debug("store watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename; editors and atomic saves surface as
				// create/rename of the final name.
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					debounce()
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr == nil {
					continue
				}
				s.log.Warn("store watch error", logx.Err(werr), logx.String("dir", dir))
				if strings.Contains(strings.ToLower(werr.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("store watcher stopped; restarting", logx.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < restartBackoffMax {
			backoff *= 2
		}
	}
}

// reload re-reads the file and commits it when the content is new and
// parses cleanly. Corrupt content keeps the last good in-memory list.
// Reports whether a new collection was committed.
func (s *Store) reload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Warn("store reload read failed", logx.String("path", s.path), logx.Err(err))
		return false
	}

	h := hashBytes(data)
	if h != 0 && h == s.lastHash {
		// Our own save, or an edit that changed nothing.
		return false
	}

	var list []reminder.Reminder
	if err := json.Unmarshal(data, &list); err != nil {
		s.log.Warn("store edit rejected (corrupt json); keeping current reminders",
			logx.String("path", s.path), logx.Err(err))
		s.lastHash = h
		return false
	}

	s.reminders = list
	s.lastHash = h
	s.log.Info("store reloaded from external edit",
		logx.String("path", s.path), logx.Int("reminders", len(list)))
	return true
}
