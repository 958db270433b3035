package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"chimed/internal/reminder"
	"chimed/pkg/logx"
)

var ErrNotFound = errors.New("store: reminder not found")

// Store holds the ordered reminder collection, backed by a JSON file.
//
// A single mutex serializes poller advances against user-driven edits and
// watcher reloads. Every mutation persists the full collection; writes go
// through a temp file and rename so an interrupted write cannot truncate
// the store.
type Store struct {
	path string
	log  logx.Logger

	mu        sync.Mutex
	reminders []reminder.Reminder

	// lastHash tracks the last content written (or loaded) so the file
	// watcher can tell our own saves apart from external edits.
	lastHash uint64
}

// Open loads the store at path. A missing, unreadable, or corrupt file
// yields an empty collection; the daemon never refuses to start over its
// own state file.
func Open(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{path: path, log: log}
	s.mu.Lock()
	s.loadLocked()
	s.mu.Unlock()
	return s
}

func (s *Store) Path() string { return s.path }

func (s *Store) loadLocked() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("store unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
		}
		s.reminders = nil
		s.lastHash = 0
		return
	}

	var list []reminder.Reminder
	if err := json.Unmarshal(data, &list); err != nil {
		s.log.Warn("store corrupt; starting empty", logx.String("path", s.path), logx.Err(err))
		s.reminders = nil
		s.lastHash = hashBytes(data)
		return
	}
	s.reminders = list
	s.lastHash = hashBytes(data)
}

// saveLocked writes the full collection atomically: temp file in the same
// directory, then rename over the target.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.reminders, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal reminders: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename store file: %w", err)
	}

	s.lastHash = hashBytes(data)
	return nil
}

// Add validates the reminder, assigns an id when none is set, and appends
// it to the collection.
func (s *Store) Add(r reminder.Reminder) (reminder.Reminder, error) {
	if err := r.Validate(); err != nil {
		return reminder.Reminder{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = append(s.reminders, r.Clone())
	if err := s.saveLocked(); err != nil {
		s.log.Error("store save failed", logx.Err(err))
	}
	return r, nil
}

// Update replaces the reminder with the given id, keeping its position.
func (s *Store) Update(id string, r reminder.Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	s.reminders[i] = r.Clone()
	if err := s.saveLocked(); err != nil {
		s.log.Error("store save failed", logx.Err(err))
	}
	return nil
}

// Remove deletes the reminder with the given id. Lookup is id-based, never
// positional or structural, so two field-identical reminders stay distinct.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	s.reminders = append(s.reminders[:i], s.reminders[i+1:]...)
	if err := s.saveLocked(); err != nil {
		s.log.Error("store save failed", logx.Err(err))
	}
	return nil
}

func (s *Store) Get(id string) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return reminder.Reminder{}, ErrNotFound
	}
	return s.reminders[i].Clone(), nil
}

// List returns a copy of the collection in insertion order.
func (s *Store) List() []reminder.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reminder.Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, r.Clone())
	}
	return out
}

// Due returns the active reminders whose start time has passed, in store
// order.
func (s *Store) Due(now time.Time) []reminder.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range s.reminders {
		if reminder.IsDue(r, now) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Advance moves the identified reminder to its next occurrence (or
// deactivates it) and persists the collection, all under one lock so the
// poller cannot race a concurrent edit.
func (s *Store) Advance(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	reminder.Advance(&s.reminders[i])
	if err := s.saveLocked(); err != nil {
		s.log.Error("store save failed", logx.Err(err))
	}
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i := range s.reminders {
		if s.reminders[i].ID == id {
			return i
		}
	}
	return -1
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
