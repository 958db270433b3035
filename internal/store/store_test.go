package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chimed/internal/reminder"
	"chimed/pkg/logx"
)

func testReminder(name string, start time.Time) reminder.Reminder {
	return reminder.Reminder{
		TaskName:   name,
		StartTime:  start.Unix(),
		Recurrence: reminder.Recurrence{Type: reminder.RecurOneTime},
		AudioFile:  "chime.wav",
		Loops:      1,
		Active:     true,
	}
}

func TestRoundTripPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	s := Open(path, logx.Nop())

	now := time.Now()
	names := []string{"first", "second", "third"}
	for _, n := range names {
		if _, err := s.Add(testReminder(n, now)); err != nil {
			t.Fatalf("add %q: %v", n, err)
		}
	}

	reopened := Open(path, logx.Nop())
	list := reopened.List()
	if len(list) != len(names) {
		t.Fatalf("expected %d reminders, got %d", len(names), len(list))
	}
	for i, n := range names {
		if list[i].TaskName != n {
			t.Fatalf("order broken at %d: got %q want %q", i, list[i].TaskName, n)
		}
		if list[i].ID == "" {
			t.Fatalf("reminder %q missing id after round trip", n)
		}
	}
}

func TestOpenCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	s := Open(path, logx.Nop())
	if got := len(s.List()); got != 0 {
		t.Fatalf("corrupt store must load empty, got %d reminders", got)
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "absent.json"), logx.Nop())
	if got := len(s.List()); got != 0 {
		t.Fatalf("missing store must load empty, got %d reminders", got)
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "reminders.json"), logx.Nop())

	bad := testReminder("", time.Now())
	if _, err := s.Add(bad); !errors.Is(err, reminder.ErrTaskNameRequired) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := len(s.List()); got != 0 {
		t.Fatalf("rejected add must not change state, got %d reminders", got)
	}
}

func TestRemoveByIDDistinguishesTwins(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "reminders.json"), logx.Nop())

	now := time.Now()
	a, err := s.Add(testReminder("twin", now))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, err := s.Add(testReminder("twin", now))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("twins must get distinct ids")
	}

	if err := s.Remove(a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	list := s.List()
	if len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("wrong twin removed: %+v", list)
	}

	if err := s.Remove(a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for repeated remove, got %v", err)
	}
}

func TestDueFiltersAndKeepsOrder(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "reminders.json"), logx.Nop())

	now := time.Now()
	past1, _ := s.Add(testReminder("past-1", now.Add(-time.Minute)))
	if _, err := s.Add(testReminder("future", now.Add(time.Hour))); err != nil {
		t.Fatalf("add: %v", err)
	}
	past2, _ := s.Add(testReminder("past-2", now.Add(-time.Second)))

	inactive := testReminder("inactive", now.Add(-time.Hour))
	inactive.Active = false
	if _, err := s.Add(inactive); err != nil {
		t.Fatalf("add: %v", err)
	}

	due := s.Due(now)
	if len(due) != 2 {
		t.Fatalf("expected 2 due reminders, got %d", len(due))
	}
	if due[0].ID != past1.ID || due[1].ID != past2.ID {
		t.Fatalf("due order must follow store order: %+v", due)
	}
}

func TestAdvancePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	s := Open(path, logx.Nop())

	r, err := s.Add(testReminder("once", time.Now().Add(-time.Second)))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Advance(r.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	reopened := Open(path, logx.Nop())
	got, err := reopened.Get(r.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Active {
		t.Fatalf("one_time reminder must persist as inactive after advance")
	}
}

func TestUpdateKeepsPosition(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "reminders.json"), logx.Nop())

	now := time.Now()
	if _, err := s.Add(testReminder("first", now)); err != nil {
		t.Fatalf("add: %v", err)
	}
	target, _ := s.Add(testReminder("second", now))
	if _, err := s.Add(testReminder("third", now)); err != nil {
		t.Fatalf("add: %v", err)
	}

	edited := testReminder("second-renamed", now.Add(time.Hour))
	if err := s.Update(target.ID, edited); err != nil {
		t.Fatalf("update: %v", err)
	}

	list := s.List()
	if list[1].TaskName != "second-renamed" || list[1].ID != target.ID {
		t.Fatalf("update must keep position and id: %+v", list[1])
	}
}

func TestReloadSkipsOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	s := Open(path, logx.Nop())
	if _, err := s.Add(testReminder("kept", time.Now())); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Content on disk matches what the store last wrote: no commit.
	if s.reload() {
		t.Fatalf("reload must skip content the store wrote itself")
	}

	// An external edit with new content commits.
	list := s.List()
	list[0].TaskName = "edited externally"
	data := mustMarshal(t, list)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}
	if !s.reload() {
		t.Fatalf("reload must commit an external edit")
	}
	if got := s.List()[0].TaskName; got != "edited externally" {
		t.Fatalf("external edit not applied, got %q", got)
	}

	// Corrupt external content keeps the last good list.
	if err := os.WriteFile(path, []byte("oops"), 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}
	if s.reload() {
		t.Fatalf("corrupt edit must not commit")
	}
	if got := s.List()[0].TaskName; got != "edited externally" {
		t.Fatalf("corrupt edit clobbered reminders, got %q", got)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
