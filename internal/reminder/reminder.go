package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTaskNameRequired  = errors.New("reminder: task name is required")
	ErrAudioFileRequired = errors.New("reminder: audio file is required")
	ErrInvalidLoops      = errors.New("reminder: loops must be >= 1")
	ErrInvalidDelay      = errors.New("reminder: delay between loops must be >= 0")
)

// Reminder is the persisted unit: a named task with an absolute trigger
// instant, a recurrence rule, and an audio alert.
//
// StartTime is epoch seconds and doubles as "next due" for an active
// reminder; Advance moves it forward as occurrences are consumed.
type Reminder struct {
	ID                string     `json:"id"`
	TaskName          string     `json:"task_name"`
	StartTime         int64      `json:"start_time"`
	Recurrence        Recurrence `json:"recurrence"`
	AudioFile         string     `json:"audio_file"`
	PreAudioFile      *string    `json:"pre_audio_file"`
	Loops             int        `json:"loops"`
	DelayBetweenLoops int        `json:"delay_between_loops"`
	Active            bool       `json:"active"`
}

func (r Reminder) Validate() error {
	if strings.TrimSpace(r.TaskName) == "" {
		return ErrTaskNameRequired
	}
	if strings.TrimSpace(r.AudioFile) == "" {
		return ErrAudioFileRequired
	}
	if r.Loops < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidLoops, r.Loops)
	}
	if r.DelayBetweenLoops < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDelay, r.DelayBetweenLoops)
	}
	return r.Recurrence.Validate()
}

// StartAt returns the trigger instant in local time.
func (r Reminder) StartAt() time.Time {
	return time.Unix(r.StartTime, 0)
}

// PreAudio returns the pre-clip path and whether one is set.
func (r Reminder) PreAudio() (string, bool) {
	if r.PreAudioFile == nil || strings.TrimSpace(*r.PreAudioFile) == "" {
		return "", false
	}
	return *r.PreAudioFile, true
}

// Clone returns a deep copy so callers can hand reminders across goroutines
// without sharing the day/month slices.
func (r Reminder) Clone() Reminder {
	cp := r
	if r.PreAudioFile != nil {
		v := *r.PreAudioFile
		cp.PreAudioFile = &v
	}
	if r.Recurrence.Days != nil {
		cp.Recurrence.Days = append([]time.Weekday(nil), r.Recurrence.Days...)
	}
	if r.Recurrence.Months != nil {
		cp.Recurrence.Months = append([]time.Month(nil), r.Recurrence.Months...)
	}
	return cp
}
