package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"chimed/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// pruneSpec runs the retention sweep nightly, off the hot path.
const pruneSpec = "0 3 * * *"

type Config struct {
	Path        string
	MaxAge      time.Duration // 0 means default
	BusyTimeout time.Duration // 0 means default
}

const defaultMaxAge = 90 * 24 * time.Hour

// Entry is one reminder firing.
type Entry struct {
	ReminderID string
	TaskName   string
	Recurrence string
	FiredAt    time.Time
	Outcome    string // "fired" or a short failure note
}

// Journal records every firing in SQLite. A nil Journal (no path
// configured) is a safe no-op, so callers never branch on it.
type Journal struct {
	db     *sql.DB
	log    logx.Logger
	maxAge time.Duration
	cron   *cron.Cron
}

// Open initializes the journal. It returns (nil, nil) when no path is
// configured.
func Open(cfg Config, log logx.Logger) (*Journal, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	j := &Journal{db: db, log: log, maxAge: maxAge}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

// StartMaintenance schedules the nightly retention sweep. Stops with ctx.
func (j *Journal) StartMaintenance(ctx context.Context) {
	if j == nil {
		return
	}
	c := cron.New()
	_, err := c.AddFunc(pruneSpec, func() {
		pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		removed, err := j.Prune(pctx)
		if err != nil {
			j.log.Warn("history prune failed", logx.Err(err))
			return
		}
		if removed > 0 {
			j.log.Info("history pruned", logx.Int64("removed", removed))
		}
	})
	if err != nil {
		j.log.Warn("history prune schedule invalid", logx.Err(err))
		return
	}
	j.cron = c
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
}

func (j *Journal) Record(ctx context.Context, e Entry) error {
	if j == nil || j.db == nil {
		return nil
	}
	if e.FiredAt.IsZero() {
		e.FiredAt = time.Now()
	}
	if e.Outcome == "" {
		e.Outcome = "fired"
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO firings(reminder_id, task_name, recurrence, fired_at, outcome)
		 VALUES(?,?,?,?,?)`,
		e.ReminderID, e.TaskName, e.Recurrence, e.FiredAt.UTC().Format(time.RFC3339Nano), e.Outcome,
	)
	return err
}

// Recent returns the latest firings, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT reminder_id, task_name, recurrence, fired_at, outcome
		 FROM firings ORDER BY fired_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var firedAt string
		if err := rows.Scan(&e.ReminderID, &e.TaskName, &e.Recurrence, &firedAt, &e.Outcome); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, firedAt)
		if err != nil {
			return nil, fmt.Errorf("bad fired_at %q: %w", firedAt, err)
		}
		e.FiredAt = t
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes firings older than the retention window.
func (j *Journal) Prune(ctx context.Context) (int64, error) {
	if j == nil || j.db == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-j.maxAge).UTC().Format(time.RFC3339Nano)
	res, err := j.db.ExecContext(ctx, `DELETE FROM firings WHERE fired_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
