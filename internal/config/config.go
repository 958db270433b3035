package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Config is the daemon configuration. The file may be YAML or JSON; YAML is
// coerced to JSON so both share one strict decoder.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Store    StoreConfig    `json:"store"`
	Poller   PollerConfig   `json:"poller"`
	Audio    AudioConfig    `json:"audio"`
	Notifier NotifierConfig `json:"notifier"`
	History  HistoryConfig  `json:"history"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StoreConfig struct {
	// Path of the reminders JSON file. Defaults under the XDG data home.
	Path string `json:"path,omitempty"`
}

type PollerConfig struct {
	// Interval is a Go duration string (e.g. "1s"). Default "1s".
	Interval string `json:"interval,omitempty"`
}

type AudioConfig struct {
	// PlayerCmd is the external player invoked per clip, e.g. "paplay".
	PlayerCmd string `json:"player_cmd,omitempty"`
	// PreAudioDir resolves bare pre-audio file names.
	PreAudioDir string `json:"preaudio_dir,omitempty"`
	// PreviewSeconds caps clip previews. Default 5.
	PreviewSeconds int `json:"preview_seconds,omitempty"`
}

type NotifierConfig struct {
	Enabled    bool           `json:"enabled"`
	Command    string         `json:"command,omitempty"`
	QueueSize  int            `json:"queue_size,omitempty"`
	RatePerSec int            `json:"rate_per_sec,omitempty"`
	Telegram   TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

type HistoryConfig struct {
	// Path of the SQLite firing journal. Empty disables it.
	Path string `json:"path,omitempty"`
	// MaxAge is a Go duration string; entries older than this are pruned.
	MaxAge      string `json:"max_age,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

const (
	defaultPlayerCmd      = "paplay"
	defaultPollInterval   = time.Second
	defaultPreviewSeconds = 5
)

// DefaultStorePath is where reminders live when store.path is omitted.
func DefaultStorePath() string {
	return filepath.Join(xdg.DataHome, "chimed", "reminders.json")
}

// DefaultConfigPath is the config file location used when -config is omitted.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "chimed", "config.yaml")
}

// ConsoleEnabled defaults to true when the field is omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

func (c *Config) StorePath() string {
	if strings.TrimSpace(c.Store.Path) != "" {
		return c.Store.Path
	}
	return DefaultStorePath()
}

func (c *Config) PlayerCmd() string {
	if strings.TrimSpace(c.Audio.PlayerCmd) != "" {
		return c.Audio.PlayerCmd
	}
	return defaultPlayerCmd
}

func (c *Config) PreviewDuration() time.Duration {
	secs := c.Audio.PreviewSeconds
	if secs <= 0 {
		secs = defaultPreviewSeconds
	}
	return time.Duration(secs) * time.Second
}

func (c *Config) PollInterval() (time.Duration, error) {
	return ParseDurationOrDefault("poller.interval", c.Poller.Interval, defaultPollInterval)
}

func (c *Config) HistoryMaxAge() (time.Duration, error) {
	return ParseDurationField("history.max_age", c.History.MaxAge)
}

func (c *Config) HistoryBusyTimeout() (time.Duration, error) {
	return ParseDurationField("history.busy_timeout", c.History.BusyTimeout)
}

// Validate checks everything that can be checked without touching I/O.
func (c *Config) Validate() error {
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.HistoryMaxAge(); err != nil {
		return err
	}
	if _, err := c.HistoryBusyTimeout(); err != nil {
		return err
	}
	if c.Notifier.Enabled {
		hasCommand := strings.TrimSpace(c.Notifier.Command) != ""
		hasTelegram := strings.TrimSpace(c.Notifier.Telegram.Token) != ""
		if !hasCommand && !hasTelegram {
			return errors.New("notifier.enabled requires notifier.command or notifier.telegram.token")
		}
		if hasTelegram && c.Notifier.Telegram.ChatID == 0 {
			return errors.New("notifier.telegram.token requires notifier.telegram.chat_id")
		}
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
