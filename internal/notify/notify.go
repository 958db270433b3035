package notify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Notification describes one reminder firing, addressed to whatever sinks
// are configured.
type Notification struct {
	ReminderID string
	TaskName   string
	Recurrence string
	At         time.Time
}

func (n Notification) Text() string {
	return fmt.Sprintf("Reminder: %s (%s)", n.TaskName, n.Recurrence)
}

// Sink delivers a notification to one surface. Delivery failures are
// non-fatal; the service logs them and moves on.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// ---- Command sink (desktop notifications via e.g. notify-send) ----

type CommandSink struct {
	argv []string
}

var ErrNoNotifyCommand = errors.New("notify: command is empty")

func NewCommandSink(command string) (*CommandSink, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, ErrNoNotifyCommand
	}
	return &CommandSink{argv: argv}, nil
}

func (s *CommandSink) Name() string { return "command" }

func (s *CommandSink) Send(ctx context.Context, n Notification) error {
	args := append(append([]string(nil), s.argv[1:]...), "Reminder Alert", n.Text())
	cmd := exec.CommandContext(ctx, s.argv[0], args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("notify command %s: %w", s.argv[0], err)
	}
	return nil
}

// ---- Telegram sink (alerts while away from the desktop) ----

type TelegramSink struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("notify: telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("notify: telegram chat_id is empty")
	}
	// Send-only: no poller attached.
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chatID: chatID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, n Notification) error {
	_, err := s.bot.Send(tele.ChatID(s.chatID), n.Text())
	return err
}
