package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"chimed/pkg/logx"
)

// Player plays one audio clip at a time.
//
// Play blocks until the clip finishes (or ctx is canceled); callers that
// must not block run it from their own goroutine.
type Player interface {
	Play(ctx context.Context, path string) error
	Stop()
	Playing() bool
}

var ErrNoPlayerCommand = errors.New("audio: player command is empty")

// ExecPlayer shells out to an external player per clip (paplay, aplay,
// mpv --no-video, ...). Stop kills the running process.
type ExecPlayer struct {
	argv []string
	log  logx.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing bool
}

func NewExecPlayer(command string, log logx.Logger) (*ExecPlayer, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, ErrNoPlayerCommand
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExecPlayer{argv: argv, log: log}, nil
}

func (p *ExecPlayer) Play(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file: %w", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		// One clip at a time; a new play preempts the old one.
		p.cancel()
	}
	p.cancel = cancel
	p.playing = true
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.playing = false
		p.cancel = nil
		p.mu.Unlock()
	}()

	args := append(append([]string(nil), p.argv[1:]...), path)
	cmd := exec.CommandContext(cctx, p.argv[0], args...)
	p.log.Debug("playing clip", logx.String("path", path), logx.String("player", p.argv[0]))

	err := cmd.Run()
	if cctx.Err() != nil {
		// Stopped deliberately; not a playback failure.
		return nil
	}
	if err != nil {
		return fmt.Errorf("player %s: %w", p.argv[0], err)
	}
	return nil
}

func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *ExecPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
