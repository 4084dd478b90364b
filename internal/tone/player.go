package tone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrNoPlayer is returned when no audio player is available.
var ErrNoPlayer = errors.New("no audio player available")

// Player plays an encoded WAV clip.
type Player interface {
	Play(ctx context.Context, wav []byte) error
}

// DefaultCommands are tried in order by CommandPlayer.
var DefaultCommands = []string{"aplay", "afplay", "paplay"}

// CommandPlayer plays clips through the first system player found on PATH.
type CommandPlayer struct {
	Commands []string

	lookPath func(string) (string, error)
}

// NewCommandPlayer creates a player trying the given commands, or
// DefaultCommands when none are given.
func NewCommandPlayer(commands ...string) *CommandPlayer {
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	return &CommandPlayer{Commands: commands, lookPath: exec.LookPath}
}

// Play writes the clip to a temporary file and runs the player on it.
func (p *CommandPlayer) Play(ctx context.Context, wav []byte) error {
	bin, err := p.resolve()
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "livesync-cue-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create cue file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(wav); err != nil {
		f.Close()
		return fmt.Errorf("failed to write cue file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write cue file: %w", err)
	}

	if err := exec.CommandContext(ctx, bin, f.Name()).Run(); err != nil {
		return fmt.Errorf("%s failed: %w", bin, err)
	}
	return nil
}

func (p *CommandPlayer) resolve() (string, error) {
	lookPath := p.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, name := range p.Commands {
		if bin, err := lookPath(name); err == nil {
			return bin, nil
		}
	}
	return "", ErrNoPlayer
}

// Cue plays the urgent-notification sound through a Player.
type Cue struct {
	player     Player
	sampleRate int
	timeout    time.Duration

	once sync.Once
	wav  []byte
	err  error
}

// NewCue creates a cue rendered at sampleRate. Each playback is bounded by
// timeout.
func NewCue(player Player, sampleRate int, timeout time.Duration) *Cue {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Cue{player: player, sampleRate: sampleRate, timeout: timeout}
}

// Play renders the clip on first use and plays it.
func (c *Cue) Play() error {
	if c.player == nil {
		return ErrNoPlayer
	}
	c.once.Do(func() {
		c.wav, c.err = WAV(c.sampleRate)
	})
	if c.err != nil {
		return c.err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.player.Play(ctx, c.wav)
}
