package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"withvoice/internal/domain"
	"withvoice/internal/ports"
)

const DefaultTimeUpdateInterval = 250 * time.Millisecond

var ErrPlaybackClosed = errors.New("playback is closed")

type FFPlayConfig struct {
	FFPlayCommand      string
	FFProbeCommand     string
	TimeUpdateInterval time.Duration
}

// FFPlayPlayer previews handles with ffplay. Positions are tracked on the
// scheduler clock because ffplay does not report them.
type FFPlayPlayer struct {
	ffplay    string
	ffprobe   string
	interval  time.Duration
	scheduler ports.Scheduler
}

func NewFFPlayPlayer(cfg FFPlayConfig, scheduler ports.Scheduler) *FFPlayPlayer {
	if cfg.FFPlayCommand == "" {
		cfg.FFPlayCommand = "ffplay"
	}
	if cfg.FFProbeCommand == "" {
		cfg.FFProbeCommand = "ffprobe"
	}
	if cfg.TimeUpdateInterval <= 0 {
		cfg.TimeUpdateInterval = DefaultTimeUpdateInterval
	}
	return &FFPlayPlayer{
		ffplay:    cfg.FFPlayCommand,
		ffprobe:   cfg.FFProbeCommand,
		interval:  cfg.TimeUpdateInterval,
		scheduler: scheduler,
	}
}

func (p *FFPlayPlayer) Load(ctx context.Context, handle domain.PlayableHandle, events ports.PlayerEvents) (ports.Playback, error) {
	if handle.Path == "" {
		return nil, errors.New("playable handle has no path")
	}
	duration, err := p.probeDuration(ctx, handle.Path)
	if err != nil {
		return nil, err
	}
	if events.OnTimeUpdate == nil {
		events.OnTimeUpdate = func(time.Duration) {}
	}
	if events.OnEnded == nil {
		events.OnEnded = func() {}
	}
	return &ffplayPlayback{
		player:   p,
		path:     handle.Path,
		duration: duration,
		events:   events,
	}, nil
}

func (p *FFPlayPlayer) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, p.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
	}
	value := strings.TrimSpace(string(out))
	if value == "" || value == "N/A" {
		return 0, nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe duration %q: %w", value, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

type ffplayPlayback struct {
	player   *FFPlayPlayer
	path     string
	duration time.Duration
	events   ports.PlayerEvents

	mu         sync.Mutex
	position   time.Duration
	startedAt  time.Time
	playing    bool
	closed     bool
	generation uint64
	cmd        *exec.Cmd
	ticker     ports.Task
}

func (b *ffplayPlayback) Duration() time.Duration {
	return b.duration
}

func (b *ffplayPlayback) Position() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

func (b *ffplayPlayback) currentLocked() time.Duration {
	if !b.playing {
		return b.position
	}
	pos := b.position + b.player.scheduler.Now().Sub(b.startedAt)
	if b.duration > 0 && pos > b.duration {
		pos = b.duration
	}
	return pos
}

func (b *ffplayPlayback) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrPlaybackClosed
	}
	if b.playing {
		return nil
	}
	if b.duration > 0 && b.position >= b.duration {
		b.position = 0
	}
	return b.startLocked()
}

func (b *ffplayPlayback) startLocked() error {
	cmd := exec.Command(b.player.ffplay,
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(b.position.Seconds(), 'f', 3, 64),
		b.path,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffplay: %w", err)
	}

	b.generation++
	generation := b.generation
	b.cmd = cmd
	b.playing = true
	b.startedAt = b.player.scheduler.Now()
	b.ticker = b.player.scheduler.Every(b.player.interval, b.tick)

	go b.wait(cmd, generation)
	return nil
}

// wait reports a natural end unless the process was replaced or killed.
func (b *ffplayPlayback) wait(cmd *exec.Cmd, generation uint64) {
	_ = cmd.Wait()

	b.mu.Lock()
	if b.generation != generation || !b.playing {
		b.mu.Unlock()
		return
	}
	b.cancelTickerLocked()
	b.playing = false
	b.position = 0
	b.cmd = nil
	b.mu.Unlock()

	b.events.OnEnded()
}

func (b *ffplayPlayback) tick() {
	b.mu.Lock()
	if !b.playing {
		b.mu.Unlock()
		return
	}
	pos := b.currentLocked()
	b.mu.Unlock()

	b.events.OnTimeUpdate(pos)
}

// Pause stops ffplay and remembers the position; it never waits for the
// process.
func (b *ffplayPlayback) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.playing {
		return nil
	}
	b.position = b.currentLocked()
	b.stopLocked()
	return nil
}

func (b *ffplayPlayback) Seek(position time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrPlaybackClosed
	}
	if position < 0 {
		position = 0
	}
	if b.duration > 0 && position > b.duration {
		position = b.duration
	}
	if !b.playing {
		b.position = position
		return nil
	}
	b.stopLocked()
	b.position = position
	return b.startLocked()
}

func (b *ffplayPlayback) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.playing {
		b.stopLocked()
	}
	return nil
}

func (b *ffplayPlayback) stopLocked() {
	b.generation++
	b.cancelTickerLocked()
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
	b.cmd = nil
	b.playing = false
}

func (b *ffplayPlayback) cancelTickerLocked() {
	if b.ticker != nil {
		b.ticker.Cancel()
		b.ticker = nil
	}
}
