package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"withvoice/internal/domain"
	"withvoice/internal/observable"
	"withvoice/internal/ports"
)

// PlaybackController previews one playable handle at a time.
type PlaybackController struct {
	player ports.AudioPlayer
	logger *zap.Logger

	state *observable.Store[domain.PlaybackState]

	mu         sync.Mutex
	generation uint64
	current    ports.Playback
	handle     domain.PlayableHandle
}

func NewPlaybackController(player ports.AudioPlayer, logger *zap.Logger) *PlaybackController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaybackController{
		player: player,
		logger: logger.Named("playback"),
		state:  observable.NewStore(domain.PlaybackState{}),
	}
}

func (c *PlaybackController) State() domain.PlaybackState {
	return c.state.Get()
}

func (c *PlaybackController) Subscribe() (<-chan domain.PlaybackState, func()) {
	return c.state.Subscribe()
}

// Handle returns the loaded handle, if any.
func (c *PlaybackController) Handle() (domain.PlayableHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle, c.current != nil
}

// Load replaces the current playback with the given handle.
func (c *PlaybackController) Load(ctx context.Context, handle domain.PlayableHandle) error {
	c.mu.Lock()
	previous := c.current
	c.current = nil
	c.generation++
	generation := c.generation
	c.state.Set(domain.PlaybackState{})
	c.mu.Unlock()

	c.closePlayback(previous)

	playback, err := c.player.Load(ctx, handle, ports.PlayerEvents{
		OnTimeUpdate: func(position time.Duration) { c.onTimeUpdate(generation, position) },
		OnEnded:      func() { c.onEnded(generation) },
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		c.closePlayback(playback)
		return ErrSuperseded
	}
	c.current = playback
	c.handle = handle
	c.state.Set(domain.PlaybackState{DurationSeconds: playback.Duration().Seconds()})
	c.mu.Unlock()
	return nil
}

func (c *PlaybackController) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	if err := c.current.Play(); err != nil {
		return err
	}
	state := c.state.Get()
	state.IsPlaying = true
	c.state.Set(state)
	return nil
}

func (c *PlaybackController) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	if err := c.current.Pause(); err != nil {
		return err
	}
	state := c.state.Get()
	state.IsPlaying = false
	state.CurrentTimeSeconds = c.current.Position().Seconds()
	c.state.Set(state)
	return nil
}

// Stop pauses and rewinds to the start.
func (c *PlaybackController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	if err := c.current.Pause(); err != nil {
		return err
	}
	if err := c.current.Seek(0); err != nil {
		return err
	}
	state := c.state.Get()
	state.IsPlaying = false
	state.CurrentTimeSeconds = 0
	c.state.Set(state)
	return nil
}

// Seek moves to seconds, clamped to the loaded duration.
func (c *PlaybackController) Seek(seconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	state := c.state.Get()
	if seconds < 0 {
		seconds = 0
	}
	if seconds > state.DurationSeconds {
		seconds = state.DurationSeconds
	}
	if err := c.current.Seek(time.Duration(seconds * float64(time.Second))); err != nil {
		return err
	}
	state.CurrentTimeSeconds = seconds
	c.state.Set(state)
	return nil
}

// Unload closes the current playback and zeroes the state.
func (c *PlaybackController) Unload() {
	c.mu.Lock()
	previous := c.current
	c.current = nil
	c.handle = domain.PlayableHandle{}
	c.generation++
	c.state.Set(domain.PlaybackState{})
	c.mu.Unlock()

	c.closePlayback(previous)
}

func (c *PlaybackController) Close() {
	c.Unload()
	c.state.Close()
}

func (c *PlaybackController) onTimeUpdate(generation uint64, position time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation || c.current == nil {
		return
	}
	state := c.state.Get()
	state.CurrentTimeSeconds = position.Seconds()
	c.state.Set(state)
}

func (c *PlaybackController) onEnded(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation || c.current == nil {
		return
	}
	state := c.state.Get()
	state.IsPlaying = false
	state.CurrentTimeSeconds = 0
	c.state.Set(state)
}

func (c *PlaybackController) closePlayback(playback ports.Playback) {
	if playback == nil {
		return
	}
	if err := playback.Close(); err != nil {
		c.logger.Warn("failed to close playback", zap.Error(err))
	}
}
