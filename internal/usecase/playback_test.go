package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"withvoice/internal/domain"
	"withvoice/internal/ports"
)

type fakePlayback struct {
	mu         sync.Mutex
	duration   time.Duration
	position   time.Duration
	playing    bool
	closeCalls int
	events     ports.PlayerEvents
}

func (p *fakePlayback) Duration() time.Duration { return p.duration }

func (p *fakePlayback) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayback) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *fakePlayback) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *fakePlayback) Seek(position time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
	return nil
}

func (p *fakePlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	return nil
}

func (p *fakePlayback) advance(position time.Duration) {
	p.mu.Lock()
	p.position = position
	p.mu.Unlock()
	p.events.OnTimeUpdate(position)
}

type fakePlayer struct {
	mu        sync.Mutex
	err       error
	duration  time.Duration
	gate      chan struct{}
	playbacks []*fakePlayback
}

func (p *fakePlayer) Load(_ context.Context, _ domain.PlayableHandle, events ports.PlayerEvents) (ports.Playback, error) {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	playback := &fakePlayback{duration: p.duration, events: events}
	p.playbacks = append(p.playbacks, playback)
	return playback, nil
}

func (p *fakePlayer) last() *fakePlayback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playbacks[len(p.playbacks)-1]
}

var previewHandle = domain.PlayableHandle{ID: "h1", Path: "/tmp/h1.webm", MimeType: "audio/webm"}

func TestPlaybackLoadPlayPause(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{duration: 12500 * time.Millisecond}
	controller := NewPlaybackController(player, nil)

	require.NoError(t, controller.Load(context.Background(), previewHandle))
	assert.Equal(t, domain.PlaybackState{DurationSeconds: 12.5}, controller.State())
	handle, ok := controller.Handle()
	require.True(t, ok)
	assert.Equal(t, previewHandle, handle)

	require.NoError(t, controller.Play())
	assert.True(t, controller.State().IsPlaying)

	player.last().advance(3 * time.Second)
	assert.InDelta(t, 3.0, controller.State().CurrentTimeSeconds, 1e-9)

	require.NoError(t, controller.Pause())
	state := controller.State()
	assert.False(t, state.IsPlaying)
	assert.InDelta(t, 3.0, state.CurrentTimeSeconds, 1e-9)
	assert.False(t, player.last().playing)
}

func TestPlaybackStopRewinds(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{duration: 10 * time.Second}
	controller := NewPlaybackController(player, nil)
	require.NoError(t, controller.Load(context.Background(), previewHandle))
	require.NoError(t, controller.Play())
	player.last().advance(4 * time.Second)

	require.NoError(t, controller.Stop())
	state := controller.State()
	assert.False(t, state.IsPlaying)
	assert.Zero(t, state.CurrentTimeSeconds)
	assert.Zero(t, player.last().Position())
}

func TestPlaybackSeekClamps(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{duration: 8 * time.Second}
	controller := NewPlaybackController(player, nil)
	require.NoError(t, controller.Load(context.Background(), previewHandle))

	require.NoError(t, controller.Seek(20))
	assert.InDelta(t, 8.0, controller.State().CurrentTimeSeconds, 1e-9)
	assert.Equal(t, 8*time.Second, player.last().Position())

	require.NoError(t, controller.Seek(-3))
	assert.Zero(t, controller.State().CurrentTimeSeconds)

	require.NoError(t, controller.Seek(2.5))
	assert.Equal(t, 2500*time.Millisecond, player.last().Position())
}

func TestPlaybackEndedResets(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{duration: 5 * time.Second}
	controller := NewPlaybackController(player, nil)
	require.NoError(t, controller.Load(context.Background(), previewHandle))
	require.NoError(t, controller.Play())
	player.last().advance(5 * time.Second)

	player.last().events.OnEnded()
	assert.Equal(t, domain.PlaybackState{DurationSeconds: 5}, controller.State())
}

func TestPlaybackOperationsWithoutLoadAreNoOps(t *testing.T) {
	t.Parallel()

	controller := NewPlaybackController(&fakePlayer{}, nil)
	require.NoError(t, controller.Play())
	require.NoError(t, controller.Pause())
	require.NoError(t, controller.Stop())
	require.NoError(t, controller.Seek(3))
	assert.Equal(t, domain.PlaybackState{}, controller.State())
	_, ok := controller.Handle()
	assert.False(t, ok)
}

func TestPlaybackReloadClosesPrevious(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{duration: 5 * time.Second}
	controller := NewPlaybackController(player, nil)
	require.NoError(t, controller.Load(context.Background(), previewHandle))
	first := player.last()
	require.NoError(t, controller.Play())

	player.duration = 7 * time.Second
	require.NoError(t, controller.Load(context.Background(), domain.PlayableHandle{ID: "h2"}))
	assert.Equal(t, 1, first.closeCalls)
	assert.Equal(t, domain.PlaybackState{DurationSeconds: 7}, controller.State())

	first.advance(2 * time.Second)
	first.events.OnEnded()
	assert.Equal(t, domain.PlaybackState{DurationSeconds: 7}, controller.State())
}

func TestPlaybackUnloadDuringLoadDiscardsResult(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{duration: 5 * time.Second, gate: make(chan struct{})}
	controller := NewPlaybackController(player, nil)

	done := make(chan error, 1)
	go func() { done <- controller.Load(context.Background(), previewHandle) }()

	// Unload may run before or after Load bumps the generation; either way the
	// loaded playback must not survive.
	time.Sleep(10 * time.Millisecond)
	controller.Unload()
	close(player.gate)

	err := <-done
	if err != nil {
		require.ErrorIs(t, err, ErrSuperseded)
		assert.Equal(t, 1, player.last().closeCalls)
	} else {
		controller.Unload()
	}
	assert.Equal(t, domain.PlaybackState{}, controller.State())
	_, ok := controller.Handle()
	assert.False(t, ok)
}

func TestPlaybackLoadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("ffprobe failed")
	controller := NewPlaybackController(&fakePlayer{err: boom}, nil)
	require.ErrorIs(t, controller.Load(context.Background(), previewHandle), boom)
	assert.Equal(t, domain.PlaybackState{}, controller.State())
}

func TestPlaybackCloseDetachesSubscribers(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{duration: time.Second}
	controller := NewPlaybackController(player, nil)
	updates, cancel := controller.Subscribe()
	defer cancel()
	require.NoError(t, controller.Load(context.Background(), previewHandle))

	controller.Close()
	assert.Equal(t, 1, player.last().closeCalls)
	for range updates {
	}
}
