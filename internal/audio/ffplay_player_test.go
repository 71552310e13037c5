package audio

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"withvoice/internal/clock"
	"withvoice/internal/domain"
	"withvoice/internal/ports"
)

type playerRecorder struct {
	mu      sync.Mutex
	updates []time.Duration
	ended   chan struct{}
}

func newPlayerRecorder() *playerRecorder {
	return &playerRecorder{ended: make(chan struct{}, 1)}
}

func (r *playerRecorder) events() ports.PlayerEvents {
	return ports.PlayerEvents{
		OnTimeUpdate: func(position time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.updates = append(r.updates, position)
		},
		OnEnded: func() { r.ended <- struct{}{} },
	}
}

func newTestPlayer(t *testing.T, ffplayBody string, scheduler ports.Scheduler) (*FFPlayPlayer, string) {
	t.Helper()
	argsFile := filepath.Join(t.TempDir(), "ffplay.args")
	ffprobe := writeScript(t, "ffprobe.sh", "#!/usr/bin/env bash\necho 2.500000\n")
	ffplay := writeScript(t, "ffplay.sh", "#!/usr/bin/env bash\necho \"$@\" >> '"+argsFile+"'\n"+ffplayBody)
	return NewFFPlayPlayer(FFPlayConfig{FFPlayCommand: ffplay, FFProbeCommand: ffprobe}, scheduler), argsFile
}

func argLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func waitForArgs(t *testing.T, path string, count int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(argLines(path)) == count }, 2*time.Second, 10*time.Millisecond)
	return argLines(path)
}

var testHandle = domain.PlayableHandle{ID: "clip", Path: "/tmp/clip.webm", MimeType: "audio/webm"}

func TestFFPlayPlayerProbesDuration(t *testing.T) {
	t.Parallel()

	player, _ := newTestPlayer(t, "exit 0\n", clock.NewFake(time.Unix(0, 0)))
	playback, err := player.Load(context.Background(), testHandle, ports.PlayerEvents{})
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, playback.Duration())
	assert.Zero(t, playback.Position())
	require.NoError(t, playback.Close())
}

func TestFFPlayPlayerProbeFailure(t *testing.T) {
	t.Parallel()

	ffprobe := writeScript(t, "ffprobe.sh", "#!/usr/bin/env bash\necho 'Invalid data found' 1>&2\nexit 1\n")
	player := NewFFPlayPlayer(FFPlayConfig{FFPlayCommand: "ffplay", FFProbeCommand: ffprobe}, clock.System{})

	_, err := player.Load(context.Background(), testHandle, ports.PlayerEvents{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")

	_, err = player.Load(context.Background(), domain.PlayableHandle{}, ports.PlayerEvents{})
	require.Error(t, err)
}

func TestFFPlayPlayerNaturalEnd(t *testing.T) {
	t.Parallel()

	player, argsFile := newTestPlayer(t, "sleep 0.1\n", clock.NewFake(time.Unix(0, 0)))
	rec := newPlayerRecorder()
	playback, err := player.Load(context.Background(), testHandle, rec.events())
	require.NoError(t, err)
	require.NoError(t, playback.Play())

	select {
	case <-rec.ended:
	case <-time.After(3 * time.Second):
		t.Fatalf("playback did not end")
	}
	assert.Zero(t, playback.Position())

	args := waitForArgs(t, argsFile, 1)
	assert.Contains(t, args[0], "-nodisp -autoexit")
	assert.Contains(t, args[0], "-ss 0.000 /tmp/clip.webm")
}

func TestFFPlayPlayerTracksPositionAndPauses(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	player, argsFile := newTestPlayer(t, "sleep 5\n", fake)
	rec := newPlayerRecorder()
	playback, err := player.Load(context.Background(), testHandle, rec.events())
	require.NoError(t, err)

	require.NoError(t, playback.Play())
	require.NoError(t, playback.Play())
	waitForArgs(t, argsFile, 1)
	fake.Advance(time.Second)
	assert.Equal(t, time.Second, playback.Position())

	rec.mu.Lock()
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 750 * time.Millisecond, time.Second}, rec.updates)
	rec.mu.Unlock()

	require.NoError(t, playback.Pause())
	assert.Zero(t, fake.Active())
	fake.Advance(time.Second)
	assert.Equal(t, time.Second, playback.Position())

	require.NoError(t, playback.Play())
	args := waitForArgs(t, argsFile, 2)
	assert.Contains(t, args[1], "-ss 1.000")

	fake.Advance(5 * time.Second)
	assert.Equal(t, 2500*time.Millisecond, playback.Position())

	require.NoError(t, playback.Close())
	assert.Zero(t, fake.Active())
	assert.ErrorIs(t, playback.Play(), ErrPlaybackClosed)

	select {
	case <-rec.ended:
		t.Fatalf("killed playback must not report a natural end")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFFPlayPlayerSeek(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	player, argsFile := newTestPlayer(t, "sleep 5\n", fake)
	playback, err := player.Load(context.Background(), testHandle, ports.PlayerEvents{})
	require.NoError(t, err)

	require.NoError(t, playback.Seek(10*time.Second))
	assert.Equal(t, 2500*time.Millisecond, playback.Position())
	require.NoError(t, playback.Seek(-time.Second))
	assert.Zero(t, playback.Position())

	require.NoError(t, playback.Seek(1500*time.Millisecond))
	require.NoError(t, playback.Play())
	waitForArgs(t, argsFile, 1)
	require.NoError(t, playback.Seek(500*time.Millisecond))

	args := waitForArgs(t, argsFile, 2)
	assert.Contains(t, args[0], "-ss 1.500")
	assert.Contains(t, args[1], "-ss 0.500")
	assert.Equal(t, 1, fake.Active())

	require.NoError(t, playback.Close())
}
