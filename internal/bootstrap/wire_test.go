package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"withvoice/internal/audio"
	"withvoice/internal/config"
	"withvoice/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("WITHVOICE_STORAGE_HANDLE_DIR", filepath.Join(home, "handles"))

	services, err := Build(noopEventSink{}, noopSaver{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Recorder == nil || services.Playback == nil {
		t.Fatalf("expected controllers")
	}
	if _, ok := services.Capture.(*audio.FFMPEGCapture); !ok {
		t.Fatalf("expected ffmpeg capture, got %T", services.Capture)
	}
	if services.Handles.Dir() != filepath.Join(home, "handles") {
		t.Fatalf("unexpected handle dir %q", services.Handles.Dir())
	}
	if got := services.Recorder.Config().MaxDuration; got != 60*time.Second {
		t.Fatalf("unexpected max duration %v", got)
	}
}

func TestBuildSelectsMalgoBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Capture.Backend = "malgo"

	services, err := BuildFrom(cfg, noopEventSink{}, noopSaver{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if _, ok := services.Capture.(*audio.MalgoCapture); !ok {
		t.Fatalf("expected malgo capture, got %T", services.Capture)
	}
}

func TestBuildFailsOnInvalidConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("WITHVOICE_CAPTURE_BACKEND", "oss")

	if _, err := Build(noopEventSink{}, noopSaver{}); err == nil {
		t.Fatalf("expected build error due to invalid backend")
	}
}

func TestBuildFromRejectsBadLogLevel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Log.Level = "chatty"

	if _, err := BuildFrom(cfg, noopEventSink{}, noopSaver{}); err == nil {
		t.Fatalf("expected logger error")
	}
}

func TestRecorderConfigMapsCaptureConstraints(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Capture.SampleRate = 48000
	cfg.Capture.NoiseSuppression = false
	cfg.Recorder.MinDuration = 2 * time.Second

	got := RecorderConfig(cfg)
	if got.Constraints.SampleRate != 48000 || got.Constraints.NoiseSuppression || !got.Constraints.EchoCancellation {
		t.Fatalf("unexpected constraints: %+v", got.Constraints)
	}
	if got.MinDuration != 2*time.Second || got.LevelInterval != 16*time.Millisecond {
		t.Fatalf("unexpected policy: %+v", got)
	}
}

type noopEventSink struct{}

func (noopEventSink) MaxDurationReached()                      {}
func (noopEventSink) RecordingFailed(_ *domain.RecordingError) {}
func (noopEventSink) RecordingSaved(_ domain.SaveRequest)      {}

type noopSaver struct{}

func (noopSaver) Save(_ context.Context, _ domain.SaveRequest) error { return nil }
