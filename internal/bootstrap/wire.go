package bootstrap

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"withvoice/internal/audio"
	"withvoice/internal/clock"
	"withvoice/internal/config"
	"withvoice/internal/logging"
	"withvoice/internal/ports"
	"withvoice/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Recorder *usecase.Recorder
	Playback *usecase.PlaybackController
	Capture  ports.CaptureDevice
	Encoders *audio.FFMPEGEncoders
	Handles  *audio.TempFileHandles
	Config   config.Config
	Logger   *zap.Logger

	logCloser io.Closer
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, saver ports.SaveHandler) (Services, error) {
	cfg, err := config.Load("")
	if err != nil {
		return Services{}, err
	}
	return BuildFrom(cfg, eventSink, saver)
}

// BuildFrom wires the runtime from an already resolved configuration.
func BuildFrom(cfg config.Config, eventSink ports.EventSink, saver ports.SaveHandler) (Services, error) {
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return Services{}, err
	}

	scheduler := clock.System{}
	encoders := audio.NewFFMPEGEncoders(cfg.Encoder.FFMPEGCommand)
	handles := audio.NewTempFileHandles(cfg.Storage.HandleDir)
	capture := newCaptureDevice(cfg.Capture)

	recorder := usecase.NewRecorder(usecase.RecorderPorts{
		Device:    capture,
		Encoders:  encoders,
		Analysers: audio.NewSpectrumAnalysers(cfg.Analyser.FFTSize, cfg.Analyser.Smoothing),
		Handles:   handles,
		Scheduler: scheduler,
		Events:    eventSink,
		Saver:     saver,
	}, logger, RecorderConfig(cfg))

	player := audio.NewFFPlayPlayer(audio.FFPlayConfig{
		FFPlayCommand:  cfg.Playback.FFPlayCommand,
		FFProbeCommand: cfg.Playback.FFProbeCommand,
	}, scheduler)

	logger.Info("runtime assembled",
		zap.String("capture_backend", cfg.Capture.Backend),
		zap.String("input_device", cfg.Capture.InputDevice),
		zap.String("format", recorder.NegotiatedFormat()),
		zap.String("config_file", cfg.File),
	)

	return Services{
		Recorder:  recorder,
		Playback:  usecase.NewPlaybackController(player, logger),
		Capture:   capture,
		Encoders:  encoders,
		Handles:   handles,
		Config:    cfg,
		Logger:    logger,
		logCloser: logCloser,
	}, nil
}

// RecorderConfig maps the file/env settings onto the controller policy.
func RecorderConfig(cfg config.Config) usecase.RecorderConfig {
	return usecase.RecorderConfig{
		MinDuration:      cfg.Recorder.MinDuration,
		MaxDuration:      cfg.Recorder.MaxDuration,
		TimerInterval:    cfg.Recorder.TimerInterval,
		FragmentInterval: cfg.Recorder.FragmentInterval,
		LevelInterval:    cfg.Recorder.LevelInterval,
		Constraints: ports.CaptureConstraints{
			EchoCancellation: cfg.Capture.EchoCancellation,
			NoiseSuppression: cfg.Capture.NoiseSuppression,
			SampleRate:       cfg.Capture.SampleRate,
			Channels:         cfg.Capture.Channels,
		},
	}
}

func newCaptureDevice(cfg config.CaptureConfig) ports.CaptureDevice {
	if cfg.Backend == "malgo" {
		return audio.NewMalgoCapture()
	}
	return audio.NewFFMPEGCapture(audio.FFMPEGCaptureConfig{
		Command:     cfg.FFMPEGCommand,
		InputFormat: cfg.InputFormat,
		InputDevice: cfg.InputDevice,
	})
}

// Close tears down both controllers and flushes the logger.
func (s Services) Close() error {
	if s.Playback != nil {
		s.Playback.Close()
	}
	if s.Recorder != nil {
		s.Recorder.Close()
	}
	var errs []error
	if s.Logger != nil {
		_ = s.Logger.Sync()
	}
	if s.logCloser != nil {
		errs = append(errs, s.logCloser.Close())
	}
	return errors.Join(errs...)
}
