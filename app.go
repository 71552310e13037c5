package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"withvoice/internal/bootstrap"
	"withvoice/internal/config"
	"withvoice/internal/domain"
	"withvoice/internal/usecase"
)

const (
	eventRecording   = "withvoice:recording"
	eventLevel       = "withvoice:level"
	eventPlayback    = "withvoice:playback"
	eventMaxDuration = "withvoice:max-duration"
	eventError       = "withvoice:error"
	eventUpload      = "withvoice:upload"
	eventSaved       = "withvoice:saved"
)

var errNoPreview = errors.New("no finished recording to preview")

type emitFunc func(ctx context.Context, eventName string, optionalData ...interface{})

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit emitFunc

	services bootstrap.Services
	recorder *usecase.Recorder
	playback *usecase.PlaybackController
	cfg      config.Config
	bootErr  error

	forwarding sync.WaitGroup
	stopFwd    context.CancelFunc
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, &frontendUploader{app: a})
	if err != nil {
		a.bootErr = err
		a.emitError(domain.ErrorCodeUnknown, fmt.Sprintf("Startup failed: %v", err))
		return
	}

	a.services = services
	a.cfg = services.Config
	a.recorder = services.Recorder
	a.playback = services.Playback
	a.startForwarding()
}

func (a *App) shutdown(_ context.Context) {
	if a.stopFwd != nil {
		a.stopFwd()
	}
	if err := a.services.Close(); err != nil && a.services.Logger != nil {
		a.services.Logger.Warn("shutdown failed", zap.Error(err))
	}
	a.forwarding.Wait()
}

// startForwarding relays controller updates to the frontend until shutdown.
func (a *App) startForwarding() {
	ctx, cancel := context.WithCancel(a.ctx)
	a.stopFwd = cancel

	states, cancelStates := a.recorder.Subscribe()
	levels, cancelLevels := a.recorder.SubscribeLevel()
	playback, cancelPlayback := a.playback.Subscribe()

	a.forwarding.Add(1)
	go func() {
		defer a.forwarding.Done()
		defer cancelStates()
		defer cancelLevels()
		defer cancelPlayback()

		for states != nil || levels != nil || playback != nil {
			select {
			case <-ctx.Done():
				return
			case state, ok := <-states:
				if !ok {
					states = nil
					continue
				}
				a.RecordingStateChanged(state)
			case level, ok := <-levels:
				if !ok {
					levels = nil
					continue
				}
				a.emitEvent(eventLevel, map[string]int{"level": level})
			case state, ok := <-playback:
				if !ok {
					playback = nil
					continue
				}
				a.emitEvent(eventPlayback, state)
			}
		}
	}()
}

// StartRecording acquires the microphone and starts a new recording.
func (a *App) StartRecording() (domain.RecordingState, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecordingState{}, err
	}
	err := a.recorder.StartRecording(a.ctx)
	return a.recorder.State(), err
}

// StopRecording finalizes the recording once it is long enough.
func (a *App) StopRecording() (domain.RecordingState, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecordingState{}, err
	}
	err := a.recorder.StopRecording()
	if errors.Is(err, usecase.ErrNoActiveSession) {
		err = nil
	}
	return a.recorder.State(), err
}

func (a *App) PauseRecording() (domain.RecordingState, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecordingState{}, err
	}
	err := a.recorder.PauseRecording()
	return a.recorder.State(), err
}

func (a *App) ResumeRecording() (domain.RecordingState, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecordingState{}, err
	}
	err := a.recorder.ResumeRecording()
	return a.recorder.State(), err
}

// ResetRecording discards the current recording and unloads the preview.
func (a *App) ResetRecording() (domain.RecordingState, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecordingState{}, err
	}
	a.playback.Unload()
	a.recorder.ResetRecording()
	return a.recorder.State(), nil
}

// GetRecordingState returns the current recording state.
func (a *App) GetRecordingState() domain.RecordingState {
	if a.recorder == nil {
		if a.bootErr != nil {
			return domain.RecordingState{Error: &domain.RecordingError{
				Code:    domain.ErrorCodeUnknown,
				Message: a.bootErr.Error(),
			}}
		}
		return domain.RecordingState{}
	}
	return a.recorder.State()
}

// GetAudioLevel returns the latest 0-100 input level.
func (a *App) GetAudioLevel() int {
	if a.recorder == nil {
		return 0
	}
	return a.recorder.Level()
}

// SaveRecording validates the finished recording and hands it to the
// frontend for upload.
func (a *App) SaveRecording(title string, category string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	_, err := a.recorder.Save(a.ctx, title, domain.VoiceCategory(category))
	return err
}

// GetCategories lists the categories a recording can be saved under.
func (a *App) GetCategories() []domain.VoiceCategory {
	return domain.Categories()
}

// LoadPreview loads the finished recording into the preview player.
func (a *App) LoadPreview() (domain.PlaybackState, error) {
	if err := a.requireReady(); err != nil {
		return domain.PlaybackState{}, err
	}
	handle := a.recorder.State().AudioURL
	if handle == nil {
		return a.playback.State(), errNoPreview
	}
	err := a.playback.Load(a.ctx, *handle)
	return a.playback.State(), err
}

func (a *App) PlayPreview() (domain.PlaybackState, error) {
	return a.previewAction(func() error { return a.playback.Play() })
}

func (a *App) PausePreview() (domain.PlaybackState, error) {
	return a.previewAction(func() error { return a.playback.Pause() })
}

func (a *App) StopPreview() (domain.PlaybackState, error) {
	return a.previewAction(func() error { return a.playback.Stop() })
}

func (a *App) SeekPreview(seconds float64) (domain.PlaybackState, error) {
	return a.previewAction(func() error { return a.playback.Seek(seconds) })
}

func (a *App) GetPlaybackState() domain.PlaybackState {
	if a.playback == nil {
		return domain.PlaybackState{}
	}
	return a.playback.State()
}

func (a *App) previewAction(action func() error) (domain.PlaybackState, error) {
	if err := a.requireReady(); err != nil {
		return domain.PlaybackState{}, err
	}
	err := action()
	return a.playback.State(), err
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"captureBackend":   a.cfg.Capture.Backend,
		"audioInput":       a.cfg.Capture.InputDevice,
		"audioInputFormat": a.cfg.Capture.InputFormat,
		"minDuration":      a.cfg.Recorder.MinDuration.String(),
		"maxDuration":      a.cfg.Recorder.MaxDuration.String(),
		"configFile":       a.cfg.File,
	}
	if a.recorder != nil {
		info["format"] = a.recorder.NegotiatedFormat()
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.recorder == nil || a.playback == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// RecordingStateChanged emits recording state updates to the frontend.
func (a *App) RecordingStateChanged(state domain.RecordingState) {
	phase := state.Phase()
	a.emitEvent(eventRecording, map[string]interface{}{
		"state":   state,
		"phase":   string(phase),
		"clock":   domain.FormatClock(state.DurationSeconds),
		"message": phaseMessage(phase),
	})
}

// MaxDurationReached tells the frontend the recording stopped itself.
func (a *App) MaxDurationReached() {
	a.emitEvent(eventMaxDuration, map[string]string{
		"message": "Maximum recording length reached",
	})
}

// RecordingFailed emits recorder errors to the UI.
func (a *App) RecordingFailed(err *domain.RecordingError) {
	if err == nil {
		return
	}
	a.emitError(err.Code, err.Message)
}

// RecordingSaved confirms a save without repeating the audio bytes.
func (a *App) RecordingSaved(req domain.SaveRequest) {
	a.emitEvent(eventSaved, map[string]interface{}{
		"title":           req.Title,
		"category":        string(req.Category),
		"durationSeconds": req.DurationSeconds,
	})
}

func (a *App) emitError(code domain.ErrorCode, detail string) {
	a.emitEvent(eventError, map[string]string{
		"code":    string(code),
		"title":   errorTitle(code, detail),
		"message": detail,
	})
}

func (a *App) emitEvent(name string, data interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

func phaseMessage(phase domain.RecordingPhase) string {
	switch phase {
	case domain.RecordingPhaseIdle:
		return "Ready to record"
	case domain.RecordingPhaseRecording:
		return "Recording"
	case domain.RecordingPhasePaused:
		return "Paused"
	case domain.RecordingPhaseStopped:
		return "Recording ready to preview"
	default:
		return ""
	}
}

func errorTitle(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeCapabilityUnsupported:
		return "Recording unavailable"
	case domain.ErrorCodePermissionDenied:
		return "Microphone blocked"
	case domain.ErrorCodeDeviceNotFound:
		return "No microphone"
	case domain.ErrorCodeRecordingTooShort:
		return "Recording too short"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// frontendUploader hands saved audio to the frontend, which owns the upload.
type frontendUploader struct {
	app *App
}

func (u *frontendUploader) Save(_ context.Context, req domain.SaveRequest) error {
	if u.app.ctx == nil {
		return fmt.Errorf("application is not initialized")
	}
	u.app.emitEvent(eventUpload, req)
	return nil
}
