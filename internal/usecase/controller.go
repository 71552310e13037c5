package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"withvoice/internal/domain"
	"withvoice/internal/observable"
	"withvoice/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active recording session")
	ErrSessionActive   = errors.New("a recording session is already active")
	ErrSuperseded      = errors.New("recording start was superseded by a reset")
	ErrClosed          = errors.New("recorder is closed")

	errEncoderExited = errors.New("encoder exited during start")
)

// DefaultFormats is the container preference order; the first supported
// entry is used.
var DefaultFormats = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/mp4",
	"audio/ogg;codecs=opus",
	"audio/ogg",
}

const (
	DefaultMinDuration      = 5 * time.Second
	DefaultMaxDuration      = 60 * time.Second
	DefaultTimerInterval    = 100 * time.Millisecond
	DefaultFragmentInterval = 100 * time.Millisecond
	DefaultLevelInterval    = 16 * time.Millisecond
	DefaultSampleRate       = 44100
)

// RecorderConfig controls duration policy and sampling cadence.
type RecorderConfig struct {
	MinDuration      time.Duration
	MaxDuration      time.Duration
	TimerInterval    time.Duration
	FragmentInterval time.Duration
	LevelInterval    time.Duration
	Formats          []string
	Constraints      ports.CaptureConstraints
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.TimerInterval <= 0 {
		c.TimerInterval = DefaultTimerInterval
	}
	if c.FragmentInterval <= 0 {
		c.FragmentInterval = DefaultFragmentInterval
	}
	if c.LevelInterval <= 0 {
		c.LevelInterval = DefaultLevelInterval
	}
	if len(c.Formats) == 0 {
		c.Formats = DefaultFormats
	}
	if c.Constraints.SampleRate <= 0 {
		c.Constraints.SampleRate = DefaultSampleRate
	}
	if c.Constraints.Channels <= 0 {
		c.Constraints.Channels = 1
	}
	return c
}

// RecorderPorts are the collaborators of a Recorder. Analysers, Handles,
// Events and Saver are optional.
type RecorderPorts struct {
	Device    ports.CaptureDevice
	Encoders  ports.EncoderFactory
	Analysers ports.AnalyserFactory
	Handles   ports.HandleFactory
	Scheduler ports.Scheduler
	Events    ports.EventSink
	Saver     ports.SaveHandler
}

// Recorder is the recording session controller.
type Recorder struct {
	device    ports.CaptureDevice
	encoders  ports.EncoderFactory
	analysers ports.AnalyserFactory
	handles   ports.HandleFactory
	scheduler ports.Scheduler
	events    ports.EventSink
	finalizer saveFinalizer
	logger    *zap.Logger
	cfg       RecorderConfig

	state *observable.Store[domain.RecordingState]
	level *observable.Store[int]

	mu         sync.Mutex
	generation uint64
	acquiring  bool
	closed     bool
	session    *captureSession
	handle     *domain.PlayableHandle
}

func NewRecorder(p RecorderPorts, logger *zap.Logger, cfg RecorderConfig) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p.Events == nil {
		p.Events = noopEvents{}
	}
	return &Recorder{
		device:    p.Device,
		encoders:  p.Encoders,
		analysers: p.Analysers,
		handles:   p.Handles,
		scheduler: p.Scheduler,
		events:    p.Events,
		finalizer: newSaveFinalizer(p.Saver, p.Events),
		logger:    logger.Named("recorder"),
		cfg:       cfg.withDefaults(),
		state:     observable.NewStore(domain.RecordingState{}),
		level:     observable.NewStore(0),
	}
}

// State returns the current recording state.
func (r *Recorder) State() domain.RecordingState {
	return r.state.Get()
}

// Phase returns the lifecycle phase derived from the current state.
func (r *Recorder) Phase() domain.RecordingPhase {
	return r.state.Get().Phase()
}

// Subscribe streams recording state replacements.
func (r *Recorder) Subscribe() (<-chan domain.RecordingState, func()) {
	return r.state.Subscribe()
}

// Level returns the latest 0-100 input level.
func (r *Recorder) Level() int {
	return r.level.Get()
}

func (r *Recorder) SubscribeLevel() (<-chan int, func()) {
	return r.level.Subscribe()
}

// Config returns the effective configuration.
func (r *Recorder) Config() RecorderConfig {
	return r.cfg
}

// IsSupported reports whether capture, encoding and a container format are
// all available.
func (r *Recorder) IsSupported() bool {
	return r.NegotiatedFormat() != ""
}

// NegotiatedFormat returns the first supported format, or "" when recording
// is unsupported.
func (r *Recorder) NegotiatedFormat() string {
	if r.device == nil || r.encoders == nil || r.scheduler == nil {
		return ""
	}
	for _, mimeType := range r.cfg.Formats {
		if r.encoders.FormatSupported(mimeType) {
			return mimeType
		}
	}
	return ""
}

// StartRecording acquires the microphone and begins a new session.
// Failures are also published on the state; the returned error is the same
// value.
func (r *Recorder) StartRecording(ctx context.Context) error {
	// Probing formats may shell out; keep it outside the lock.
	mimeType := r.NegotiatedFormat()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.session != nil || r.acquiring {
		r.mu.Unlock()
		return ErrSessionActive
	}

	if mimeType == "" {
		recErr := domain.NewCapabilityError()
		previous := r.failStartLocked(recErr)
		r.mu.Unlock()
		r.releaseHandle(previous)
		r.logger.Warn("recording unsupported", zap.Strings("formats", r.cfg.Formats))
		r.events.RecordingFailed(recErr)
		return recErr
	}

	r.generation++
	generation := r.generation
	r.acquiring = true
	r.mu.Unlock()

	session, err := r.openSession(ctx, generation, mimeType)

	r.mu.Lock()
	if r.generation != generation {
		r.mu.Unlock()
		if session != nil {
			session.release(r.logger)
		}
		r.logger.Debug("discarding superseded capture session")
		return ErrSuperseded
	}
	r.acquiring = false

	var dead *captureSession
	if err == nil && session.exitedEarly {
		err = encoderExitError(session.exitErr)
		dead = session
	}
	if err != nil {
		recErr := classifyStartError(err)
		previous := r.failStartLocked(recErr)
		r.mu.Unlock()
		if dead != nil {
			dead.release(r.logger)
		}
		r.releaseHandle(previous)
		r.logger.Warn("recording start failed", zap.String("code", string(recErr.Code)), zap.Error(err))
		r.events.RecordingFailed(recErr)
		return recErr
	}

	previous := r.handle
	r.handle = nil

	session.startedAt = r.scheduler.Now()
	session.paused = 0
	r.session = session
	session.timer = r.scheduler.Every(r.cfg.TimerInterval, func() { r.tick(session) })
	if session.analyser != nil {
		session.levelLoop = r.scheduler.Every(r.cfg.LevelInterval, func() { r.sampleLevel(session) })
	}
	r.state.Set(domain.RecordingState{IsRecording: true})
	r.level.Set(0)
	r.mu.Unlock()

	r.releaseHandle(previous)
	r.logger.Info("recording started", zap.String("session_id", session.id), zap.String("format", mimeType))
	return nil
}

func (r *Recorder) openSession(ctx context.Context, generation uint64, mimeType string) (*captureSession, error) {
	stream, err := r.device.RequestStream(ctx, r.cfg.Constraints)
	if err != nil {
		return nil, err
	}

	session := &captureSession{
		id:         uuid.NewString(),
		generation: generation,
		mimeType:   mimeType,
		stream:     stream,
		fragments:  newFragmentAccumulator(),
	}

	if r.analysers != nil {
		analyser, err := r.analysers.Open(stream)
		if err != nil {
			r.logger.Warn("audio analysis unavailable", zap.String("session_id", session.id), zap.Error(err))
		} else {
			session.analyser = analyser
		}
	}

	encoder, err := r.encoders.NewEncoder(stream, mimeType, ports.EncoderEvents{
		OnFragment: func(fragment []byte) { r.onFragment(session, fragment) },
		OnStopped:  func(err error) { r.onEncoderStopped(session, err) },
	})
	if err != nil {
		session.release(r.logger)
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	session.encoder = encoder

	if err := encoder.Start(r.cfg.FragmentInterval); err != nil {
		session.release(r.logger)
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	return session, nil
}

// StopRecording finalizes the active session once it is long enough.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	session := r.session
	if session == nil {
		r.mu.Unlock()
		return ErrNoActiveSession
	}
	if session.finalizing {
		r.mu.Unlock()
		return nil
	}

	state := r.state.Get()
	if time.Duration(state.DurationSeconds)*time.Second < r.cfg.MinDuration {
		recErr := domain.NewTooShortError(int(math.Ceil(r.cfg.MinDuration.Seconds())))
		r.setErrorLocked(recErr)
		r.mu.Unlock()
		r.events.RecordingFailed(recErr)
		return recErr
	}

	r.beginFinalizeLocked(session)
	r.mu.Unlock()

	r.requestEncoderStop(session)
	return nil
}

// PauseRecording freezes the duration clock and pauses the encoder. The
// device stream and analyser stay open.
func (r *Recorder) PauseRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.session
	if session == nil || session.finalizing || session.isPaused() {
		return nil
	}
	if err := session.encoder.Pause(); err != nil {
		r.logger.Warn("encoder pause failed", zap.String("session_id", session.id), zap.Error(err))
		return err
	}
	if session.timer != nil {
		session.timer.Cancel()
		session.timer = nil
	}
	session.pausedAt = r.scheduler.Now()

	state := r.state.Get()
	state.IsPaused = true
	state.DurationSeconds = wholeSeconds(session.elapsed(session.pausedAt))
	state.Error = nil
	r.state.Set(state)
	r.logger.Debug("recording paused", zap.String("session_id", session.id))
	return nil
}

// ResumeRecording accounts the pause once and restarts the duration clock.
func (r *Recorder) ResumeRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.session
	if session == nil || session.finalizing || !session.isPaused() {
		return nil
	}
	if err := session.encoder.Resume(); err != nil {
		r.logger.Warn("encoder resume failed", zap.String("session_id", session.id), zap.Error(err))
		return err
	}
	now := r.scheduler.Now()
	session.paused += now.Sub(session.pausedAt)
	session.pausedAt = time.Time{}
	session.timer = r.scheduler.Every(r.cfg.TimerInterval, func() { r.tick(session) })

	state := r.state.Get()
	state.IsPaused = false
	state.Error = nil
	r.state.Set(state)
	r.logger.Debug("recording resumed", zap.String("session_id", session.id), zap.Duration("paused_total", session.paused))
	return nil
}

// ResetRecording tears everything down and returns to the zeroed state.
// It is safe from any state, including while a start is acquiring the
// device.
func (r *Recorder) ResetRecording() {
	r.mu.Lock()
	r.generation++
	r.acquiring = false
	session := r.session
	r.session = nil
	if session != nil {
		session.cancelTasks()
	}
	handle := r.handle
	r.handle = nil
	r.state.Set(domain.RecordingState{})
	r.level.Set(0)
	r.mu.Unlock()

	if session != nil {
		session.release(r.logger)
		r.logger.Info("recording discarded", zap.String("session_id", session.id))
	}
	r.releaseHandle(handle)
}

// Close is the owner's teardown: it resets and detaches subscribers.
func (r *Recorder) Close() {
	r.ResetRecording()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.state.Close()
	r.level.Close()
}

// Save validates the finished recording and hands it to the save handler.
func (r *Recorder) Save(ctx context.Context, title string, category domain.VoiceCategory) (domain.SaveRequest, error) {
	return r.finalizer.Finalize(ctx, r.state.Get(), title, category)
}

func (r *Recorder) tick(session *captureSession) {
	r.mu.Lock()
	if r.session != session || session.finalizing || session.isPaused() {
		r.mu.Unlock()
		return
	}

	elapsed := session.elapsed(r.scheduler.Now())
	seconds := wholeSeconds(elapsed)
	state := r.state.Get()
	if state.DurationSeconds != seconds {
		state.DurationSeconds = seconds
		r.state.Set(state)
	}
	if elapsed < r.cfg.MaxDuration {
		r.mu.Unlock()
		return
	}

	session.maxReached = true
	r.beginFinalizeLocked(session)
	r.mu.Unlock()

	r.logger.Info("max duration reached", zap.String("session_id", session.id), zap.Int("duration_seconds", seconds))
	r.requestEncoderStop(session)
	r.events.MaxDurationReached()
}

func (r *Recorder) sampleLevel(session *captureSession) {
	r.mu.Lock()
	if r.session != session || session.analyser == nil {
		r.mu.Unlock()
		return
	}
	analyser := session.analyser
	r.mu.Unlock()

	level := audioLevel(analyser.FrequencySnapshot())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == session && !session.finalizing {
		r.level.Set(level)
	}
}

func (r *Recorder) onFragment(session *captureSession, fragment []byte) {
	r.mu.Lock()
	current := r.generation == session.generation
	r.mu.Unlock()
	if !current {
		return
	}
	session.fragments.Add(fragment)
}

func (r *Recorder) onEncoderStopped(session *captureSession, encErr error) {
	r.mu.Lock()
	if r.session != session {
		if r.acquiring && r.generation == session.generation {
			session.exitedEarly = true
			session.exitErr = encErr
		}
		r.mu.Unlock()
		return
	}
	requested := session.finalizing
	if !requested {
		session.finalizing = true
		session.cancelTasks()
	}
	r.mu.Unlock()

	session.encoderStop.Store(true)
	session.release(r.logger)

	data := session.fragments.Bytes()
	if !requested || (encErr != nil && len(data) == 0) {
		r.failSession(session, encErr)
		return
	}
	if encErr != nil {
		r.logger.Warn("encoder finished with error", zap.String("session_id", session.id), zap.Error(encErr))
	}

	artifact := &domain.AudioArtifact{Data: data, MimeType: session.mimeType}
	var handle *domain.PlayableHandle
	if r.handles != nil {
		created, err := r.handles.Create(data, session.mimeType)
		if err != nil {
			r.logger.Warn("failed to create playable handle", zap.String("session_id", session.id), zap.Error(err))
		} else {
			handle = &created
		}
	}

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		r.releaseHandle(handle)
		return
	}
	r.session = nil
	r.handle = handle
	r.state.Set(domain.RecordingState{
		DurationSeconds: session.finalDuration,
		Artifact:        artifact,
		AudioURL:        handle,
	})
	r.level.Set(0)
	r.mu.Unlock()

	r.logger.Info("recording finished",
		zap.String("session_id", session.id),
		zap.Int("duration_seconds", session.finalDuration),
		zap.Int("fragments", session.fragments.Count()),
		zap.Int("bytes", len(data)),
		zap.Bool("max_reached", session.maxReached),
	)
}

// failSession drops a session whose encoder ended without producing audio.
func (r *Recorder) failSession(session *captureSession, cause error) {
	recErr := domain.NewInterruptedError()

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return
	}
	r.session = nil
	r.state.Set(domain.RecordingState{Error: recErr})
	r.level.Set(0)
	r.mu.Unlock()

	r.logger.Error("recording interrupted", zap.String("session_id", session.id), zap.Error(cause))
	r.events.RecordingFailed(recErr)
}

func (r *Recorder) beginFinalizeLocked(session *captureSession) {
	session.finalizing = true
	session.cancelTasks()
	session.finalDuration = wholeSeconds(session.elapsed(r.scheduler.Now()))

	state := r.state.Get()
	state.DurationSeconds = session.finalDuration
	state.Error = nil
	r.state.Set(state)
}

func (r *Recorder) requestEncoderStop(session *captureSession) {
	stopped, err := session.stopEncoder()
	if !stopped {
		return
	}
	if err != nil {
		r.logger.Warn("encoder stop failed", zap.String("session_id", session.id), zap.Error(err))
		r.onEncoderStopped(session, err)
	}
}

// failStartLocked returns the controller to Idle carrying recErr. The
// previous playable handle is returned for release outside the lock.
func (r *Recorder) failStartLocked(recErr *domain.RecordingError) *domain.PlayableHandle {
	previous := r.handle
	r.handle = nil
	r.state.Set(domain.RecordingState{Error: recErr})
	r.level.Set(0)
	return previous
}

func encoderExitError(cause error) error {
	if cause == nil {
		return errEncoderExited
	}
	return fmt.Errorf("%w: %w", errEncoderExited, cause)
}

func (r *Recorder) setErrorLocked(recErr *domain.RecordingError) {
	state := r.state.Get()
	state.Error = recErr
	r.state.Set(state)
}

func (r *Recorder) releaseHandle(handle *domain.PlayableHandle) {
	if handle == nil || r.handles == nil {
		return
	}
	if err := r.handles.Release(*handle); err != nil {
		r.logger.Warn("failed to release playable handle", zap.String("handle_id", handle.ID), zap.Error(err))
	}
}

func classifyStartError(err error) *domain.RecordingError {
	switch {
	case errors.Is(err, ports.ErrPermissionDenied):
		return domain.NewPermissionDeniedError()
	case errors.Is(err, ports.ErrDeviceNotFound):
		return domain.NewDeviceNotFoundError()
	default:
		return domain.NewUnknownError()
	}
}

func wholeSeconds(d time.Duration) int {
	return int(d / time.Second)
}

type noopEvents struct{}

func (noopEvents) MaxDurationReached()                      {}
func (noopEvents) RecordingFailed(_ *domain.RecordingError) {}
func (noopEvents) RecordingSaved(_ domain.SaveRequest)      {}
