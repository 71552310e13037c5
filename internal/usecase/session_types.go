package usecase

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"withvoice/internal/ports"
)

// captureSession owns every resource of one start-to-stop attempt.
// Fields other than the handles are guarded by the controller's mutex.
type captureSession struct {
	id         string
	generation uint64
	mimeType   string

	stream    ports.AudioStream
	encoder   ports.Encoder
	analyser  ports.Analyser
	fragments *fragmentAccumulator

	timer     ports.Task
	levelLoop ports.Task

	startedAt time.Time
	pausedAt  time.Time
	paused    time.Duration

	finalizing    bool
	maxReached    bool
	finalDuration int

	// set when the encoder reports OnStopped before the session is installed
	exitedEarly bool
	exitErr     error

	encoderStop atomic.Bool
	releaseOnce sync.Once
}

func (s *captureSession) isPaused() bool {
	return !s.pausedAt.IsZero()
}

// elapsed is active recording time; it freezes while paused.
func (s *captureSession) elapsed(now time.Time) time.Duration {
	end := now
	if s.isPaused() {
		end = s.pausedAt
	}
	d := end.Sub(s.startedAt) - s.paused
	if d < 0 {
		return 0
	}
	return d
}

func (s *captureSession) cancelTasks() {
	if s.timer != nil {
		s.timer.Cancel()
		s.timer = nil
	}
	if s.levelLoop != nil {
		s.levelLoop.Cancel()
		s.levelLoop = nil
	}
}

// stopEncoder asks the encoder to finalize at most once per session.
func (s *captureSession) stopEncoder() (bool, error) {
	if s.encoder == nil || !s.encoderStop.CompareAndSwap(false, true) {
		return false, nil
	}
	return true, s.encoder.Stop()
}

// release frees the device-side handles. Callers must not hold the
// controller mutex because encoders may report OnStopped synchronously.
func (s *captureSession) release(logger *zap.Logger) {
	s.releaseOnce.Do(func() {
		if _, err := s.stopEncoder(); err != nil {
			logger.Warn("encoder stop failed", zap.String("session_id", s.id), zap.Error(err))
		}
		if s.analyser != nil {
			if err := s.analyser.Close(); err != nil {
				logger.Warn("analyser close failed", zap.String("session_id", s.id), zap.Error(err))
			}
		}
		if s.stream != nil {
			if err := s.stream.Stop(); err != nil {
				logger.Warn("stream stop failed", zap.String("session_id", s.id), zap.Error(err))
			}
		}
		logger.Debug("session resources released", zap.String("session_id", s.id))
	})
}
