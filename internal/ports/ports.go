package ports

import (
	"context"
	"errors"
	"time"

	"withvoice/internal/domain"
)

var (
	// ErrPermissionDenied reports that access to the input device was refused.
	ErrPermissionDenied = errors.New("audio input permission denied")
	// ErrDeviceNotFound reports that no matching input device exists.
	ErrDeviceNotFound = errors.New("audio input device not found")
)

// CaptureConstraints describes how the microphone should be opened.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	Channels         int
}

// StreamFormat describes the PCM carried by an AudioStream (s16le).
type StreamFormat struct {
	SampleRate int
	Channels   int
}

// AudioStream is a live device stream that may feed several consumers.
type AudioStream interface {
	Format() StreamFormat
	// Subscribe returns a channel of PCM chunks and a func that detaches it.
	Subscribe(buffer int) (<-chan []byte, func())
	// Stop releases every track of the stream. It is safe to call twice.
	Stop() error
}

// CaptureDevice grants access to an audio input.
type CaptureDevice interface {
	RequestStream(ctx context.Context, constraints CaptureConstraints) (AudioStream, error)
}

// EncoderEvents are invoked from the encoder's own goroutines.
type EncoderEvents struct {
	OnFragment func(fragment []byte)
	OnStopped  func(err error)
}

// Encoder turns a stream into encoded fragments.
type Encoder interface {
	Start(interval time.Duration) error
	Pause() error
	Resume() error
	// Stop requests finalization; OnStopped fires once the encoder flushed.
	// Calling Stop again, or after the encoder ended on its own, is a no-op.
	Stop() error
}

// EncoderFactory creates encoders for supported container formats.
type EncoderFactory interface {
	FormatSupported(mimeType string) bool
	NewEncoder(stream AudioStream, mimeType string, events EncoderEvents) (Encoder, error)
}

// Analyser exposes a frequency-domain view of a stream.
type Analyser interface {
	FrequencySnapshot() []byte
	Close() error
}

// AnalyserFactory opens analysers on live streams.
type AnalyserFactory interface {
	Open(stream AudioStream) (Analyser, error)
}

// HandleFactory turns artifacts into playable handles and releases them.
type HandleFactory interface {
	Create(data []byte, mimeType string) (domain.PlayableHandle, error)
	Release(handle domain.PlayableHandle) error
}

// Task is a cancellable periodic callback.
type Task interface {
	Cancel()
}

// Scheduler provides time and periodic callbacks.
type Scheduler interface {
	Now() time.Time
	Every(interval time.Duration, fn func()) Task
}

// PlayerEvents are invoked by a Playback while it plays.
type PlayerEvents struct {
	OnTimeUpdate func(position time.Duration)
	OnEnded      func()
}

// Playback is one loaded audio handle.
type Playback interface {
	Duration() time.Duration
	Position() time.Duration
	Play() error
	Pause() error
	Seek(position time.Duration) error
	Close() error
}

// AudioPlayer loads playable handles.
type AudioPlayer interface {
	Load(ctx context.Context, handle domain.PlayableHandle, events PlayerEvents) (Playback, error)
}

// SaveHandler receives completed recordings.
type SaveHandler interface {
	Save(ctx context.Context, req domain.SaveRequest) error
}

// EventSink receives terminal recorder events.
type EventSink interface {
	MaxDurationReached()
	RecordingFailed(err *domain.RecordingError)
	RecordingSaved(req domain.SaveRequest)
}
