package domain

import (
	"fmt"
	"math"
)

// RecordingPhase is the coarse lifecycle position of a recording controller.
type RecordingPhase string

const (
	RecordingPhaseIdle      RecordingPhase = "idle"
	RecordingPhaseRecording RecordingPhase = "recording"
	RecordingPhasePaused    RecordingPhase = "paused"
	RecordingPhaseStopped   RecordingPhase = "stopped"
)

// ErrorCode identifies user-facing recording failures.
type ErrorCode string

const (
	ErrorCodeCapabilityUnsupported ErrorCode = "capability_unsupported"
	ErrorCodePermissionDenied      ErrorCode = "permission_denied"
	ErrorCodeDeviceNotFound        ErrorCode = "device_not_found"
	ErrorCodeRecordingTooShort     ErrorCode = "recording_too_short"
	ErrorCodeUnknown               ErrorCode = "unknown"
)

// RecordingError is the last failure attached to a RecordingState.
type RecordingError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	MinSeconds int       `json:"minSeconds,omitempty"`
}

func (e *RecordingError) Error() string {
	return e.Message
}

func NewCapabilityError() *RecordingError {
	return &RecordingError{
		Code:    ErrorCodeCapabilityUnsupported,
		Message: "Recording is not supported in this environment.",
	}
}

func NewPermissionDeniedError() *RecordingError {
	return &RecordingError{
		Code:    ErrorCodePermissionDenied,
		Message: "Microphone access was denied. Allow microphone access in your settings and try again.",
	}
}

func NewDeviceNotFoundError() *RecordingError {
	return &RecordingError{
		Code:    ErrorCodeDeviceNotFound,
		Message: "No microphone was found. Check that a microphone is connected.",
	}
}

func NewTooShortError(minSeconds int) *RecordingError {
	return &RecordingError{
		Code:       ErrorCodeRecordingTooShort,
		Message:    fmt.Sprintf("Please record at least %d seconds.", minSeconds),
		MinSeconds: minSeconds,
	}
}

func NewUnknownError() *RecordingError {
	return &RecordingError{
		Code:    ErrorCodeUnknown,
		Message: "Could not start recording.",
	}
}

// NewInterruptedError reports an encoder that ended without usable audio.
func NewInterruptedError() *RecordingError {
	return &RecordingError{
		Code:    ErrorCodeUnknown,
		Message: "Recording was interrupted. Please try again.",
	}
}

// AudioArtifact is the encoded audio produced by a successful stop.
type AudioArtifact struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mimeType"`
}

// Size returns the artifact length in bytes.
func (a *AudioArtifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// PlayableHandle references an artifact in a form a player can open.
type PlayableHandle struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	MimeType string `json:"mimeType"`
}

// RecordingState is replaced wholesale on every update.
type RecordingState struct {
	IsRecording     bool            `json:"isRecording"`
	IsPaused        bool            `json:"isPaused"`
	DurationSeconds int             `json:"durationSeconds"`
	Artifact        *AudioArtifact  `json:"artifact,omitempty"`
	AudioURL        *PlayableHandle `json:"audioUrl,omitempty"`
	Error           *RecordingError `json:"error,omitempty"`
}

// Phase derives the lifecycle phase from the state flags.
func (s RecordingState) Phase() RecordingPhase {
	switch {
	case s.IsRecording && s.IsPaused:
		return RecordingPhasePaused
	case s.IsRecording:
		return RecordingPhaseRecording
	case s.Artifact != nil:
		return RecordingPhaseStopped
	default:
		return RecordingPhaseIdle
	}
}

// PlaybackState is the observable position of a preview player.
type PlaybackState struct {
	IsPlaying          bool    `json:"isPlaying"`
	CurrentTimeSeconds float64 `json:"currentTimeSeconds"`
	DurationSeconds    float64 `json:"durationSeconds"`
}

// VoiceCategory classifies a saved clip.
type VoiceCategory string

const (
	CategoryMotivation    VoiceCategory = "motivation"
	CategoryComfort       VoiceCategory = "comfort"
	CategoryGoodnight     VoiceCategory = "goodnight"
	CategoryWakeup        VoiceCategory = "wakeup"
	CategoryEncouragement VoiceCategory = "encouragement"
	CategoryOther         VoiceCategory = "other"
)

// Categories lists every category in display order.
func Categories() []VoiceCategory {
	return []VoiceCategory{
		CategoryMotivation,
		CategoryComfort,
		CategoryGoodnight,
		CategoryWakeup,
		CategoryEncouragement,
		CategoryOther,
	}
}

// SaveRequest is what a completed session hands to the consumer.
type SaveRequest struct {
	AudioBytes      []byte        `json:"audioBytes" validate:"required"`
	MimeType        string        `json:"mimeType" validate:"required"`
	Title           string        `json:"title" validate:"required,max=100"`
	Category        VoiceCategory `json:"category" validate:"required,oneof=motivation comfort goodnight wakeup encouragement other"`
	DurationSeconds int           `json:"durationSeconds" validate:"gte=0"`
}

// FormatClock renders whole seconds as MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatPlaybackTime renders a playback position as M:SS.
func FormatPlaybackTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	whole := int(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", whole/60, whole%60)
}
