package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"withvoice/internal/domain"
	"withvoice/internal/ports"
)

var ErrNothingToSave = errors.New("no finished recording to save")

type saveFinalizer struct {
	validate *validator.Validate
	handler  ports.SaveHandler
	events   ports.EventSink
}

func newSaveFinalizer(handler ports.SaveHandler, events ports.EventSink) saveFinalizer {
	return saveFinalizer{validate: validator.New(), handler: handler, events: events}
}

// Finalize builds a save request from a stopped recording and hands it on.
func (f saveFinalizer) Finalize(
	ctx context.Context,
	state domain.RecordingState,
	title string,
	category domain.VoiceCategory,
) (domain.SaveRequest, error) {
	if state.IsRecording || state.Artifact == nil || state.Artifact.Size() == 0 {
		return domain.SaveRequest{}, ErrNothingToSave
	}
	if category == "" {
		category = domain.CategoryMotivation
	}

	req := domain.SaveRequest{
		AudioBytes:      state.Artifact.Data,
		MimeType:        state.Artifact.MimeType,
		Title:           strings.TrimSpace(title),
		Category:        category,
		DurationSeconds: state.DurationSeconds,
	}
	if err := f.validate.Struct(req); err != nil {
		return domain.SaveRequest{}, fmt.Errorf("invalid save request: %w", err)
	}

	if f.handler != nil {
		if err := f.handler.Save(ctx, req); err != nil {
			return domain.SaveRequest{}, fmt.Errorf("failed to save recording: %w", err)
		}
	}
	f.events.RecordingSaved(req)
	return req, nil
}
