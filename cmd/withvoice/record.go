package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"withvoice/internal/audio"
	"withvoice/internal/bootstrap"
	"withvoice/internal/domain"
	"withvoice/internal/library"
	"withvoice/internal/usecase"
)

type recordOptions struct {
	out      string
	title    string
	category string
}

// terminalEvents hands the max-length notification to the command loop.
type terminalEvents struct {
	maxReached chan struct{}
}

func newTerminalEvents() *terminalEvents {
	return &terminalEvents{maxReached: make(chan struct{}, 1)}
}

func (e *terminalEvents) MaxDurationReached() {
	select {
	case e.maxReached <- struct{}{}:
	default:
	}
}

func (e *terminalEvents) RecordingFailed(_ *domain.RecordingError) {}

func (e *terminalEvents) RecordingSaved(_ domain.SaveRequest) {}

func newRecordCmd(opts *rootOptions) *cobra.Command {
	ro := &recordOptions{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice message until Ctrl+C or the maximum length",
		Long: `Record from the configured microphone. Press Ctrl+C to stop; recordings
shorter than the minimum length keep running until stopped again or
discarded with a second Ctrl+C. The recording stops on its own at the
maximum length.

With --title the clip is also saved to the library directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events := newTerminalEvents()
			saver := library.NewDirSaver(opts.cfg.Storage.LibraryDir, nil)
			services, err := bootstrap.BuildFrom(opts.cfg, events, saver)
			if err != nil {
				return err
			}
			defer services.Close()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			return runRecord(cmd, services.Recorder, events, sigCh, ro, services.Logger)
		},
	}
	cmd.Flags().StringVarP(&ro.out, "out", "o", "", "output file (default recording-<timestamp>.<ext>)")
	cmd.Flags().StringVar(&ro.title, "title", "", "also save the clip to the library under this title")
	cmd.Flags().StringVar(&ro.category, "category", string(domain.CategoryMotivation), "library category")
	return cmd
}

func runRecord(
	cmd *cobra.Command,
	recorder *usecase.Recorder,
	events *terminalEvents,
	interrupts <-chan os.Signal,
	ro *recordOptions,
	logger *zap.Logger,
) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if err := recorder.StartRecording(ctx); err != nil {
		return err
	}
	cfg := recorder.Config()
	fmt.Fprintf(out, "Recording %s (min %s, max %s). Press Ctrl+C to stop.\n",
		recorder.NegotiatedFormat(), cfg.MinDuration, cfg.MaxDuration)

	states, cancel := recorder.Subscribe()
	defer cancel()

	shown := -1
	tooShort := false
	for {
		select {
		case <-interrupts:
			if tooShort {
				recorder.ResetRecording()
				fmt.Fprintln(out)
				return errors.New("recording discarded")
			}
			err := recorder.StopRecording()
			var recErr *domain.RecordingError
			switch {
			case err == nil, errors.Is(err, usecase.ErrNoActiveSession):
			case errors.As(err, &recErr) && recErr.Code == domain.ErrorCodeRecordingTooShort:
				tooShort = true
				fmt.Fprintf(out, "\n%s Press Ctrl+C again to discard.\n", recErr.Message)
			default:
				return err
			}
		case <-events.maxReached:
			fmt.Fprintln(out, "\nMaximum length reached.")
		case state, ok := <-states:
			if !ok {
				return usecase.ErrClosed
			}
			if state.IsRecording {
				if state.DurationSeconds != shown {
					shown = state.DurationSeconds
					if time.Duration(shown)*time.Second >= cfg.MinDuration {
						tooShort = false
					}
					fmt.Fprintf(out, "\r%s", domain.FormatClock(shown))
				}
				continue
			}
			if state.Artifact != nil {
				return finishRecording(cmd, recorder, state, ro, out, logger)
			}
			if state.Error != nil {
				return state.Error
			}
		}
	}
}

func finishRecording(
	cmd *cobra.Command,
	recorder *usecase.Recorder,
	state domain.RecordingState,
	ro *recordOptions,
	out io.Writer,
	logger *zap.Logger,
) error {
	path := ro.out
	if path == "" {
		path = fmt.Sprintf("recording-%s.%s", time.Now().Format("20060102-150405"), audio.Extension(state.Artifact.MimeType))
	}
	if err := os.WriteFile(path, state.Artifact.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	fmt.Fprintf(out, "\nSaved %s (%s, %d bytes) to %s\n",
		domain.FormatClock(state.DurationSeconds), state.Artifact.MimeType, state.Artifact.Size(), path)
	logger.Info("recording written", zap.String("path", path), zap.Int("bytes", state.Artifact.Size()))

	if ro.title == "" {
		return nil
	}
	req, err := recorder.Save(cmd.Context(), ro.title, domain.VoiceCategory(ro.category))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Added %q (%s) to the library\n", req.Title, req.Category)
	return nil
}
