package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"withvoice/internal/audio"
	"withvoice/internal/clock"
	"withvoice/internal/domain"
	"withvoice/internal/logging"
	"withvoice/internal/usecase"
)

func newPlayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "play <file>",
		Short: "Play a recording with the preview player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("cannot play %s: %w", args[0], err)
			}

			logger, closer, err := logging.New(opts.cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()
			defer logger.Sync()

			player := audio.NewFFPlayPlayer(audio.FFPlayConfig{
				FFPlayCommand:  opts.cfg.Playback.FFPlayCommand,
				FFProbeCommand: opts.cfg.Playback.FFProbeCommand,
			}, clock.System{})
			controller := usecase.NewPlaybackController(player, logger)
			defer controller.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handle := domain.PlayableHandle{
				ID:       uuid.NewString(),
				Path:     path,
				MimeType: mime.TypeByExtension(filepath.Ext(path)),
			}
			return runPlay(ctx, cmd, controller, handle)
		},
	}
}

func runPlay(ctx context.Context, cmd *cobra.Command, controller *usecase.PlaybackController, handle domain.PlayableHandle) error {
	out := cmd.OutOrStdout()
	if err := controller.Load(ctx, handle); err != nil {
		return err
	}
	states, cancel := controller.Subscribe()
	defer cancel()
	if err := controller.Play(); err != nil {
		return err
	}

	// The subscription only holds the latest value, so everything read from
	// here on was published after Play.
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return controller.Stop()
		case state, ok := <-states:
			if !ok || !state.IsPlaying {
				fmt.Fprintln(out)
				return nil
			}
			fmt.Fprintf(out, "\r%s / %s",
				domain.FormatPlaybackTime(state.CurrentTimeSeconds),
				domain.FormatPlaybackTime(state.DurationSeconds))
		}
	}
}
