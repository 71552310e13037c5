package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"withvoice/internal/bootstrap"
	"withvoice/internal/library"
	"withvoice/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket control API",
		Long: `Start the recorder behind an HTTP API so a browser UI can drive it.
State, level and playback updates are pushed on /api/events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				opts.cfg.Server.Listen = listen
			}

			hub := server.NewHub(nil)
			saver := library.NewDirSaver(opts.cfg.Storage.LibraryDir, nil)
			services, err := bootstrap.BuildFrom(opts.cfg, hub, saver)
			if err != nil {
				return err
			}
			defer services.Close()

			srv := server.New(services.Recorder, services.Playback, hub, services.Logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "withvoice listening on http://%s\n", opts.cfg.Server.Listen)
			services.Logger.Info("serving", zap.String("listen", opts.cfg.Server.Listen), zap.String("library", saver.Dir()))
			return srv.ListenAndServe(ctx, opts.cfg.Server.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	return cmd
}
