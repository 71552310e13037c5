package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"withvoice/internal/audio"
	"withvoice/internal/usecase"
)

func newFormatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List container formats in preference order and which ffmpeg supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			encoders := audio.NewFFMPEGEncoders(opts.cfg.Encoder.FFMPEGCommand)

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			negotiated := ""
			for _, mimeType := range usecase.DefaultFormats {
				status := "unsupported"
				if encoders.FormatSupported(mimeType) {
					status = "supported"
					if negotiated == "" {
						negotiated = mimeType
					}
				}
				fmt.Fprintf(w, "%s\t.%s\t%s\n", mimeType, audio.Extension(mimeType), status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if err := encoders.ProbeError(); err != nil {
				return fmt.Errorf("could not query %s: %w", opts.cfg.Encoder.FFMPEGCommand, err)
			}
			if negotiated == "" {
				fmt.Fprintln(out, "recording is not supported: no usable container format")
				return nil
			}
			fmt.Fprintf(out, "negotiated: %s\n", negotiated)
			return nil
		},
	}
}
