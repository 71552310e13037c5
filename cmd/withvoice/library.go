package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"withvoice/internal/domain"
	"withvoice/internal/library"
)

func newLibraryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "library",
		Short: "List saved voice messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			saver := library.NewDirSaver(opts.cfg.Storage.LibraryDir, nil)
			entries, err := saver.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "no recordings in %s\n", saver.Dir())
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TITLE\tCATEGORY\tLENGTH\tFILE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Title, e.Category, domain.FormatClock(e.DurationSeconds), e.File)
			}
			return w.Flush()
		},
	}
}
