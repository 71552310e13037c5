package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"withvoice/internal/config"
)

type rootOptions struct {
	configPath string
	verbose    bool
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "withvoice",
		Short: "Record, preview and save short voice messages",
		Long: `withvoice records short voice messages from the default microphone,
enforcing a minimum and maximum length, and lets you preview and save them.

Run 'withvoice serve' to drive the recorder from a browser.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if opts.verbose {
				cfg.Log.Level = "debug"
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $HOME/.config/withvoice/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newRecordCmd(opts))
	cmd.AddCommand(newPlayCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newFormatsCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newLibraryCmd(opts))
	return cmd
}
