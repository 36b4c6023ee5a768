package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/zeusync/entitysync/internal/config"
	"github.com/zeusync/entitysync/internal/injector"
)

// rootOptions holds the global flags.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "entitysync",
		Short:         "Optimistic entity synchronization against a REST API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMockAPICommand(opts))
	cmd.AddCommand(newResyncCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newApplyCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	return cmd
}

func (o *rootOptions) config() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// engine builds the object graph for cfg; the returned cleanup flushes the
// logger and releases the credentials store.
func (o *rootOptions) engine() (*injector.Engine, func(), error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	eng, cleanup, err := injector.InitializeEngine(cfg)
	if err != nil {
		return nil, nil, err
	}
	return eng, func() {
		cleanup()
		_ = eng.Logger.Sync()
	}, nil
}
