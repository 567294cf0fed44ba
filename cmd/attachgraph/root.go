package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"attachgraph/internal/config"
	"attachgraph/internal/format"
)

type outputFlags struct {
	json bool
	yaml bool
}

// structured reports whether commands should emit machine-readable output.
func (o *outputFlags) structured() bool {
	return o.json || o.yaml
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		out      outputFlags
		logLevel string
		closeLog func() error
	)

	cmd := &cobra.Command{
		Use:           "attachgraph",
		Short:         "Attachgraph manages message attachment references and edit history",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if out.json && out.yaml {
				return fmt.Errorf("--json and --yaml are mutually exclusive")
			}
			outputFormatter = format.Formatter(format.JSONFormatter{})
			if out.yaml {
				outputFormatter = format.YAMLFormatter{}
			}
			warning, closer, err := configureLoggerForCLI(logLevel, cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return err
			}
			closeLog = closer
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&out.json, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVar(&out.yaml, "yaml", false, "output YAML")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newMigrateCmd(cfg, &out),
		newInfoCmd(cfg, &out),
		newThreadCmd(cfg, &out),
		newStoryCmd(cfg, &out),
		newMessageCmd(cfg, &out),
		newRefsCmd(cfg, &out),
		newAttachCmd(cfg, &out),
		newEditCmd(cfg, &out),
		newGCContentCmd(cfg, &out),
		newConfigCmd(cfg),
	)

	return cmd
}
