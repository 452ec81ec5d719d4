package main

import (
	"github.com/spf13/cobra"
)

// cli holds state shared by every subcommand.
type cli struct {
	configFile string
	logLevel   string
	runStore   string
	cfg        Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "promptfolio",
		Short:         "Run content automation workflows",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(c.configFile)
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}
			if c.runStore != "" {
				cfg.RunStore = c.runStore
			}
			c.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "settings file (default: ~/.promptfolio/settings.{yaml,json})")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&c.runStore, "run-store", "", "run store: libsql, redis or memory")

	root.AddCommand(
		newServeCmd(c),
		newImportCmd(c),
		newValidateCmd(c),
		newRunCmd(c),
		newStatusCmd(c),
		newListCmd(c),
		newDiagramCmd(c),
	)
	return root
}

// open builds the app for a command. Logs go to the command's stderr.
func (c *cli) open(cmd *cobra.Command, opts appOptions) (*app, error) {
	return newApp(cmd.Context(), c.cfg, cmd.ErrOrStderr(), opts)
}
