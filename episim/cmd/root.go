// Package cmd provides the command-line interface for episim.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/episim/config"
	"github.com/sarchlab/episim/instrumentation/tracing"
)

type rootOptions struct {
	configPath string
	envFiles   []string
	logLevel   string
}

// NewRootCommand creates the episim command and all its subcommands.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "episim",
		Short: "episim simulates how a disease progresses through a population.",
		Long: `episim simulates how a disease progresses through a population ` +
			`of agents. Every agent moves from Susceptible through Exposed and ` +
			`Infectious to Recovered or Dead, with delays drawn per agent.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env", []string{".env"},
		"dotenv files with EPISIM_* overrides")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level: trace, debug, info, warn or error (overrides the configuration)")

	rootCmd.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
		newChannelsCommand(),
	)

	return rootCmd
}

// loadConfig loads the configuration named by the persistent flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return tracing.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
}

// Execute runs the root command and exits. Exit handlers registered with
// atexit, such as database flushes, run before the process ends.
func Execute() {
	err := NewRootCommand().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
