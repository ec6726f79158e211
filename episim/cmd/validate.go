package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			if _, err := cfg.ProgressionParams(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"configuration is valid: %d agents, %d infected, %d days\n",
				cfg.PopulationSize, cfg.InitialInfected, cfg.NumberSimulatedDays)

			return nil
		},
	}
}
