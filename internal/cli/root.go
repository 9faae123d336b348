// Package cli implements the researcher command line: the server, a submitting client and
// small operational helpers.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ankittk/researcher/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var (
		homeOverride string
		envFile      string
	)

	cmd := &cobra.Command{
		Use:          "researcher",
		Short:        "Researcher: asynchronous question answering with routing, research and validation",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override researcher home directory (default: ~/.researcher, env: "+config.HomeEnv+")")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load env vars from this file before starting (default: ./.env if present)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newApikeyCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
