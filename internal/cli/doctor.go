package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ankittk/researcher/internal/config"
)

func newDoctorCmd() *cobra.Command {
	var stub bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check settings and the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string
			if err := os.MkdirAll(home, 0o755); err != nil {
				problems = append(problems, fmt.Sprintf("home %s is not writable: %v", home, err))
			}

			s, err := config.LoadSettings(home)
			if err != nil {
				problems = append(problems, err.Error())
			} else if !stub {
				if err := s.ValidateLLM(); err != nil {
					problems = append(problems, err.Error())
				}
				if s.TavilyAPIKey == "" {
					problems = append(problems, "please set: TAVILY_API_KEY (research mode needs web search)")
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&stub, "stub", false, "Only check what serve --stub needs")
	return cmd
}
