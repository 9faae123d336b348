package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankittk/researcher/pkg/models"
)

func newAskCmd() *cobra.Command {
	var (
		remote   remoteFlags
		mode     string
		noWait   bool
		quiet    bool
		asJSON   bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Submit a query and wait for the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			c := remote.client(cmd)
			id, err := c.CreateTask(cmd.Context(), query, mode)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if noWait {
				_, _ = fmt.Fprintln(out, id)
				return nil
			}

			printed := 0
			onPoll := func(t *models.Task) {
				if quiet || asJSON || t.Details == nil {
					return
				}
				lines := strings.Split(t.Details.Thoughts, "\n")
				if t.Details.Thoughts == "" {
					lines = nil
				}
				for ; printed < len(lines); printed++ {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), lines[printed])
				}
			}
			t, err := c.WaitTask(cmd.Context(), id, interval, onPoll)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(t)
			}
			if t.Status == models.StatusFailed {
				msg := "unknown error"
				if t.Error != nil {
					msg = *t.Error
				}
				return errors.New("task " + id + " failed: " + msg)
			}
			if t.Result != nil {
				_, _ = fmt.Fprintln(out, *t.Result)
			}
			return nil
		},
	}

	remote.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", "", "Force a mode: direct or research (default: let the router decide)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print the task id and exit")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress thoughts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final task as JSON")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Poll interval")
	return cmd
}
