package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect tasks on a running server",
	}
	cmd.AddCommand(newTaskGetCmd())
	cmd.AddCommand(newTaskListCmd())
	return cmd
}

func newTaskGetCmd() *cobra.Command {
	var remote remoteFlags
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a task as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := remote.client(cmd).GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		},
	}
	remote.register(cmd)
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		remote remoteFlags
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := remote.client(cmd).ListTasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tSTATUS\tMODE\tQUERY")
			for _, t := range tasks {
				mode := "-"
				if t.Details != nil && t.Details.Mode != nil {
					mode = *t.Details.Mode
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.TaskID, t.Status, mode, truncate(t.Query, 60))
			}
			return w.Flush()
		},
	}
	remote.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of tasks (0 = all)")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
