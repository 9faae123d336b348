package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ankittk/researcher/internal/cli"
)

func Run(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		// SilenceUsage keeps cobra quiet; only the error is printed.
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}
