package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hupe1980/meshos/internal/cli"
	"github.com/hupe1980/meshos/internal/printer"
)

// Run executes meshctl with args and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !printer.IsReported(err) {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		return 1
	}
	return 0
}
