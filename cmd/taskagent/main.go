package main

import (
	"os"

	"github.com/grovetools/taskagent/cli"
	"github.com/grovetools/taskagent/cmd"
	"github.com/grovetools/taskagent/errors"
)

func main() {
	rootCmd := cmd.NewRootCmd()

	if c, err := rootCmd.ExecuteC(); err != nil {
		if _, ok := errors.As(err); ok {
			verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
			cli.NewErrorHandler(os.Stderr, verbose).Handle(err)
		} else {
			cli.PrintError(c, err)
		}
		os.Exit(1)
	}
}
