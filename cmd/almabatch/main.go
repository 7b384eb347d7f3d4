package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cabb/almabatch/internal/cli"
	"github.com/cabb/almabatch/internal/config"
	"github.com/cabb/almabatch/pkg/version"
)

func run(ctx context.Context, args []string) error {
	root := cli.NewRootCmd(version.String())
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// exitCode maps a command error to the process exit status. A cancelled
// run is not an error, so only run-level failures exit non-zero.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func main() {
	err := run(context.Background(), os.Args[1:])
	if err != nil {
		logger := config.GetLogger()
		logger.Debug().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	config.CloseLogFile()
	os.Exit(exitCode(err))
}
