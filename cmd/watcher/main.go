package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// configError marks failures that map to exitInvalidConfig.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	return &configError{err: err}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "watcher",
		Short:         "watcher - scheduled watch execution and alerting engine",
		Long:          "Runs watches on a schedule: fetch an input, evaluate a condition, run actions and record every execution in history.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newConfigCmd(),
		newVersionCmd(),
		newRunOnceCmd(),
	)
	return root
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitSuccess
	}

	fmt.Fprintf(stderr, "error: %v\n", err)
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return exitInvalidConfig
	}
	return exitRuntimeError
}
