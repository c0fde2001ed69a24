package main

import (
	"fmt"
	"os"

	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/spf13/cobra"
)

// Exit codes (§6): 0 clean shutdown, 1 config error, 2 mandatory external
// dependency unavailable at startup, 3 unrecoverable internal error.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitDependencyDown = 2
	exitInternalError  = 3
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "collector",
	Short:   "Industrial telemetry collector and alarm engine",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("collector version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(alarmCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(checkCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOut,
	})
}

// exitCodeError lets a RunE return both a message and a specific exit
// code (§6), rather than every non-zero exit collapsing to 1.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}

func exitFor(err error) int {
	if ec, ok := err.(*exitCodeError); ok {
		return ec.code
	}
	return exitInternalError
}
