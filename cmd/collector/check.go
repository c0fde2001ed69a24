package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/telemetry-collector/pkg/health"
)

var checkCmd = &cobra.Command{
	Use:   "check ADDRESS",
	Short: "Check reachability of a device or broker address before deploying its config",
	Long: "check dials ADDRESS directly, bypassing the collector process, so a bad " +
		"host/port can be caught before it burns through the startup retry budget.",
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().Duration("timeout", 5*time.Second, "Dial/request timeout")
	checkCmd.Flags().Bool("http", false, "Check an HTTP diagnostics endpoint instead of a raw TCP dial")
}

func runCheck(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	useHTTP, _ := cmd.Flags().GetBool("http")

	var checker health.Checker
	if useHTTP {
		checker = health.NewHTTPChecker(args[0]).WithTimeout(timeout)
	} else {
		checker = health.NewTCPChecker(args[0]).WithTimeout(timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()

	result := checker.Check(ctx)
	if !result.Healthy {
		fmt.Printf("unreachable: %s\n", result.Message)
		return withExitCode(exitDependencyDown, errors.New(result.Message))
	}
	fmt.Printf("reachable: %s (%s, %s)\n", args[0], result.Message, result.Duration)
	return nil
}
