package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/telemetry-collector/pkg/controlapi"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Inspect and control registered field devices",
}

func init() {
	for _, c := range []*cobra.Command{workerListCmd, workerStartCmd, workerStopCmd, workerPauseCmd, workerResumeCmd, workerRestartCmd} {
		c.Flags().String("control-addr", "127.0.0.1:9091", "Collector control API address")
	}
	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerStartCmd)
	workerCmd.AddCommand(workerStopCmd)
	workerCmd.AddCommand(workerPauseCmd)
	workerCmd.AddCommand(workerResumeCmd)
	workerCmd.AddCommand(workerRestartCmd)
}

func dialControl(cmd *cobra.Command) (*controlapi.Client, error) {
	addr, _ := cmd.Flags().GetString("control-addr")
	return controlapi.Dial(addr)
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices and their lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialControl(cmd)
		if err != nil {
			return withExitCode(exitDependencyDown, err)
		}
		defer c.Close()

		resp, err := c.ListWorkers(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%-24s %-14s %s\n", "DEVICE", "PROTOCOL", "STATE")
		for _, w := range resp.Workers {
			fmt.Printf("%-24s %-14s %s\n", w.DeviceID, w.Protocol, w.State)
		}
		return nil
	},
}

func deviceActionCmd(use, short string, action func(c *controlapi.Client, ctx context.Context, deviceID string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " DEVICE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialControl(cmd)
			if err != nil {
				return withExitCode(exitDependencyDown, err)
			}
			defer c.Close()

			if err := action(c, context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", args[0], use)
			return nil
		},
	}
}

var workerStartCmd = deviceActionCmd("start", "Start a device's worker", func(c *controlapi.Client, ctx context.Context, id string) error {
	resp, err := c.StartWorker(ctx, id)
	return responseErr(resp.OK, resp.Error, err)
})

var workerStopCmd = deviceActionCmd("stop", "Stop a device's worker", func(c *controlapi.Client, ctx context.Context, id string) error {
	resp, err := c.StopWorker(ctx, id)
	return responseErr(resp.OK, resp.Error, err)
})

var workerPauseCmd = deviceActionCmd("pause", "Pause a device's worker", func(c *controlapi.Client, ctx context.Context, id string) error {
	resp, err := c.PauseWorker(ctx, id)
	return responseErr(resp.OK, resp.Error, err)
})

var workerResumeCmd = deviceActionCmd("resume", "Resume a paused device's worker", func(c *controlapi.Client, ctx context.Context, id string) error {
	resp, err := c.ResumeWorker(ctx, id)
	return responseErr(resp.OK, resp.Error, err)
})

var workerRestartCmd = deviceActionCmd("restart", "Restart a device's worker", func(c *controlapi.Client, ctx context.Context, id string) error {
	resp, err := c.RestartWorker(ctx, id)
	return responseErr(resp.OK, resp.Error, err)
})

func responseErr(ok bool, msg string, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s", msg)
	}
	return nil
}
