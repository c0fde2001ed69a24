package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:   "write DEVICE_ID POINT_ID VALUE",
	Short: "Write a value to a field device point through the control API",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return withExitCode(exitConfigError, fmt.Errorf("parsing value %q: %w", args[2], err))
		}

		c, err := dialControl(cmd)
		if err != nil {
			return withExitCode(exitDependencyDown, err)
		}
		defer c.Close()

		resp, err := c.WritePoint(context.Background(), args[0], args[1], value)
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("%s", resp.Error)
		}
		fmt.Printf("write: device=%s point=%s value=%v\n", args[0], args[1], value)
		return nil
	},
}

func init() {
	writeCmd.Flags().String("control-addr", "127.0.0.1:9091", "Collector control API address")
}
