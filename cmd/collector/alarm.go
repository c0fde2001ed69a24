package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/telemetry-collector/pkg/controlapi"
)

var alarmCmd = &cobra.Command{
	Use:   "alarm",
	Short: "Inspect and act on active alarm occurrences",
}

func init() {
	for _, c := range []*cobra.Command{alarmListCmd, alarmAckCmd, alarmClearCmd, alarmSuppressCmd} {
		c.Flags().String("control-addr", "127.0.0.1:9091", "Collector control API address")
	}
	alarmAckCmd.Flags().String("comment", "", "Acknowledgement comment")
	alarmClearCmd.Flags().String("comment", "", "Clear comment")
	alarmListCmd.Flags().String("tenant", "", "Tenant ID to list active alarms for")

	alarmCmd.AddCommand(alarmListCmd)
	alarmCmd.AddCommand(alarmAckCmd)
	alarmCmd.AddCommand(alarmClearCmd)
	alarmCmd.AddCommand(alarmSuppressCmd)
}

var alarmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active alarm occurrences for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		c, err := dialControl(cmd)
		if err != nil {
			return withExitCode(exitDependencyDown, err)
		}
		defer c.Close()

		resp, err := c.ListActiveAlarms(context.Background(), tenant)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s %-20s %-24s %-10s %s\n", "ID", "RULE", "TENANT", "SEVERITY", "STATE")
		for _, occ := range resp.Occurrences {
			fmt.Printf("%-10d %-20s %-24s %-10s %s\n", occ.ID, occ.RuleID, occ.TenantID, occ.Severity, occ.State)
		}
		return nil
	},
}

func alarmActionCmd(use, short string, action func(c *controlapi.Client, ctx context.Context, ruleID, targetID, operator, comment string) (bool, string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " RULE_ID TARGET_ID OPERATOR",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			comment, _ := cmd.Flags().GetString("comment")
			c, err := dialControl(cmd)
			if err != nil {
				return withExitCode(exitDependencyDown, err)
			}
			defer c.Close()

			ok, msg, err := action(c, context.Background(), args[0], args[1], args[2], comment)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s", msg)
			}
			fmt.Printf("%s: rule=%s target=%s\n", use, args[0], args[1])
			return nil
		},
	}
}

var alarmAckCmd = alarmActionCmd("ack", "Acknowledge an active alarm occurrence", func(c *controlapi.Client, ctx context.Context, ruleID, targetID, operator, comment string) (bool, string, error) {
	resp, err := c.AcknowledgeAlarm(ctx, ruleID, targetID, operator, comment)
	if resp == nil {
		return false, "", err
	}
	return resp.OK, resp.Error, err
})

var alarmClearCmd = alarmActionCmd("clear", "Manually clear an active alarm occurrence", func(c *controlapi.Client, ctx context.Context, ruleID, targetID, operator, comment string) (bool, string, error) {
	resp, err := c.ClearAlarm(ctx, ruleID, targetID, operator, comment)
	if resp == nil {
		return false, "", err
	}
	return resp.OK, resp.Error, err
})

var alarmSuppressCmd = &cobra.Command{
	Use:   "suppress RULE_ID TARGET_ID OPERATOR",
	Short: "Suppress notifications for an active alarm occurrence",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialControl(cmd)
		if err != nil {
			return withExitCode(exitDependencyDown, err)
		}
		defer c.Close()

		resp, err := c.SuppressAlarm(context.Background(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("%s", resp.Error)
		}
		fmt.Printf("suppress: rule=%s target=%s\n", args[0], args[1])
		return nil
	},
}
