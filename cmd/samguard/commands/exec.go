package commands

import (
	"github.com/spf13/cobra"

	"github.com/followthedavid/samguard/internal/rpcproto"
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Query the execution audit log",
}

var execRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent executions across all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpExecutionsRecent, rpcproto.RecentArgs{Limit: 25})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var execStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize execution outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpExecutionStats, nil)
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var execLogCmd = &cobra.Command{
	Use:   "log <project-id> <command>",
	Args:  cobra.ExactArgs(2),
	Short: "Record a completed execution",
	RunE: func(cmd *cobra.Command, args []string) error {
		success, _ := cmd.Flags().GetBool("success")
		output, _ := cmd.Flags().GetString("output")
		errMsg, _ := cmd.Flags().GetString("error")
		durationMS, _ := cmd.Flags().GetInt64("duration-ms")
		approvalID, _ := cmd.Flags().GetString("approval-id")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpLogExecution, rpcproto.LogExecutionArgs{
			ApprovalID: approvalID,
			ProjectID:  args[0],
			Command:    args[1],
			Success:    success,
			Output:     output,
			Error:      errMsg,
			DurationMS: durationMS,
		})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func init() {
	execLogCmd.Flags().Bool("success", true, "whether the command succeeded")
	execLogCmd.Flags().String("output", "", "captured stdout/stderr")
	execLogCmd.Flags().String("error", "", "error message, if any")
	execLogCmd.Flags().Int64("duration-ms", 0, "execution duration in milliseconds")
	execLogCmd.Flags().String("approval-id", "", "the permission audit entry this execution fulfills")

	rootCmd.AddCommand(execCmd)
	execCmd.AddCommand(execRecentCmd, execStatsCmd, execLogCmd)
}
