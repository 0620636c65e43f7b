package commands

import (
	"github.com/spf13/cobra"

	"github.com/followthedavid/samguard/internal/rpcproto"
)

var autofixCmd = &cobra.Command{
	Use:   "autofix",
	Short: "Inspect and configure the auto-fix controller",
}

var autofixGetCmd = &cobra.Command{
	Use:   "get <project-id>",
	Args:  cobra.ExactArgs(1),
	Short: "Show a project's auto-fix policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpAutoFixGetPermissions, rpcproto.ProjectArgs{ProjectID: args[0]})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var autofixRateStatusCmd = &cobra.Command{
	Use:   "rate-status <project-id>",
	Args:  cobra.ExactArgs(1),
	Short: "Show current-hour rate-window consumption",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpAutoFixRateStatus, rpcproto.ProjectArgs{ProjectID: args[0]})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var autofixStatsCmd = &cobra.Command{
	Use:   "stats <project-id>",
	Args:  cobra.ExactArgs(1),
	Short: "Summarize auto-fix outcomes for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpAutoFixStats, rpcproto.ProjectArgs{ProjectID: args[0]})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func init() {
	rootCmd.AddCommand(autofixCmd)
	autofixCmd.AddCommand(autofixGetCmd, autofixRateStatusCmd, autofixStatsCmd)
}
