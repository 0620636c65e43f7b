package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/followthedavid/samguard/internal/rpcproto"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Inspect and edit per-project permission policy",
}

var permissionsGetCmd = &cobra.Command{
	Use:   "get <project-id> <project-root>",
	Args:  cobra.ExactArgs(2),
	Short: "Print the effective permissions for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpGetPermissions, struct {
			ProjectID   string `json:"project_id"`
			ProjectRoot string `json:"project_root"`
		}{args[0], args[1]})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var permissionsApplyPresetCmd = &cobra.Command{
	Use:   "apply-preset <project-id> <strict|normal|permissive|development>",
	Args:  cobra.ExactArgs(2),
	Short: "Apply a named preset to a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpApplyPreset, rpcproto.ApplyPresetArgs{ProjectID: args[0], Preset: args[1]})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var permissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects with stored permission overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpListProjects, nil)
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var permissionsAuditCmd = &cobra.Command{
	Use:   "audit <project-id>",
	Args:  cobra.ExactArgs(1),
	Short: "Show the permission audit trail for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpPermissionAudit, struct {
			ProjectID string `json:"project_id"`
			Limit     int    `json:"limit"`
		}{args[0], 50})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func init() {
	rootCmd.AddCommand(permissionsCmd)
	permissionsCmd.AddCommand(permissionsGetCmd, permissionsApplyPresetCmd, permissionsListCmd, permissionsAuditCmd)
}

// printResponse pretty-prints an RPC response payload as indented JSON.
func printResponse(resp rpcproto.Response) error {
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	if len(resp.Payload) == 0 {
		fmt.Println("ok")
		return nil
	}
	var pretty interface{}
	if err := json.Unmarshal(resp.Payload, &pretty); err != nil {
		fmt.Println(string(resp.Payload))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
