package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/followthedavid/samguard/internal/hookclient"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Evaluate a PermissionRequest hook payload from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			// Fail-safe: an unreadable config must not block the host's
			// normal approval flow.
			return nil
		}
		input, err := hookclient.ReadInput(os.Stdin)
		if err != nil {
			return nil
		}
		client := newHookClient(cfg)
		if err := hookclient.Run(client, input, os.Stdout); err != nil {
			return fmt.Errorf("hook: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}
