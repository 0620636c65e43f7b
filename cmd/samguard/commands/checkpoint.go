package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/followthedavid/samguard/internal/rpcproto"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Create, list, and roll back file checkpoints",
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <project-id> <description>",
	Args:  cobra.ExactArgs(2),
	Short: "Create a new checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpCheckpointCreate, rpcproto.CheckpointCreateArgs{
			ProjectID:   args[0],
			Description: args[1],
		})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var checkpointRollbackCmd = &cobra.Command{
	Use:   "rollback <checkpoint-id>",
	Args:  cobra.ExactArgs(1),
	Short: "Restore every file backed up under a checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpCheckpointRollback, rpcproto.CheckpointIDArgs{CheckpointID: args[0]})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Args:  cobra.ExactArgs(1),
	Short: "List recent checkpoints for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpCheckpointList, rpcproto.CheckpointListArgs{ProjectID: args[0], Limit: 20})
		if err != nil {
			return err
		}

		var infos []struct {
			ID              string `json:"ID"`
			Description     string `json:"Description"`
			Status          string `json:"Status"`
			BackupSizeBytes int64  `json:"BackupSizeBytes"`
		}
		if err := resp.Decode(&infos); err != nil {
			return printResponse(resp)
		}

		width := terminalWidth()
		for _, info := range infos {
			line := fmt.Sprintf("%-36s  %-10s  %8s  %s", info.ID, info.Status,
				humanize.Bytes(uint64(info.BackupSizeBytes)), info.Description)
			if len(line) > width && width > 0 {
				line = line[:width]
			}
			fmt.Println(line)
		}
		return nil
	},
}

var checkpointCleanupCmd = &cobra.Command{
	Use:   "cleanup-old <days>",
	Args:  cobra.ExactArgs(1),
	Short: "Remove checkpoints older than the given number of days",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid day count: %w", err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newHookClient(cfg)
		resp, err := client.Call(rpcproto.OpCheckpointCleanupOld, rpcproto.CleanupOldArgs{Days: days})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 120
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd, checkpointRollbackCmd, checkpointListCmd, checkpointCleanupCmd)
}
