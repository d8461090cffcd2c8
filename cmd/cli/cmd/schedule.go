package cmd

import (
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage schedules",
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable [workspace] [path]",
	Short: "Re-enable a schedule and enqueue its next occurrence",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		resp, err := client.EnableSchedule(args[0], args[1])
		if err != nil {
			return err
		}
		cmd.Printf("%s✓%s Schedule %s/%s enabled\n", colorGreen, colorReset, resp.WorkspaceID, resp.Path)
		cmd.Printf("%sNext job:%s %s\n", colorDim, colorReset, resp.NextJobID)
		return nil
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleEnableCmd)
	rootCmd.AddCommand(scheduleCmd)
}
