package cmd

import (
	"fmt"
	"time"

	"flowplane/pkg/api"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job [job_id]",
	Short: "Show a pending or completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		job, err := client.GetJob(args[0])
		if err != nil {
			return err
		}
		printJob(cmd, job)
		return nil
	},
}

var failCmd = &cobra.Command{
	Use:   "fail [job_id]",
	Short: "Finalize a stuck pending job as failed",
	Long: `Finalize a pending job as failed through the completion engine.
The job's schedule is advanced and its error handler runs, exactly as if a worker had reported the failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		resp, err := client.FailJob(args[0], reason)
		if err != nil {
			return err
		}
		cmd.Printf("%s Job %s failed\n", statusIcon(api.StatusFailure), resp.ID)
		cmd.Printf("%sResult:%s  %s\n", colorDim, colorReset, string(resp.Result))
		return nil
	},
}

func printJob(cmd *cobra.Command, job *api.JobResponse) {
	cmd.Printf("%s %sJob Details%s\n", statusIcon(job.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sWorkspace:%s   %s\n", colorDim, colorReset, job.WorkspaceID)
	cmd.Printf("%sKind:%s        %s\n", colorDim, colorReset, job.Kind)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	if job.ScriptPath != nil {
		cmd.Printf("%sScript:%s      %s\n", colorDim, colorReset, *job.ScriptPath)
	}
	if job.SchedulePath != nil {
		cmd.Printf("%sSchedule:%s    %s\n", colorDim, colorReset, *job.SchedulePath)
	}
	if job.ScheduledFor != nil {
		cmd.Printf("%sScheduled:%s   %s\n", colorDim, colorReset, formatTime(*job.ScheduledFor))
	}
	if job.StartedAt != nil {
		cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTime(*job.StartedAt))
	}
	if job.DurationMs != nil {
		cmd.Printf("%sDuration:%s    %s%s%s\n", colorDim, colorReset, colorCyan, formatDuration(time.Duration(*job.DurationMs)*time.Millisecond), colorReset)
	}
	if job.MemPeak != nil {
		cmd.Printf("%sMem peak:%s    %d KB\n", colorDim, colorReset, *job.MemPeak)
	}
	if len(job.Result) > 0 {
		cmd.Printf("%sResult:%s      %s\n", colorDim, colorReset, string(job.Result))
	}
	if job.Logs != "" {
		cmd.Printf("%sLogs:%s\n%s", colorDim, colorReset, job.Logs)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case api.StatusSuccess:
		return colorGreen + "✓" + colorReset
	case api.StatusFailure:
		return colorRed + "✗" + colorReset
	case api.StatusRunning:
		return colorYellow + "⏳" + colorReset
	case api.StatusQueued:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	switch status {
	case api.StatusSuccess:
		return statusIcon(status) + " " + colorGreen + status + colorReset
	case api.StatusFailure:
		return statusIcon(status) + " " + colorRed + status + colorReset
	case api.StatusRunning:
		return statusIcon(status) + " " + colorYellow + status + colorReset
	case api.StatusQueued:
		return statusIcon(status) + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTime(t time.Time) string {
	return t.Format("Mon, 02 Jan 2006 15:04:05 MST")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	failCmd.Flags().String("reason", "", "reason recorded in the job result")

	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(failCmd)
}
