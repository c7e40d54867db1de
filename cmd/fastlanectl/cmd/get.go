package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fastlane/pkg/api"
)

var getCmd = &cobra.Command{
	Use:   "get [task_id] [job_id]",
	Short: "Get a job's status and execution history",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskID, jobID := args[0], args[1]

		url := viper.GetString("api_url")
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the FASTLANE_TOKEN environment variable")
			return
		}

		client := NewClient(url, token)
		job, err := client.GetJob(taskID, jobID)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		printJob(cmd, *job)
	},
}

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
	case "done":
		return colorGreen + "✓" + colorReset
	case "failed", "expired":
		return colorRed + "✗" + colorReset
	case "running":
		return colorYellow + "⏳" + colorReset
	case "enqueued", "scheduled":
		return colorCyan + "◯" + colorReset
	case "stopped":
		return colorDim + "■" + colorReset
	default:
		return "•"
	}
}

func printJob(cmd *cobra.Command, job api.JobResponse) {
	cmd.Printf("%s %sJob %s%s\n", statusIcon(job.Status), colorBold, job.JobID, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sTask:%s      %s\n", colorDim, colorReset, job.TaskID)
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, job.Status)
	cmd.Printf("%sImage:%s     %s\n", colorDim, colorReset, job.Image)
	cmd.Printf("%sRetries:%s   %d\n", colorDim, colorReset, job.Retries)
	cmd.Printf("%sSchedule:%s  %s\n", colorDim, colorReset, job.Schedule.Kind)
	cmd.Printf("%sCreated:%s   %s\n", colorDim, colorReset, job.CreatedAt.Format(time.RFC3339))

	if len(job.Executions) == 0 {
		return
	}
	cmd.Println()
	cmd.Printf("%sExecutions:%s\n", colorDim, colorReset)
	for _, e := range job.Executions {
		exit := "-"
		if e.ExitCode != nil {
			exit = fmt.Sprintf("%d", *e.ExitCode)
		}
		cmd.Printf("  %s attempt %d  %s  exit=%s\n", statusIcon(e.Status), e.Attempt, e.Status, exit)
	}
}

func init() {
	rootCmd.AddCommand(getCmd)
}
