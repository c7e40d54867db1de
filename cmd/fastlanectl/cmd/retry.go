package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var retryCmd = &cobra.Command{
	Use:   "retry [task_id] [job_id]",
	Short: "Manually retry a job that has reached a terminal state",
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
		if err := client.RetryJob(taskID, jobID); err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("Job %s requeued.\n", jobID)
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
