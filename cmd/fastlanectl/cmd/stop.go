package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var stopCmd = &cobra.Command{
	Use:   "stop [task_id] [job_id]",
	Short: "Stop a job's running execution",
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
		if err := client.StopJob(taskID, jobID); err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("Job %s stopped.\n", jobID)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
