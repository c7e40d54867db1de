package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list [task_id]",
	Short: "List jobs under a task, or every known task if task_id is omitted",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("api_url")
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the FASTLANE_TOKEN environment variable")
			return
		}
		client := NewClient(url, token)

		if len(args) == 0 {
			tasks, err := client.ListTasks()
			if err != nil {
				printAPIError(cmd, err)
				return
			}
			if len(tasks.Tasks) == 0 {
				cmd.Println("No tasks found.")
				return
			}
			for _, t := range tasks.Tasks {
				cmd.Printf("%s\n", t.TaskID)
			}
			return
		}

		jobs, err := client.ListJobs(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		if len(jobs) == 0 {
			cmd.Println("No jobs found.")
			return
		}
		for _, j := range jobs {
			cmd.Printf("%s  %-10s  %s\n", j.JobID, j.Status, j.Image)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
