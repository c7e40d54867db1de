package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fastlane/pkg/api"
)

var createCmd = &cobra.Command{
	Use:   "create [task_id]",
	Short: "Create and submit a job under a task",
	Long: `Create a job under a task. With no schedule flags the job runs
immediately; --cron or --start-in arm it for later instead.

Example:
  fastlanectl create my-task --image alpine:latest --command echo,hello
  fastlanectl create my-task --image alpine --command echo,hello --cron "*/5 * * * *"
  fastlanectl create my-task --image alpine --command sleep,10 --start-in 1h`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		taskID := args[0]

		flags := cmd.Flags()
		image, _ := flags.GetString("image")
		command, _ := flags.GetStringSlice("command")
		retries, _ := flags.GetInt("retries")
		timeout, _ := flags.GetInt64("timeout")
		cronExpr, _ := flags.GetString("cron")
		startIn, _ := flags.GetString("start-in")
		envs, _ := flags.GetStringToString("env")

		url := viper.GetString("api_url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the FASTLANE_TOKEN environment variable")
			return
		}
		if image == "" {
			cmd.Println("Error: --image is required")
			return
		}
		if len(command) == 0 {
			cmd.Println("Error: --command is required")
			return
		}

		client := NewClient(url, token)
		req := api.CreateJobRequest{
			Image:   image,
			Command: command,
			Envs:    envs,
			Retries: retries,
			Timeout: timeout,
			Cron:    cronExpr,
			StartIn: startIn,
		}

		result, err := client.CreateJob(taskID, req)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Printf("Job created.\nTask: %s\nJob ID: %s\n", taskID, result.JobID)
	},
}

func init() {
	flags := createCmd.Flags()
	flags.StringP("image", "i", "", "Container image (required)")
	flags.StringSliceP("command", "c", []string{}, "Command to execute (required)")
	flags.StringToString("env", nil, "Environment variables, key=value (repeatable)")
	flags.Int("retries", 0, "Number of automatic retries on failure")
	flags.Int64("timeout", 0, "Execution timeout in seconds")
	flags.String("cron", "", "Cron expression for a recurring schedule")
	flags.String("start-in", "", "Delay before the first run, Go duration syntax (e.g. 1h30m)")

	rootCmd.AddCommand(createCmd)
}
