package cmd

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var follow bool

var logsCmd = &cobra.Command{
	Use:   "logs [task_id] [job_id]",
	Short: "Fetch a job's logs, or stream them live with --follow",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskID, jobID := args[0], args[1]

		url := viper.GetString("api_url")
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the FASTLANE_TOKEN environment variable")
			return
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			os.Exit(0)
		}()

		client := NewClient(url, token)

		if follow {
			streamLogs(cmd, client, taskID, jobID)
			return
		}
		pollLogs(cmd, client, taskID, jobID)
	},
}

// pollLogs fetches the persisted log feed once, paging through every entry
// already recorded.
func pollLogs(cmd *cobra.Command, client *Client, taskID, jobID string) {
	var lastID int64
	for {
		entries, err := client.GetLogs(taskID, jobID, lastID)
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		if len(entries) == 0 {
			return
		}
		for _, e := range entries {
			cmd.Println(e.Content)
			if e.ID > lastID {
				lastID = e.ID
			}
		}
	}
}

// streamLogs holds the chunked /stream connection open, printing each line
// as the runtime emits it, until the job ends or the connection closes.
func streamLogs(cmd *cobra.Command, client *Client, taskID, jobID string) {
	body, err := client.StreamLogs(taskID, jobID)
	if err != nil {
		printAPIError(cmd, err)
		return
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		cmd.Println(scanner.Text())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		cmd.Printf("Stream ended: %v\n", err)
	}
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow the job's live log stream instead of paging the persisted feed")
}
