package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fastlanectl",
	Short: "fastlanectl is a command line tool for interacting with the fastlane platform",
	Long: `fastlanectl is the command-line interface for the fastlane container job
execution service.

fastlane runs container jobs on a pool of Docker/Kubernetes/exec hosts behind
a task/job/execution resource hierarchy:

  - Task:      a name jobs are grouped under (created implicitly by its first job)
  - Job:       one definition, run immediately, at a time, or on a cron schedule
  - Execution: one attempt at running a job's container

Common workflows:

  Run a job immediately:
    fastlanectl create my-task --image alpine:latest --command echo,hello

  Schedule a job on a cron expression:
    fastlanectl create my-task --image alpine --command echo,hello --cron "*/5 * * * *"

  Check a job's status:
    fastlanectl get my-task <job-id>

  Stream a running job's logs:
    fastlanectl logs my-task <job-id> --follow

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    FASTLANE_API_URL    API endpoint (default: http://localhost:6161)
    FASTLANE_TOKEN      Bearer token for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".fastlanectl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FASTLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fastlanectl.yaml)")

	rootCmd.PersistentFlags().String("api_url", "http://localhost:6161", "fastlane controller URL")
	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api_url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
