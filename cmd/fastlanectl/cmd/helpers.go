package cmd

import "github.com/spf13/cobra"

// printAPIError renders an error returned by the Client uniformly across
// every subcommand.
func printAPIError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}
