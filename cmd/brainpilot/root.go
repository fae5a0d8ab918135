package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "brainpilot",
	Short: "Mind-controlled drone pilot",
	Long:  "brainpilot streams brain-wave samples to an interpretation service and flies a drone with the movements it decodes.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(flyCmd)
	rootCmd.AddCommand(sessionsCmd)
}
