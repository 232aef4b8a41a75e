package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskstream",
	Short: "Background task server with live websocket progress",
	Long: `taskstream accepts task submissions over HTTP, runs them in the
background and streams their progress to connected websocket clients.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default is config/config.yaml)")
}
