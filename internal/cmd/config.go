package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/taskstream/backend/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration, then print the effective values",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "server:        %s\n", cfg.Server.Address())
	fmt.Fprintf(out, "queue:         capacity=%d submit_timeout=%s\n", cfg.Queue.Capacity, cfg.Queue.SubmitTimeout)
	fmt.Fprintf(out, "dispatcher:    max_concurrent=%d retry_backoff=%s drain_timeout=%s\n",
		cfg.Dispatcher.MaxConcurrent, cfg.Dispatcher.RetryBackoff, cfg.Dispatcher.DrainTimeout)
	fmt.Fprintf(out, "processor:     steps=%d default_duration=%s task_timeout=%s\n",
		cfg.Processor.Steps, cfg.Processor.DefaultDuration, cfg.Processor.TaskTimeout)
	fmt.Fprintf(out, "websocket:     max_connections=%d keep_alive=%s\n",
		cfg.WebSocket.MaxConnections, cfg.WebSocket.KeepAliveInterval)
	fmt.Fprintf(out, "notifications: unowned_policy=%s\n", cfg.Notifications.UnownedPolicy)
	fmt.Fprintln(out, "config OK")
	return nil
}
