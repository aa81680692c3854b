package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/markerrelay/relay/internal/api"
	"github.com/markerrelay/relay/internal/config"
)

var healthTimeout time.Duration

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that the remote map service is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		apiCfg := config.GetAPIConfig()
		client := api.New(apiCfg.ServerURL, apiCfg.APIKey,
			api.WithPaths(apiCfg.PushPath, apiCfg.MapConfigPath, apiCfg.HealthPath))
		if err := client.Healthcheck(ctx); err != nil {
			return fmt.Errorf("%s is offline: %w", apiCfg.ServerURL, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), apiCfg.ServerURL, "is online")
		return nil
	},
}

func init() {
	healthcheckCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "Request timeout")
	rootCmd.AddCommand(healthcheckCmd)
}
