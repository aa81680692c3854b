package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/markerrelay/relay/internal/config"
)

// shutdownTimeout bounds draining and the final push.
const shutdownTimeout = 10 * time.Second

var (
	runInput string
	runRate  float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process detector frames and relay the layout",
	Long: `Run reads detector frames, keeps the marker layout up to date and pushes
it to the remote service whenever it changes.

Input:
  -                 stdin (default)
  udp://host:port   listen for frames on a UDP socket
  PATH              read frames from a file

Examples:
  detector | marker_relay run
  marker_relay run --input udp://0.0.0.0:9870`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		input := runInput
		if !cmd.Flags().Changed("input") {
			input = config.GetIngestConfig().Input
		}
		rate := runRate
		if !cmd.Flags().Changed("rate") {
			rate = config.GetIngestConfig().Rate
		}
		return runRelay(cmd.Context(), input, rate)
	},
}

// runRelay runs one session until input ends or the process is signalled.
func runRelay(parent context.Context, input string, rate float64) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	a.start(ctx)

	ingestErr := a.ingest(ctx, input, rate)
	if ingestErr != nil {
		a.logger.Error("Ingest stopped", "error", ingestErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		return err
	}
	return ingestErr
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "-", "Frame source: -, udp://host:port or a file path")
	runCmd.Flags().Float64Var(&runRate, "rate", 0, "Frames per second when reading a file (0 = as fast as possible)")
	rootCmd.AddCommand(runCmd)
}
