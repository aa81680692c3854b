package main

import (
	"github.com/spf13/cobra"
)

var replayRate float64

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Replay recorded detector frames",
	Long: `Replay feeds a file of recorded frames through the relay as if they came
from a live detector. With --rate the frames are paced; otherwise they are
processed as fast as possible.

Examples:
  marker_relay replay session.ndjson
  marker_relay replay session.ndjson --rate 30`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context(), args[0], replayRate)
	},
}

func init() {
	replayCmd.Flags().Float64Var(&replayRate, "rate", 0, "Frames per second (0 = as fast as possible)")
	rootCmd.AddCommand(replayCmd)
}
