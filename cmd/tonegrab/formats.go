package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vmunix/tonegrab/internal/engine"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported output formats",
	Args:  cobra.NoArgs,
	Run:   runFormats,
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func runFormats(_ *cobra.Command, _ []string) {
	fmt.Printf("%-6s %-12s %s\n", "name", "codec", "bitrate")
	for _, f := range engine.Formats() {
		bitrate := "lossless"
		if f.Lossy() {
			bitrate = fmt.Sprintf("%d-%d kbps (default %d)", engine.MinBitrate, engine.MaxBitrate, engine.DefaultBitrate)
		}
		fmt.Printf("%-6s %-12s %s\n", f, f.Codec(), bitrate)
	}
}
