package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmunix/tonegrab/internal/engine"
	"github.com/vmunix/tonegrab/internal/resolver"
)

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Inspect a URL without downloading anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	extractor, err := engine.NewYtDlp(cfg.Engines.YtDlpPath, cfg.Engines.KillGrace.Duration, log)
	if err != nil {
		return err
	}

	res, err := resolver.New(extractor, log).Resolve(ctx, args[0])
	if err != nil {
		return err
	}

	if res.Collection == nil {
		for item := range res.Items() {
			fmt.Printf("title:    %s\n", item.Title)
			fmt.Printf("duration: %s\n", formatDuration(item.Duration))
			if item.NativeCodec != "" {
				fmt.Printf("codec:    %s\n", item.NativeCodec)
			}
		}
		return res.Err()
	}

	if res.Collection.CountKnown {
		fmt.Printf("playlist %q: %d items\n", res.Collection.Title, res.Collection.Count)
	} else {
		fmt.Printf("playlist %q\n", res.Collection.Title)
	}
	n := 0
	for item := range res.Items() {
		n++
		fmt.Printf("%3d  %-50s %s\n", item.Ordinal, truncate(item.Title, 50), formatDuration(item.Duration))
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("enumeration stopped after %d items: %w", n, err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "?"
	}
	d = d.Round(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
