package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vmunix/tonegrab/internal/history"
)

var (
	historyLimit   int
	historyOutcome string
	historyRequest string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past downloads",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Max entries to show")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Filter by outcome (completed, failed, cancelled)")
	historyCmd.Flags().StringVar(&historyRequest, "request", "", "Filter by request id")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	entries, err := store.List(cmd.Context(), history.Filter{
		RequestID: historyRequest,
		Outcome:   historyOutcome,
		Limit:     historyLimit,
	})
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("no history")
		return nil
	}

	for _, e := range entries {
		detail := e.OutputPath
		if e.Outcome != "completed" {
			detail = e.Reason
		}
		fmt.Printf("%-12s %-5s %-40s %s  %s\n",
			e.Outcome, e.Format, truncate(e.Title, 40), humanize.Time(e.FinishedAt), detail)
	}
	return nil
}
