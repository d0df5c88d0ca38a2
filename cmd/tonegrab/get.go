package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vmunix/tonegrab/internal/engine"
	"github.com/vmunix/tonegrab/internal/events"
	"github.com/vmunix/tonegrab/internal/history"
	"github.com/vmunix/tonegrab/internal/queue"
)

var (
	getFormat      string
	getBitrate     int
	getDest        string
	getConcurrency int
)

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Download audio from a URL or playlist",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().StringVarP(&getFormat, "format", "f", "", "Output format (mp3, flac, wav, m4a, opus)")
	getCmd.Flags().IntVarP(&getBitrate, "bitrate", "b", 0, "Bitrate in kbps for lossy formats (128-320)")
	getCmd.Flags().StringVarP(&getDest, "dest", "d", "", "Destination directory")
	getCmd.Flags().IntVar(&getConcurrency, "concurrency", 0, "Max items processed in parallel")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
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
	transcoder, err := engine.NewFFmpeg(cfg.Engines.FFmpegPath, cfg.Engines.KillGrace.Duration, log)
	if err != nil {
		return err
	}

	var recorder queue.Recorder
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer func() { _ = store.Close() }()
		recorder = store
	}

	concurrency := cfg.Queue.Concurrency
	if getConcurrency > 0 {
		concurrency = getConcurrency
	}

	o := queue.New(extractor, transcoder, events.NewBus(log), queue.Options{
		Concurrency: concurrency,
		Retry: queue.RetryConfig{
			MaxAttempts: cfg.Queue.MaxAttempts,
			Delay:       cfg.Queue.RetryDelay.Duration,
			Multiplier:  2.0,
			MaxDelay:    cfg.Queue.MaxDelay.Duration,
		},
		EngineTimeout: cfg.Engines.Timeout.Duration,
		Recorder:      recorder,
		Log:           log,
	})
	defer o.Close()

	format, err := engine.ParseFormat(orDefault(getFormat, cfg.Output.Format))
	if err != nil {
		return err
	}

	req := queue.MediaRequest{
		URL:         args[0],
		Format:      format,
		BitrateKbps: orDefaultInt(getBitrate, cfg.Output.BitrateKbps),
		Dest:        orDefault(getDest, cfg.Output.Dir),
	}

	_, ch, err := o.Submit(ctx, req)
	if err != nil {
		return err
	}

	fin := renderEvents(ch)
	switch fin.Outcome {
	case events.OutcomeCompleted:
		return nil
	case events.OutcomeCancelled:
		fmt.Fprintln(os.Stderr, "cancelled")
		return fmt.Errorf("request cancelled (%d of %d items completed)", fin.Completed, fin.Completed+fin.Failed+fin.Cancelled)
	default:
		return fmt.Errorf("%d item(s) failed", fin.Failed)
	}
}

// renderEvents consumes one request's event stream and prints a live
// view. It returns the final summary event.
func renderEvents(ch <-chan events.Event) events.RequestFinished {
	var fin events.RequestFinished
	inProgress := false

	endProgress := func() {
		if inProgress {
			fmt.Println()
			inProgress = false
		}
	}

	for e := range ch {
		switch ev := e.(type) {
		case events.CollectionResolved:
			endProgress()
			if ev.CountKnown {
				fmt.Printf("playlist %q: %d items\n", ev.Title, ev.Count)
			} else {
				fmt.Printf("playlist %q: enumerating (at least %d items)\n", ev.Title, ev.Count)
			}
		case events.ItemQueued:
			endProgress()
			if ev.Ordinal > 0 {
				fmt.Printf("queued %3d  %s\n", ev.Ordinal, ev.Title)
			} else {
				fmt.Printf("queued      %s\n", ev.Title)
			}
		case events.ItemProgressed:
			fmt.Printf("\r%-11s %5.1f%%  %s", ev.Phase, ev.Percent, progressDetail(ev))
			inProgress = true
		case events.ItemCompleted:
			endProgress()
			fmt.Printf("done        %s\n", ev.OutputPath)
		case events.ItemFailed:
			endProgress()
			fmt.Printf("failed      %s: %s\n", ev.Item, ev.Reason)
		case events.ItemCancelled:
			endProgress()
			fmt.Printf("cancelled   %s\n", ev.Item)
		case events.RequestFinished:
			endProgress()
			fin = ev
			fmt.Printf("%s: %d completed, %d failed, %d cancelled\n",
				ev.Outcome, ev.Completed, ev.Failed, ev.Cancelled)
		}
	}
	return fin
}

func progressDetail(ev events.ItemProgressed) string {
	s := ""
	if ev.BytesTotal > 0 {
		s = fmt.Sprintf("%s / %s", humanize.IBytes(uint64(ev.BytesDone)), humanize.IBytes(uint64(ev.BytesTotal)))
	}
	if ev.SpeedBps > 0 {
		s += fmt.Sprintf("  %s/s", humanize.IBytes(uint64(ev.SpeedBps)))
	}
	if ev.ETASeconds >= 0 {
		s += fmt.Sprintf("  ETA %ds", ev.ETASeconds)
	}
	return s
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
