package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tgcollect/tgcollect/internal/bus"
	"github.com/tgcollect/tgcollect/internal/config"
	"github.com/tgcollect/tgcollect/internal/links"
	"github.com/tgcollect/tgcollect/internal/maintenance"
	"github.com/tgcollect/tgcollect/internal/network"
	"github.com/tgcollect/tgcollect/internal/notify"
	"github.com/tgcollect/tgcollect/internal/pipeline"
	"github.com/tgcollect/tgcollect/internal/pool"
	"github.com/tgcollect/tgcollect/internal/store"
)

var runDebug bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collector daemon",
	RunE:  runCollector,
}

func init() {
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging")
}

func runCollector(cmd *cobra.Command, args []string) error {
	printHeader("📡 tgcollect Collector")

	level := slog.LevelInfo
	if runDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return err
	}

	st, err := store.Open(cfg.Paths.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.New()
	go events.DispatchAlerts(ctx)

	var queue links.FetchQueue
	if cfg.Metadata.Enabled {
		queue = links.NewKafkaFetchQueue(ctx, cfg.Metadata.Brokers, cfg.Metadata.Topic)
		fmt.Printf("Link metadata queue: %s (%s)\n", cfg.Metadata.Topic, cfg.Metadata.Brokers)
	}
	recorder := links.NewRecorder(st, queue)

	var indexer pipeline.Indexer
	if cfg.Indexing.Enabled {
		indexer = pipeline.NewKafkaIndexer(ctx, cfg.Indexing.Brokers, cfg.Indexing.Topic)
		fmt.Printf("Index hand-off:      %s (%s)\n", cfg.Indexing.Topic, cfg.Indexing.Brokers)
	}

	pipe := pipeline.New(pipeline.Options{
		Store:         st,
		Links:         recorder,
		Bus:           events,
		Indexer:       indexer,
		AlertsEnabled: cfg.Alerts.Enabled,
		ExcerptChars:  cfg.Alerts.MaxTextChars,
	})

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Slack.Enabled {
		notifier = notify.NewSlackNotifier(cfg.Slack)
		fmt.Println("Alerts:              Slack webhook")
	}
	notify.Attach(ctx, events, notifier)

	sched := maintenance.New(time.Minute)
	if cfg.Retention.KeepDays > 0 {
		keep := time.Duration(cfg.Retention.KeepDays) * 24 * time.Hour
		sched.Register(&maintenance.Job{
			Name:  "retention",
			Every: time.Hour,
			Run: func(ctx context.Context) error {
				n, err := st.PruneMessages(ctx, time.Now().Add(-keep))
				if n > 0 {
					slog.Info("retention: pruned messages", "count", n)
				}
				return err
			},
		})
	}
	sched.Register(&maintenance.Job{
		Name:  "alert-dedup-prune",
		Every: time.Hour,
		Run: func(ctx context.Context) error {
			_, err := st.PruneAlerted(ctx, cfg.Alerts.DedupKeepHrs)
			return err
		},
	})
	go sched.Run(ctx)

	dialer := &network.WhatsAppDialer{DataDir: cfg.Paths.DataDir}
	sup := pool.New(cfg.Pool, cfg.Backfill, st, dialer, pipe, events)

	fmt.Printf("Store:               %s\n", cfg.Paths.DBPath)
	fmt.Println("Collector running. Ctrl-C to stop.")

	err = sup.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Println("Shut down cleanly.")
		return nil
	}
	return err
}
