package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chainwatch/chainwatch/internal/analyzer"
	"github.com/chainwatch/chainwatch/internal/gitops"
	"github.com/chainwatch/chainwatch/internal/intervention"
	"github.com/chainwatch/chainwatch/internal/ironlaw"
	"github.com/chainwatch/chainwatch/internal/metrics"
	"github.com/chainwatch/chainwatch/internal/notify"
	"github.com/chainwatch/chainwatch/internal/queue"
	"github.com/chainwatch/chainwatch/internal/scoring"
	"github.com/chainwatch/chainwatch/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervision loop",
	Long: `Start the supervisor: tail the workflow event log, analyze it on
every poll tick, queue intervention tasks for detected anomalies, and
run periodic compliance sweeps over the repository.

Runs until interrupted. State persists across restarts, so a restarted
supervisor resumes from the last log offset without re-filing tasks
for findings it already handled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		qm, err := queue.NewManager(queue.ManagerConfig{
			Path:    cfg.QueuePath,
			MaxSize: cfg.QueueMaxSize,
			TaskTTL: cfg.TaskTTL,
		})
		if err != nil {
			return fmt.Errorf("creating queue manager: %w", err)
		}

		gen, err := intervention.NewGenerator(intervention.GeneratorConfig{
			Queue:       qm,
			DedupWindow: cfg.DedupWindow,
		})
		if err != nil {
			return fmt.Errorf("creating intervention generator: %w", err)
		}

		// Git probes are best effort; without git the trunk law passes.
		git, err := gitops.NewGit(ctx)
		if err != nil {
			fmt.Printf("Git not available, branch checks disabled: %v\n", err)
			git = nil
		}

		store, err := ironlaw.NewSQLiteStore(cfg.ViolationDBPath)
		if err != nil {
			return fmt.Errorf("opening violation store: %w", err)
		}
		defer store.Close()

		snapshotter, err := ironlaw.NewSnapshotter(ironlaw.SnapshotterConfig{
			RepoRoot: cfg.RepoRoot,
			Git:      git,
			DocPaths: cfg.DocPaths,
		})
		if err != nil {
			return fmt.Errorf("creating snapshotter: %w", err)
		}

		// The supervisor is wired below; the closure lets the monitor's
		// sweep goroutine hand violations to it once it exists.
		var sup *supervisor.Supervisor
		monitor, err := ironlaw.NewMonitor(ironlaw.MonitorConfig{
			Snapshotter:   snapshotter,
			Store:         store,
			CheckInterval: cfg.ComplianceInterval,
			OnViolations: func(vs []ironlaw.Violation) {
				if sup != nil {
					sup.HandleViolations(vs)
				}
			},
		})
		if err != nil {
			return fmt.Errorf("creating compliance monitor: %w", err)
		}

		m := metrics.New()
		notifier := notify.NewNotifier(notify.Config{MinInterval: cfg.NotifyMinInterval})

		var scorer supervisor.IssueScorer
		if cfg.ScoringEnabled {
			s, err := scoring.NewScorer(scoring.Config{Model: cfg.ScoringModel})
			if err != nil {
				return fmt.Errorf("creating confidence scorer: %w", err)
			}
			if s == nil {
				fmt.Printf("Scoring enabled but no API key found, continuing without it\n")
			} else {
				scorer = s
			}
		}

		sup, err = supervisor.New(supervisor.Config{
			LogPath:      cfg.LogPath,
			StatePath:    cfg.StatePath,
			Analyzer:     analyzer.NewAnalyzer(cfg.Analyzer),
			Generator:    gen,
			Queue:        qm,
			Monitor:      monitor,
			Notifier:     notifier,
			Metrics:      m,
			Scorer:       scorer,
			PollInterval: cfg.PollInterval,
		})
		if err != nil {
			return fmt.Errorf("creating supervisor: %w", err)
		}

		if addr := viper.GetString("metrics-addr"); addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				fmt.Printf("Metrics listening on %s\n", addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					fmt.Fprintf(os.Stderr, "Metrics server error: %v\n", err)
				}
			}()
			defer srv.Close()
		}

		if err := sup.Start(ctx); err != nil {
			return fmt.Errorf("starting supervisor: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		sig := <-sigCh
		fmt.Printf("\nReceived %v, shutting down\n", sig)
		sup.Stop()
		return nil
	},
}

func init() {
	runCmd.Flags().String("metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")
	_ = viper.BindPFlag("metrics-addr", runCmd.Flags().Lookup("metrics-addr"))
	rootCmd.AddCommand(runCmd)
}
