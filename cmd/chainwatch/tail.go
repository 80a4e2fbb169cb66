package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chainwatch/chainwatch/internal/events"
	"github.com/chainwatch/chainwatch/internal/logreader"
)

var (
	tailFollow bool
	tailCount  int
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent workflow events",
	Long: `Print the most recent workflow log events. With --follow, keep
watching the log and print events as they arrive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := logreader.NewReader(cfg.LogPath)
		if err != nil {
			return err
		}
		entries, offset, err := reader.Read(0)
		if err != nil {
			return fmt.Errorf("reading log: %w", err)
		}

		start := 0
		if len(entries) > tailCount {
			start = len(entries) - tailCount
		}
		for i := start; i < len(entries); i++ {
			printEntry(&entries[i])
		}

		if !tailFollow {
			return nil
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-sigCh:
				return nil
			case <-ticker.C:
				fresh, next, err := reader.Read(offset)
				if err != nil {
					fmt.Fprintf(os.Stderr, "read error: %v\n", err)
					continue
				}
				offset = next
				for i := range fresh {
					printEntry(&fresh[i])
				}
			}
		}
	},
}

func printEntry(e *events.LogEntry) {
	ts := e.Timestamp.Format("15:04:05")
	ev := string(e.Event)
	switch e.Event {
	case events.EventFailed:
		ev = color.New(color.FgRed, color.Bold).Sprint(ev)
	case events.EventComplete, events.EventPhaseComplete:
		ev = color.New(color.FgGreen).Sprint(ev)
	case events.EventMilestone:
		ev = color.New(color.FgCyan).Sprint(ev)
	}

	where := e.Command
	if e.Phase != "" {
		where += "/" + e.Phase
	}
	line := fmt.Sprintf("%s  %-30s %s", ts, ev, where)
	if e.Agent != nil {
		line += fmt.Sprintf("  [agent %s]", e.Agent.ID)
	}
	fmt.Println(line)
}

func init() {
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "keep watching for new events")
	tailCmd.Flags().IntVarP(&tailCount, "lines", "n", 20, "number of recent events to show")
	rootCmd.AddCommand(tailCmd)
}
