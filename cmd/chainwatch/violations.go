package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/chainwatch/chainwatch/internal/ironlaw"
)

var (
	violationsAll   bool
	violationsLimit int
)

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "List compliance violations",
	Long: `List compliance violations recorded by the monitor. By default only
open violations are shown; --all includes resolved history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		store, err := ironlaw.NewSQLiteStore(cfg.ViolationDBPath)
		if err != nil {
			return fmt.Errorf("opening violation store: %w", err)
		}
		defer store.Close()

		var violations []ironlaw.Violation
		if violationsAll {
			violations, err = store.History(ctx, violationsLimit)
		} else {
			violations, err = store.Open(ctx)
		}
		if err != nil {
			return fmt.Errorf("loading violations: %w", err)
		}

		if len(violations) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No violations"))
			return nil
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Law", "Type", "Detected", "Status", "Message"})
		for i := range violations {
			v := &violations[i]
			status := color.New(color.FgRed).Sprint("open")
			if !v.Open() {
				status = color.New(color.FgGreen).Sprintf("resolved %s", v.ResolvedAt.Format("01-02 15:04"))
			}
			tw.AppendRow(table.Row{
				v.Law,
				v.Type,
				v.DetectedAt.Format(time.DateTime),
				status,
				v.Message,
			})
		}
		tw.Render()
		return nil
	},
}

func init() {
	violationsCmd.Flags().BoolVarP(&violationsAll, "all", "a", false, "include resolved violations")
	violationsCmd.Flags().IntVarP(&violationsLimit, "limit", "l", 50, "maximum rows with --all")
	rootCmd.AddCommand(violationsCmd)
}
