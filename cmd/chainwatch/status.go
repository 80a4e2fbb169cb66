package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/chainwatch/chainwatch/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and supervisor status",
	Long:  `Display the intervention task queue and the persisted supervisor state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Chainwatch Status ==="))

		printSupervisorState(yellow, gray)

		qm, err := queue.NewManager(queue.ManagerConfig{
			Path:    cfg.QueuePath,
			MaxSize: cfg.QueueMaxSize,
			TaskTTL: cfg.TaskTTL,
		})
		if err != nil {
			return fmt.Errorf("opening queue: %w", err)
		}

		tasks, err := qm.ListTasks(queue.Filter{})
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}

		fmt.Printf("%s\n", yellow("Task Queue:"))
		if len(tasks) == 0 {
			fmt.Printf("  %s\n\n", gray("No tasks"))
			return nil
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "Priority", "Status", "Anomaly", "Age"})
		for i := range tasks {
			t := &tasks[i]
			tw.AppendRow(table.Row{
				shortID(t.ID),
				colorPriority(t.Priority),
				string(t.Status),
				t.AnomalyType,
				time.Since(t.CreatedAt).Round(time.Second),
			})
		}
		tw.Render()
		fmt.Println()
		return nil
	},
}

func printSupervisorState(yellow, gray func(a ...interface{}) string) {
	fmt.Printf("%s\n", yellow("Supervisor:"))
	data, err := os.ReadFile(cfg.StatePath)
	if err != nil {
		fmt.Printf("  %s\n\n", gray("No persisted state (supervisor has not run here)"))
		return
	}

	var st struct {
		LogOffset        int64             `json:"log_offset"`
		CurrentCommand   string            `json:"current_command"`
		CurrentPhase     string            `json:"current_phase"`
		ChainProgress    map[string]string `json:"chain_progress"`
		LastActivityTime time.Time         `json:"last_activity_time"`
		UpdatedAt        time.Time         `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &st); err != nil {
		fmt.Printf("  %s\n\n", gray("State file unreadable"))
		return
	}

	where := st.CurrentCommand
	if where == "" {
		where = gray("(no command observed)")
	} else if st.CurrentPhase != "" {
		where = fmt.Sprintf("%s / %s", st.CurrentCommand, st.CurrentPhase)
	}
	fmt.Printf("  Position:   %s\n", where)
	fmt.Printf("  Log offset: %d bytes\n", st.LogOffset)
	if !st.LastActivityTime.IsZero() {
		fmt.Printf("  Last event: %s (%v ago)\n",
			st.LastActivityTime.Format("2006-01-02 15:04:05"),
			time.Since(st.LastActivityTime).Round(time.Second))
	}
	if len(st.ChainProgress) > 0 {
		fmt.Printf("  Chain:      ")
		for i, cmd := range []string{"ideate", "plan", "build", "ship"} {
			if i > 0 {
				fmt.Printf(" -> ")
			}
			fmt.Printf("%s:%s", cmd, progressOf(st.ChainProgress[cmd]))
		}
		fmt.Println()
	}
	fmt.Printf("  Updated:    %s\n\n", st.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func progressOf(status string) string {
	if status == "" {
		return "pending"
	}
	return status
}

func colorPriority(p queue.Priority) string {
	switch p {
	case queue.PriorityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(string(p))
	case queue.PriorityHigh:
		return color.New(color.FgRed).Sprint(string(p))
	case queue.PriorityMedium:
		return color.New(color.FgYellow).Sprint(string(p))
	default:
		return color.New(color.FgHiBlack).Sprint(string(p))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
