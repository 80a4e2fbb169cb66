// Command chainwatch supervises an agentic workflow by tailing its event
// log, detecting anomalies, and queuing corrective tasks.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chainwatch/chainwatch/internal/config"
)

// cfg is the loaded configuration, shared by all subcommands.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "chainwatch",
	Short: "Workflow supervision engine",
	Long: `Chainwatch watches an agentic workflow's event log and intervenes
when the workflow goes wrong.

It tails a JSON event log, runs anomaly detectors over the observed
command chain (stuck phases, broken chains, failed agents, TDD
violations, and more), and turns findings into prioritized tasks in a
durable queue. A compliance monitor independently checks repository
rules: protected-branch hygiene, companion document freshness, and
test pairing.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("dir")
		if dir == "" {
			var err error
			dir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
		}
		var err error
		cfg, err = config.LoadFromFile(viper.GetString("config"), dir)
		if err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("CHAINWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("dir", "d", "", "project directory (default: current directory)")
	rootCmd.PersistentFlags().StringP("config", "c", "chainwatch.yaml", "configuration file")
	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}
