// Command palctl is a thin operator CLI over the platform abstraction
// layer, generalized from cmd/nova's cobra root/subcommand layout: a
// persistent --config flag loaded via config.LoadFromFile and
// config.LoadFromEnv, logging initialized once in PersistentPreRunE,
// and one subcommand per exercised subsystem.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/pal/internal/pal/config"
	"github.com/oriys/pal/internal/pal/logging"
	"github.com/oriys/pal/internal/pal/metrics"
)

var (
	configFile string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "palctl",
		Short: "palctl - operate and demo the platform abstraction layer",
		Long:  "palctl drives the host-memory, allocator, handle-table and scheduler components directly, for demos and smoke tests.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configFile != "" {
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			} else {
				cfg = config.DefaultConfig()
			}
			config.LoadFromEnv(cfg)
			logging.SetLevelFromString("info")
			metrics.Init("palctl", nil)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (optional, defaults + env override)")

	rootCmd.AddCommand(
		hostmemCmd(),
		arenaCmd(),
		buddyCmd(),
		bufferCmd(),
		handleCmd(),
		schedulerCmd(),
		metricsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
