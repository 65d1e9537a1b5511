package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/meridianquant/allocator/pkg/logger"
)

var (
	logLevel  string
	logPretty bool
	dbPath    string

	log zerolog.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "allocator",
		Short: "Three-layer portfolio optimization and Monte Carlo simulation",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log = logger.New(logger.Config{Level: logLevel, Pretty: logPretty})
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logPretty, "pretty", true, "human-readable log output")
	root.PersistentFlags().StringVar(&dbPath, "db", "allocator.db", "run database path, empty disables persistence")

	root.AddCommand(newOptimizeCommand())
	root.AddCommand(newSimulateCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
