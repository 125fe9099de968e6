package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "ratelimitd",
	Short: "Fixed window rate limiting service",
	Long: `ratelimitd enforces per-route request quotas over fixed time windows.

Counters live in memory, in SQLite for single-node persistence, or in Redis
so that every instance behind a load balancer shares them. When Redis is
unreachable the service keeps limiting per instance and reports it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and environment only if empty)")
}
