package main

import (
	"fmt"
	"os"

	"github.com/aryangodara/rate_limiter_gate"
	"github.com/aryangodara/rate_limiter_gate/config"
	"github.com/spf13/cobra"
)

var resetFlags struct {
	rule string
}

var resetCmd = &cobra.Command{
	Use:   "reset KEY",
	Short: "Clear a caller's counters",
	Long: `Clear every window of KEY under a rule on the configured backend.

KEY is the extracted form of the caller, as it appears in the logs:
  ip:10.0.0.1          address keyed rules (global, message, intensive, ip-limited)
  cred:test-key-basic  the user rule, for callers sending an API key

The memory backend lives inside the server process, so resetting it from
here has no effect; use the server's admin endpoint instead.

Examples:
  ratelimitd reset --rule user cred:test-key-basic
  ratelimitd reset --rule global ip:203.0.113.7`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVar(&resetFlags.rule, "rule", ruleGlobal, "rule whose counters are cleared")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Store.Backend == config.BackendMemory {
		return fmt.Errorf("the %s backend cannot be reset from outside the server", config.BackendMemory)
	}

	logger := newLogger(cfg.Logging, os.Stderr)
	bundle, err := openStore(cmd.Context(), cfg.Store, logger, nil)
	if err != nil {
		return err
	}
	defer bundle.Close()

	rules, err := buildRules(cfg.Limits, rate_limiter_gate.FixedLoad(0))
	if err != nil {
		return err
	}
	rule, ok := rules[resetFlags.rule]
	if !ok {
		return fmt.Errorf("unknown rule %q", resetFlags.rule)
	}

	gate, err := rate_limiter_gate.NewGate(rate_limiter_gate.NewLimiter(bundle.store), rule, rate_limiter_gate.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := gate.Reset(cmd.Context(), rate_limiter_gate.LimitKey(args[0])); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "reset %s under rule %s\n", args[0], resetFlags.rule)
	return nil
}
