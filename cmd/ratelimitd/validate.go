package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/aryangodara/rate_limiter_gate"
	"github.com/aryangodara/rate_limiter_gate/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration the way serve would, report every invalid
field, and print the resulting limits.

Examples:
  ratelimitd validate --config config.yaml
  RATE_LIMIT_MAX_REQUESTS=20 ratelimitd validate`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	// policies check their own inputs too
	if _, err := buildRules(cfg.Limits, rate_limiter_gate.FixedLoad(0)); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "configuration is valid")
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "listen address\t%s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(w, "backend\t%s\n", cfg.Store.Backend)
	fmt.Fprintf(w, "window\t%s\n", cfg.Limits.Window())
	fmt.Fprintf(w, "base max requests\t%d\n", cfg.Limits.MaxRequests())
	fmt.Fprintf(w, "credential header\t%s\n", cfg.Limits.CredentialHeader)
	fmt.Fprintf(w, "anonymous multiplier\t%g\n", *cfg.Limits.AnonymousMultiplier)

	creds := make([]string, 0, len(cfg.Limits.CredentialTiers))
	for c := range cfg.Limits.CredentialTiers {
		creds = append(creds, c)
	}
	sort.Strings(creds)
	for _, c := range creds {
		fmt.Fprintf(w, "tier %s\tx%g\n", c, cfg.Limits.CredentialTiers[c])
	}
	return w.Flush()
}
