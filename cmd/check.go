package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flasharb/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and report which secrets are set",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration OK")
		fmt.Fprintf(out, "  chain id:        %d\n", cfg.ChainID)
		fmt.Fprintf(out, "  ws endpoint:     %s\n", cfg.WSEndpoint)
		fmt.Fprintf(out, "  input amount:    %s\n", cfg.InputAmount)
		fmt.Fprintf(out, "  reference:       %s\n", cfg.ReferenceStable)
		for _, pair := range cfg.TokenPairs() {
			fmt.Fprintf(out, "  pair:            %s (execute: %t)\n", pair, cfg.ExecutablePairs()[strings.ToUpper(pair.Stable.Symbol)])
		}
		fmt.Fprintf(out, "  dry run:         %t\n", cfg.DryRun)
		fmt.Fprintf(out, "  flashbots:       %t\n", cfg.UseFlashbots)

		fmt.Fprintln(out, "Environment")
		for _, key := range []string{config.EnvPrivateKey, config.EnvFlashbotsKey, config.EnvTelemetryAccess, config.EnvTelemetryBucket} {
			fmt.Fprintf(out, "  %-24s %t\n", key+":", os.Getenv(key) != "")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
