package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flasharb/cmd/bot"
	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/strategies/arbitrage"
	"github.com/michaelpento.lv/flasharb/utils"
	fmath "github.com/michaelpento.lv/flasharb/utils/math"
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Evaluate the latest block once without submitting",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := config.LoadConfig(cfgFile, config.WithDryRun(), config.WithoutTelemetry())
		if err != nil {
			return err
		}

		b, err := bot.New(cmd.Context(), cfg, nil, log)
		if err != nil {
			return fmt.Errorf("failed to create bot: %w", err)
		}
		defer b.Close()

		result, err := b.QuoteOnce(cmd.Context())
		if err != nil {
			return err
		}

		reference, err := cfg.ReferenceToken()
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), result, reference.Symbol, reference.Decimals)
	},
}

func printResult(out io.Writer, result *arbitrage.CycleResult, refSymbol string, refDecimals uint8) error {
	fmt.Fprintf(out, "block %d, reference price %s %s\n\n",
		result.Block.Number, fmath.ToDecimal(result.ReferencePrice.Value, refDecimals), refSymbol)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PAIR\tDIRECTION\tINPUT\tOUTPUT\tGAS\tNET")
	for _, opp := range result.Opportunities {
		d := opp.Pair.Stable.Decimals
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			opp.Pair, opp.Direction,
			fmath.ToDecimal(opp.InputAmount, d),
			fmath.ToDecimal(opp.GrossAmountOut, d),
			fmath.ToDecimal(opp.GasCostInStablecoin, d),
			fmath.ToDecimal(opp.NetProfit, d))
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}
