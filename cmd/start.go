package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/cmd/bot"
	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/utils"
)

var dryRun bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start evaluating blocks and submitting flash loans",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := loadStartConfig()
		if err != nil {
			return err
		}

		var secure *config.SecureConfig
		if !cfg.DryRun {
			secure, err = config.LoadSecureConfig()
			if err != nil {
				return err
			}
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		b, err := bot.New(ctx, cfg, secure, log)
		if err != nil {
			return fmt.Errorf("failed to create bot: %w", err)
		}

		if err := b.Start(ctx); err != nil {
			cancel()
			b.Stop()
			return fmt.Errorf("failed to start bot: %w", err)
		}

		<-ctx.Done()
		log.Info("Shutting down gracefully...", zap.Error(ctx.Err()))
		b.Stop()
		return nil
	},
}

// loadStartConfig applies --dry-run before validation so a dry run needs no
// flash loan contract
func loadStartConfig() (*config.Config, error) {
	var overrides []config.Override
	if dryRun {
		overrides = append(overrides, config.WithDryRun())
	}
	return config.LoadConfig(cfgFile, overrides...)
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate blocks without submitting transactions")
}
