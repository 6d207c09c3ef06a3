package cmd

import (
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/utils"
)

var (
	cfgFile string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "flasharb",
	Short: "Block-driven Kyber/Uniswap flash loan arbitrage bot",
	Long: `flasharb compares stablecoin round trips between the Kyber network proxy
and Uniswap V2 on every new block and submits a flash loan when a direction
nets a profit after gas.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, JSON or YAML; durations are strings like \"15s\" (default is $HOME/.flasharb.json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file with secrets (default is ./.env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	log := utils.InitLogger(debug)

	var err error
	if envFile != "" {
		err = config.LoadEnv(envFile)
	} else {
		err = config.LoadEnv()
	}
	if err != nil {
		log.Debug("No env file loaded")
	}
}
