package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a Flashbots relay authentication key",
	Long: `Generates a fresh ECDSA key for signing relay requests. The key only
identifies the searcher to the relay; never fund its address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Private Key: 0x%x\n", crypto.FromECDSA(privateKey))
		fmt.Fprintf(out, "Public Address: %s\n", crypto.PubkeyToAddress(privateKey.PublicKey).Hex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
