package cmd

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flasharb/strategies/arbitrage"
	"github.com/michaelpento.lv/flasharb/types"
)

func TestPrintResult(t *testing.T) {
	pair := types.TokenPair{
		Stable: types.Token{Symbol: "USDT", Decimals: 6},
		Native: types.Token{Symbol: "WETH", Decimals: 18},
	}
	price, _ := new(big.Int).SetString("2012500000000000000000", 10)

	result := &arbitrage.CycleResult{
		Block:          types.BlockEvent{Number: 100},
		ReferencePrice: types.ReferencePrice{Value: price},
		Opportunities: []types.Opportunity{{
			Pair:                pair,
			Direction:           types.DirectionOracleToPool,
			InputAmount:         big.NewInt(10000000000),
			GrossAmountOut:      big.NewInt(10012500000),
			GasCostInStablecoin: big.NewInt(30000000),
			NetProfit:           big.NewInt(-17500000),
		}},
	}

	var out bytes.Buffer
	require.NoError(t, printResult(&out, result, "DAI", 18))

	assert.Contains(t, out.String(), "block 100, reference price 2012.5 DAI")
	assert.Contains(t, out.String(), "USDT/WETH")
	assert.Contains(t, out.String(), "kyber_to_uniswap")
	assert.Contains(t, out.String(), "10012.5")
	assert.Contains(t, out.String(), "-17.5")
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["start"])
	assert.True(t, names["quote"])
	assert.True(t, names["check"])
	assert.True(t, names["keygen"])
}

func TestKeygen(t *testing.T) {
	var out bytes.Buffer
	keygenCmd.SetOut(&out)
	require.NoError(t, keygenCmd.RunE(keygenCmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	key, err := crypto.HexToECDSA(strings.TrimPrefix(lines[0], "Private Key: 0x"))
	require.NoError(t, err)
	assert.Equal(t, "Public Address: "+crypto.PubkeyToAddress(key.PublicKey).Hex(), lines[1])
}
