package flashloan

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flasharb/types"
)

// Flash loan contract ABI. The contract borrows _amount of _token from the
// _flashloan pool, runs both swaps in _direction order and repays.
const flashloanABIJson = `[{
	"inputs": [
		{"internalType": "address", "name": "_flashloan", "type": "address"},
		{"internalType": "address", "name": "_token", "type": "address"},
		{"internalType": "uint256", "name": "_amount", "type": "uint256"},
		{"internalType": "uint8", "name": "_direction", "type": "uint8"}
	],
	"name": "initiateFlashloan",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

const initiateMethod = "initiateFlashloan"

// Builder encodes initiateFlashloan calls against a deployed contract
type Builder struct {
	abi      abi.ABI
	contract common.Address
	pool     common.Address
	from     common.Address
}

// NewBuilder creates a builder for the contract at contract, borrowing from
// pool and sending from from
func NewBuilder(contract, pool, from common.Address) (*Builder, error) {
	parsed, err := abi.JSON(strings.NewReader(flashloanABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse flash loan ABI: %w", err)
	}
	if contract == (common.Address{}) {
		return nil, fmt.Errorf("flash loan contract address is required")
	}

	return &Builder{
		abi:      parsed,
		contract: contract,
		pool:     pool,
		from:     from,
	}, nil
}

// Build returns an unsigned candidate borrowing amount of the pair's
// stablecoin. Gas fields are left for the caller.
func (b *Builder) Build(pair types.TokenPair, direction types.Direction, amount *big.Int) (*types.Candidate, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid loan amount")
	}

	data, err := b.abi.Pack(initiateMethod, b.pool, pair.Stable.Address, amount, uint8(direction))
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", initiateMethod, err)
	}

	return &types.Candidate{
		From:  b.from,
		To:    b.contract,
		Data:  data,
		Value: big.NewInt(0),
	}, nil
}

// Decode unpacks the calldata of a candidate built by this builder
func (b *Builder) Decode(data []byte) (pool, token common.Address, amount *big.Int, direction types.Direction, err error) {
	method, err := b.abi.MethodById(data)
	if err != nil {
		return pool, token, nil, 0, err
	}
	if method.Name != initiateMethod {
		return pool, token, nil, 0, fmt.Errorf("unexpected method %s", method.Name)
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return pool, token, nil, 0, fmt.Errorf("failed to unpack %s: %w", initiateMethod, err)
	}

	pool = args[0].(common.Address)
	token = args[1].(common.Address)
	amount = args[2].(*big.Int)
	direction = types.Direction(args[3].(uint8))
	return pool, token, amount, direction, nil
}
