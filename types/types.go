package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Venue identifies a liquidity source with its own quoting method
type Venue int

const (
	// VenueReserveOracle quotes from posted reserve rates (Kyber network proxy)
	VenueReserveOracle Venue = iota
	// VenueAmmPool quotes from constant-product pool reserves (Uniswap V2)
	VenueAmmPool
)

func (v Venue) String() string {
	switch v {
	case VenueReserveOracle:
		return "kyber"
	case VenueAmmPool:
		return "uniswap"
	default:
		return "unknown"
	}
}

// Direction identifies which venue enters and which exits the round trip.
// The numeric value is passed verbatim to the flash loan contract.
type Direction uint8

const (
	DirectionOracleToPool Direction = 0
	DirectionPoolToOracle Direction = 1
)

// Directions lists both round-trip directions in contract order
var Directions = []Direction{DirectionOracleToPool, DirectionPoolToOracle}

func (d Direction) String() string {
	switch d {
	case DirectionOracleToPool:
		return "kyber_to_uniswap"
	case DirectionPoolToOracle:
		return "uniswap_to_kyber"
	default:
		return "unknown"
	}
}

// EntryVenue returns the venue used to acquire the intermediate asset
func (d Direction) EntryVenue() Venue {
	if d == DirectionPoolToOracle {
		return VenueAmmPool
	}
	return VenueReserveOracle
}

// ExitVenue returns the venue used to convert the intermediate asset back
func (d Direction) ExitVenue() Venue {
	if d == DirectionPoolToOracle {
		return VenueReserveOracle
	}
	return VenueAmmPool
}

// Token is an ERC20 token with fixed decimal precision
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Unit returns 10^Decimals, the number of minor units in one whole token
func (t Token) Unit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil)
}

// ToMinor converts a whole-unit amount into minor units
func (t Token) ToMinor(whole *big.Int) *big.Int {
	return new(big.Int).Mul(whole, t.Unit())
}

// TokenPair is a stablecoin/native-asset pair
type TokenPair struct {
	Stable Token
	Native Token
}

func (p TokenPair) String() string {
	return fmt.Sprintf("%s/%s", p.Stable.Symbol, p.Native.Symbol)
}

// Quote is a single venue quote. Amounts are in minor units.
type Quote struct {
	Venue     Venue
	Pair      TokenPair
	Direction Direction
	Leg       int
	AmountIn  *big.Int
	AmountOut *big.Int
}

// RoundTrip chains the entry and exit legs of one direction on one pair
type RoundTrip struct {
	Pair      TokenPair
	Direction Direction
	FirstLeg  Quote
	SecondLeg Quote
}

// ReferencePrice is the stablecoin price of one whole native unit,
// expressed in stablecoin minor units
type ReferencePrice struct {
	Value         *big.Int
	LastUpdatedAt time.Time
}

// Opportunity is the evaluated outcome of a round trip for one block
type Opportunity struct {
	Pair                TokenPair
	Direction           Direction
	InputAmount         *big.Int
	IntermediateAmount  *big.Int
	GrossAmountOut      *big.Int
	GasUnits            uint64
	GasPrice            *big.Int
	GasCostInStablecoin *big.Int
	NetProfit           *big.Int
	BlockNumber         uint64
}

// BlockEvent is delivered once per new block head
type BlockEvent struct {
	Number uint64
	Hash   common.Hash
	Time   time.Time
}

// SubscriptionStatus reports a change in the block subscription. A nil Err
// means the subscription is (re)established.
type SubscriptionStatus struct {
	Err error
}

// Restored reports whether the status marks a working subscription
func (s SubscriptionStatus) Restored() bool {
	return s.Err == nil
}

// Candidate is a fully formed, unsigned flash loan transaction
type Candidate struct {
	From        common.Address
	To          common.Address
	Data        []byte
	Value       *big.Int
	Gas         uint64
	GasPrice    *big.Int
	TargetBlock uint64
}

// Execution records a submitted flash loan
type Execution struct {
	Pair        TokenPair
	Direction   Direction
	BlockNumber uint64
	TxHash      common.Hash
}

// PairOutputs is the per-direction gross output for one pair
type PairOutputs struct {
	Pair       TokenPair
	FromPool   *big.Int // kyber -> uniswap round trip
	FromOracle *big.Int // uniswap -> kyber round trip
}

// BlockReport is the telemetry payload for one evaluated block
type BlockReport struct {
	BlockNumber    uint64
	ReferencePrice ReferencePrice
	ReferenceToken Token
	Outputs        []PairOutputs
}
