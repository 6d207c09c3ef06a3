package flashloan

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
)

// Submitter sends a candidate transaction to the network
type Submitter interface {
	Submit(ctx context.Context, candidate *types.Candidate) (common.Hash, error)
}

// TxSigner turns a candidate into a signed transaction
type TxSigner interface {
	SignCandidate(ctx context.Context, candidate *types.Candidate) (*ethtypes.Transaction, error)
}

// TxClient is the subset of ethclient.Client used for submission
type TxClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// KeyedSubmitter signs candidates with a local key and sends them to the
// public mempool
type KeyedSubmitter struct {
	client TxClient
	key    *ecdsa.PrivateKey
	from   common.Address
	signer ethtypes.Signer
	logger *zap.Logger

	mu sync.Mutex
}

var (
	_ Submitter = (*KeyedSubmitter)(nil)
	_ TxSigner  = (*KeyedSubmitter)(nil)
)

// NewKeyedSubmitter creates a submitter from a hex private key
func NewKeyedSubmitter(client TxClient, hexKey string, chainID *big.Int, logger *zap.Logger) (*KeyedSubmitter, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &KeyedSubmitter{
		client: client,
		key:    key,
		from:   crypto.PubkeyToAddress(key.PublicKey),
		signer: ethtypes.LatestSignerForChainID(chainID),
		logger: logger,
	}, nil
}

// Address returns the sending account
func (s *KeyedSubmitter) Address() common.Address {
	return s.from
}

// SignCandidate assigns the pending nonce and signs the candidate
func (s *KeyedSubmitter) SignCandidate(ctx context.Context, candidate *types.Candidate) (*ethtypes.Transaction, error) {
	if candidate.Gas == 0 {
		return nil, fmt.Errorf("candidate gas limit is not set")
	}
	if candidate.GasPrice == nil || candidate.GasPrice.Sign() <= 0 {
		return nil, fmt.Errorf("candidate gas price is not set")
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	value := candidate.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := candidate.To
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      candidate.Gas,
		GasPrice: candidate.GasPrice,
		Data:     candidate.Data,
	})

	signed, err := ethtypes.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// Submit signs and broadcasts the candidate. Submissions are serialized so
// two candidates never share a nonce.
func (s *KeyedSubmitter) Submit(ctx context.Context, candidate *types.Candidate) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.SignCandidate(ctx, candidate)
	if err != nil {
		return common.Hash{}, err
	}

	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.Debug("Transaction sent",
		zap.String("hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
		zap.Uint64("gas", tx.Gas()))
	return tx.Hash(), nil
}
