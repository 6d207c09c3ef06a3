package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/types"
)

const (
	contentTypeJSON  = "application/json"
	flashbotsXHeader = "X-Flashbots-Signature"
	methodSendBundle = "eth_sendBundle"
	methodCallBundle = "eth_callBundle"
)

// Client represents a Flashbots relay RPC client
type Client struct {
	httpClient *http.Client
	relayURL   string
	authSigner *ecdsa.PrivateKey
}

// NewClient creates a new Flashbots client. authKey only identifies the
// searcher to the relay and never holds funds.
func NewClient(relayURL string, authKey *ecdsa.PrivateKey, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		relayURL:   relayURL,
		authSigner: authKey,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type sendBundleArgs struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

type callBundleArgs struct {
	Txs              []string `json:"txs"`
	BlockNumber      string   `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber"`
}

// BundleSimulation is the relay's simulation result for a bundle
type BundleSimulation struct {
	BundleHash  string `json:"bundleHash"`
	TotalGas    uint64 `json:"totalGasUsed"`
	CoinbaseTip string `json:"coinbaseDiff"`
	Results     []struct {
		TxHash  string `json:"txHash"`
		GasUsed uint64 `json:"gasUsed"`
		Error   string `json:"error"`
		Revert  string `json:"revert"`
	} `json:"results"`
}

// SendBundle submits signed transactions for inclusion in block and returns
// the relay's bundle hash
func (c *Client) SendBundle(ctx context.Context, txs []*ethtypes.Transaction, block uint64) (common.Hash, error) {
	encoded, err := encodeTxs(txs)
	if err != nil {
		return common.Hash{}, err
	}

	var result struct {
		BundleHash common.Hash `json:"bundleHash"`
	}
	err = c.call(ctx, methodSendBundle, sendBundleArgs{
		Txs:         encoded,
		BlockNumber: hexutil.EncodeUint64(block),
	}, &result)
	if err != nil {
		return common.Hash{}, err
	}
	return result.BundleHash, nil
}

// CallBundle simulates the bundle on top of stateBlock
func (c *Client) CallBundle(ctx context.Context, txs []*ethtypes.Transaction, block, stateBlock uint64) (*BundleSimulation, error) {
	encoded, err := encodeTxs(txs)
	if err != nil {
		return nil, err
	}

	var result BundleSimulation
	err = c.call(ctx, methodCallBundle, callBundleArgs{
		Txs:              encoded,
		BlockNumber:      hexutil.EncodeUint64(block),
		StateBlockNumber: hexutil.EncodeUint64(stateBlock),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, method string, args interface{}, result interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  []interface{}{args},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	header, err := c.signPayload(payload)
	if err != nil {
		return err
	}

	req.Header.Add("Content-Type", contentTypeJSON)
	req.Header.Add("Accept", contentTypeJSON)
	req.Header.Add(flashbotsXHeader, header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flashbots request failed: %s: %s", resp.Status, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("flashbots %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// signPayload builds the X-Flashbots-Signature header value
func (c *Client) signPayload(payload []byte) (string, error) {
	signature, err := crypto.Sign(
		accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload)))),
		c.authSigner,
	)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}

	return fmt.Sprintf("%s:%s",
		crypto.PubkeyToAddress(c.authSigner.PublicKey).Hex(),
		hexutil.Encode(signature),
	), nil
}

func encodeTxs(txs []*ethtypes.Transaction) ([]string, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("bundle has no transactions")
	}

	encoded := make([]string, 0, len(txs))
	for _, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %s: %w", tx.Hash().Hex(), err)
		}
		encoded = append(encoded, hexutil.Encode(raw))
	}
	return encoded, nil
}

// BundleSubmitter sends each candidate as a single-transaction bundle
// targeting the candidate's block, keeping reverted trades off chain
type BundleSubmitter struct {
	client   *Client
	signer   flashloan.TxSigner
	logger   *zap.Logger
	simulate bool
}

var _ flashloan.Submitter = (*BundleSubmitter)(nil)

// NewBundleSubmitter creates a private relay submitter
func NewBundleSubmitter(client *Client, signer flashloan.TxSigner, logger *zap.Logger) *BundleSubmitter {
	return &BundleSubmitter{
		client: client,
		signer: signer,
		logger: logger,
	}
}

// WithSimulation makes Submit run eth_callBundle first and skip bundles
// that revert
func (s *BundleSubmitter) WithSimulation() *BundleSubmitter {
	s.simulate = true
	return s
}

// Submit signs the candidate and sends it to the relay. The returned hash is
// the transaction hash.
func (s *BundleSubmitter) Submit(ctx context.Context, candidate *types.Candidate) (common.Hash, error) {
	if candidate.TargetBlock == 0 {
		return common.Hash{}, fmt.Errorf("candidate target block is not set")
	}

	tx, err := s.signer.SignCandidate(ctx, candidate)
	if err != nil {
		return common.Hash{}, err
	}

	txs := []*ethtypes.Transaction{tx}
	if s.simulate {
		sim, err := s.client.CallBundle(ctx, txs, candidate.TargetBlock, candidate.TargetBlock-1)
		if err != nil {
			return common.Hash{}, fmt.Errorf("bundle simulation failed: %w", err)
		}
		for _, r := range sim.Results {
			if r.Error != "" || r.Revert != "" {
				return common.Hash{}, fmt.Errorf("bundle reverts in simulation: %s%s", r.Error, r.Revert)
			}
		}
	}

	bundleHash, err := s.client.SendBundle(ctx, txs, candidate.TargetBlock)
	if err != nil {
		return common.Hash{}, err
	}

	s.logger.Debug("Bundle sent",
		zap.String("bundle", bundleHash.Hex()),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("target_block", candidate.TargetBlock))
	return tx.Hash(), nil
}
