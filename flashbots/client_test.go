package flashbots

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/testutils"
)

type recordedRequest struct {
	body   []byte
	header string
	req    rpcRequest
}

func newRelay(t *testing.T, response string) (*httptest.Server, *[]recordedRequest) {
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		rec := recordedRequest{body: body, header: r.Header.Get(flashbotsXHeader)}
		require.NoError(t, json.Unmarshal(body, &rec.req))
		requests = append(requests, rec)

		w.Header().Set("Content-Type", contentTypeJSON)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

type nopTxClient struct{}

func (nopTxClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 3, nil
}

func (nopTxClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return nil
}

func newSigner(t *testing.T) *flashloan.KeyedSubmitter {
	_, hexKey := testutils.GenerateKey(t)
	s, err := flashloan.NewKeyedSubmitter(nopTxClient{}, hexKey, big.NewInt(1), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestBundleSubmitter(t *testing.T) {
	bundleHash := common.HexToHash("0xabc")
	server, requests := newRelay(t, `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"`+bundleHash.Hex()+`"}}`)

	authKey, _ := testutils.GenerateKey(t)
	client := NewClient(server.URL, authKey, time.Second)
	submitter := NewBundleSubmitter(client, newSigner(t), zaptest.NewLogger(t))

	candidate := &types.Candidate{
		To:          common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Data:        []byte{0xde, 0xad},
		Gas:         400000,
		GasPrice:    big.NewInt(20e9),
		TargetBlock: 101,
	}
	txHash, err := submitter.Submit(context.Background(), candidate)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, txHash)

	require.Len(t, *requests, 1)
	rec := (*requests)[0]
	assert.Equal(t, methodSendBundle, rec.req.Method)

	params, err := json.Marshal(rec.req.Params[0])
	require.NoError(t, err)
	var args sendBundleArgs
	require.NoError(t, json.Unmarshal(params, &args))
	assert.Equal(t, "0x65", args.BlockNumber)
	require.Len(t, args.Txs, 1)

	var tx ethtypes.Transaction
	require.NoError(t, tx.UnmarshalBinary(hexutil.MustDecode(args.Txs[0])))
	assert.Equal(t, txHash, tx.Hash())

	// header is address:signature over the payload hash
	parts := strings.Split(rec.header, ":")
	require.Len(t, parts, 2)
	sig := hexutil.MustDecode(parts[1])
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(rec.body)))), sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(authKey.PublicKey).Hex(), parts[0])
	assert.Equal(t, crypto.PubkeyToAddress(authKey.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestBundleSubmitterRelayError(t *testing.T) {
	server, _ := newRelay(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bundle rejected"}}`)

	authKey, _ := testutils.GenerateKey(t)
	submitter := NewBundleSubmitter(NewClient(server.URL, authKey, time.Second), newSigner(t), zaptest.NewLogger(t))

	candidate := &types.Candidate{Gas: 21000, GasPrice: big.NewInt(1), TargetBlock: 5}
	_, err := submitter.Submit(context.Background(), candidate)
	assert.ErrorContains(t, err, "bundle rejected")

	candidate.TargetBlock = 0
	_, err = submitter.Submit(context.Background(), candidate)
	assert.Error(t, err)
}

func TestCallBundle(t *testing.T) {
	server, requests := newRelay(t, `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0x01","totalGasUsed":210000,"results":[{"txHash":"0x02","gasUsed":210000,"revert":"unprofitable"}]}}`)

	authKey, _ := testutils.GenerateKey(t)
	client := NewClient(server.URL, authKey, time.Second)

	tx, err := newSigner(t).SignCandidate(context.Background(), &types.Candidate{Gas: 21000, GasPrice: big.NewInt(1)})
	require.NoError(t, err)

	sim, err := client.CallBundle(context.Background(), []*ethtypes.Transaction{tx}, 11, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(210000), sim.TotalGas)
	require.Len(t, sim.Results, 1)
	assert.Equal(t, "unprofitable", sim.Results[0].Revert)
	assert.Equal(t, methodCallBundle, (*requests)[0].req.Method)

	_, err = client.SendBundle(context.Background(), nil, 11)
	assert.Error(t, err)
}

func TestBundleSubmitterSimulationRevert(t *testing.T) {
	server, requests := newRelay(t, `{"jsonrpc":"2.0","id":1,"result":{"results":[{"txHash":"0x02","gasUsed":50000,"revert":"unprofitable"}]}}`)

	authKey, _ := testutils.GenerateKey(t)
	submitter := NewBundleSubmitter(NewClient(server.URL, authKey, time.Second), newSigner(t), zaptest.NewLogger(t)).WithSimulation()

	_, err := submitter.Submit(context.Background(), &types.Candidate{Gas: 21000, GasPrice: big.NewInt(1), TargetBlock: 9})
	assert.ErrorContains(t, err, "unprofitable")
	require.Len(t, *requests, 1)
	assert.Equal(t, methodCallBundle, (*requests)[0].req.Method)
}
