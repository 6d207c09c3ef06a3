package testutils

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// GenerateKey creates a throwaway signing key and returns it with its hex
// encoding, as read from PRIVATE_KEY
func GenerateKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, common.Bytes2Hex(crypto.FromECDSA(key))
}

// Address returns the account controlled by key
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}
