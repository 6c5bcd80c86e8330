package core_test

import (
	"crypto/ecdsa"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	. "latticed/core"
)

// testAccount is a keypair plus a running block-id counter, used to build
// chains of signed blocks in tests without going through the network.
type testAccount struct {
	priv    *ecdsa.PrivateKey
	address string
	nextID  int
}

func newTestAccount(t *testing.T) *testAccount {
	t.Helper()
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	address, err := AddressFromPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return &testAccount{priv: priv, address: address}
}

func (a *testAccount) id() string {
	a.nextID++
	return fmt.Sprintf("%020d", a.nextID)
}

// signedBlock sets b.Address to a's address and returns b with its
// Signature computed over the canonical payload; id and previous are used
// as given.
func signedBlock(t *testing.T, a *testAccount, b Block) Block {
	t.Helper()
	b.Address = a.address
	payload, err := b.SigningPayload()
	require.NoError(t, err)
	sig, err := Sign(a.priv, payload)
	require.NoError(t, err)
	b.Signature = sig
	return b
}

// openGenesisChain appends a single genesis block to the store for a,
// with the given starting balance, and returns that genesis block.
func openGenesisChain(t *testing.T, store *BlockStore, a *testAccount, balance string) Block {
	t.Helper()
	b := Block{
		Type:      TypeGenesis,
		Address:   a.address,
		ID:        a.id(),
		Previous:  ZeroPrevious,
		Balance:   balance,
		Signature: GenesisSignature,
	}
	require.NoError(t, store.Append(a.address, b))
	return b
}
