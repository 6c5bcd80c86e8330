package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	. "latticed/core"
)

func TestBlockStoreAppendAndHead(t *testing.T) {
	store, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)

	a := newTestAccount(t)
	g := openGenesisChain(t, store, a, "100")

	head, err := store.Head(a.address)
	require.NoError(t, err)
	require.Equal(t, g.ID, head.ID)

	send := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "60", Link: "someone"})
	require.NoError(t, store.Append(a.address, send))

	head, err = store.Head(a.address)
	require.NoError(t, err)
	require.Equal(t, send.ID, head.ID)
}

func TestBlockStoreRejectsFork(t *testing.T) {
	store, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)

	a := newTestAccount(t)
	g := openGenesisChain(t, store, a, "100")

	s1 := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "60", Link: "x"})
	require.NoError(t, store.Append(a.address, s1))

	// A second block naming the same previous is a fork (invariant 3).
	s2 := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "70", Link: "y"})
	require.Error(t, store.Append(a.address, s2))
}

func TestBlockStoreRejectsStalePrevious(t *testing.T) {
	store, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)

	a := newTestAccount(t)
	openGenesisChain(t, store, a, "100")

	bad := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: "99999999999999999999", Balance: "60", Link: "x"})
	require.Error(t, store.Append(a.address, bad))
}

func TestBlockStoreChainReturnsRootToHeadOrder(t *testing.T) {
	store, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)

	a := newTestAccount(t)
	g := openGenesisChain(t, store, a, "100")
	s1 := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "60", Link: "x"})
	require.NoError(t, store.Append(a.address, s1))
	s2 := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: s1.ID, Balance: "10", Link: "y"})
	require.NoError(t, store.Append(a.address, s2))

	chain, err := store.Chain(a.address)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, []string{g.ID, s1.ID, s2.ID}, []string{chain[0].ID, chain[1].ID, chain[2].ID})
}

func TestBlockStoreUnparseableLineIsDropped(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBlockStore(dir)
	require.NoError(t, err)

	a := newTestAccount(t)
	openGenesisChain(t, store, a, "100")

	// Corrupt the account file with a garbage trailing line; loadChain must
	// drop it rather than fail the whole read.
	path := filepath.Join(dir, "Accounts", a.address)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	chain, err := store.Chain(a.address)
	require.NoError(t, err)
	require.Len(t, chain, 1)
}
