package core_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	. "latticed/core"
)

func TestServeAndReceiveSnapshotRoundTrip(t *testing.T) {
	src, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)

	a := newTestAccount(t)
	g := openGenesisChain(t, src, a, "100")
	send := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "60", Link: "bob"})
	require.NoError(t, src.Append(a.address, send))

	var buf bytes.Buffer
	require.NoError(t, ServeSnapshot(src, &buf))

	dst, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ReceiveSnapshot(dst, &buf))

	chain, err := dst.Chain(a.address)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, g.ID, chain[0].ID)
	require.Equal(t, send.ID, chain[1].ID)
}

func TestReceiveSnapshotStopsAtSentinel(t *testing.T) {
	dst, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)

	raw := "Account:addr1\n" +
		`{"type":"genesis","address":"addr1","id":"00000000000000000001","previous":"00000000000000000000","balance":"1","signature":"` + GenesisSignature + "\"}\n" +
		"ayothatsall\n" +
		"Account:addr2\nshould-not-be-read\n"

	require.NoError(t, ReceiveSnapshot(dst, bytes.NewBufferString(raw)))

	chain, err := dst.Chain("addr1")
	require.NoError(t, err)
	require.Len(t, chain, 1)

	_, err = dst.Chain("addr2")
	require.NoError(t, err) // no file written, List/Chain just sees nothing
	list, err := dst.List()
	require.NoError(t, err)
	require.NotContains(t, list, "addr2")
}
