package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"latticed/core"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	store, err := core.NewBlockStore(t.TempDir())
	require.NoError(t, err)
	validator := core.NewChainValidator(store)
	state := core.NewStateMachine(store, validator)
	peers := core.NewPeerRegistry("ws://127.0.0.1:1")

	priv, err := core.GenerateKeyPair()
	require.NoError(t, err)
	self, err := core.AddressFromPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	votes := core.NewVotingCoordinator(priv, self, peers, validator)

	return &Router{Store: store, Validator: validator, State: state, Peers: peers, Votes: votes, SelfPort: 6969}
}

func TestDispatchPing(t *testing.T) {
	rt := newTestRouter(t)
	resp := rt.dispatch(context.Background(), inbound{Type: "ping"}, nil, &http.Request{})
	m, ok := resp.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "confirm", m["type"])
}

func TestDispatchBalanceUnknownAddress(t *testing.T) {
	rt := newTestRouter(t)
	resp := rt.dispatch(context.Background(), inbound{Type: "balance", Address: "nobody"}, nil, &http.Request{})
	r, ok := resp.(core.Response)
	require.True(t, ok)
	require.Equal(t, "rejection", r.Type)
	require.Equal(t, core.ReasonAddressNonExistent, r.Reason)
}

func TestDispatchOpenEndToEnd(t *testing.T) {
	rt := newTestRouter(t)

	senderPriv, err := core.GenerateKeyPair()
	require.NoError(t, err)
	senderAddr, err := core.AddressFromPublicKey(&senderPriv.PublicKey)
	require.NoError(t, err)

	genesis := core.Block{Type: core.TypeGenesis, Address: senderAddr, ID: "00000000000000000001", Previous: core.ZeroPrevious, Balance: "100", Signature: core.GenesisSignature}
	require.NoError(t, rt.Store.Append(senderAddr, genesis))

	recipientPriv, err := core.GenerateKeyPair()
	require.NoError(t, err)
	recipientAddr, err := core.AddressFromPublicKey(&recipientPriv.PublicKey)
	require.NoError(t, err)

	send := core.Block{Type: core.TypeSend, Address: senderAddr, ID: "00000000000000000002", Previous: genesis.ID, Balance: "60", Link: recipientAddr}
	sendPayload, err := send.SigningPayload()
	require.NoError(t, err)
	sendSig, err := core.Sign(senderPriv, sendPayload)
	require.NoError(t, err)
	send.Signature = sendSig
	require.NoError(t, rt.Store.Append(senderAddr, send))

	open := core.Block{Type: core.TypeOpen, Address: recipientAddr, ID: "00000000000000000001", Previous: core.ZeroPrevious, Balance: "40", Link: core.SendLinkKey(senderAddr, send.ID)}
	openPayload, err := open.SigningPayload()
	require.NoError(t, err)
	openSig, err := core.Sign(recipientPriv, openPayload)
	require.NoError(t, err)
	open.Signature = openSig

	req := inbound{Type: "open", Address: recipientAddr, ID: open.ID, Previous: open.Previous, Balance: open.Balance, Link: open.Link, Signature: open.Signature}
	resp := rt.dispatch(context.Background(), req, nil, &http.Request{})
	r, ok := resp.(core.Response)
	require.True(t, ok)
	require.Equal(t, "confirm", r.Type)

	head, err := rt.Store.Head(recipientAddr)
	require.NoError(t, err)
	require.Equal(t, open.ID, head.ID)
}

func TestRemotePeerURL(t *testing.T) {
	r := &http.Request{RemoteAddr: "10.0.0.5:54321"}
	require.Equal(t, "ws://10.0.0.5:6969", remotePeerURL(r, "6969"))
}
