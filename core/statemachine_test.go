package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "latticed/core"
)

func newTestStateMachine(t *testing.T) (*StateMachine, *BlockStore) {
	t.Helper()
	store, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)
	sm := NewStateMachine(store, NewChainValidator(store))
	return sm, store
}

func TestStateMachineSendIsPureNotPersisted(t *testing.T) {
	sm, store := newTestStateMachine(t)
	a := newTestAccount(t)
	g := openGenesisChain(t, store, a, "100")

	send := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "60", Link: "bob"})
	resp := sm.Send(send)
	require.Equal(t, "confirm", resp.Type)

	// Send validates but does not append; persistence is the router's job.
	head, err := store.Head(a.address)
	require.NoError(t, err)
	require.Equal(t, g.ID, head.ID)
}

func TestStateMachineSendRejectsOverdraft(t *testing.T) {
	sm, store := newTestStateMachine(t)
	a := newTestAccount(t)
	g := openGenesisChain(t, store, a, "100")

	send := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "150", Link: "bob"})
	resp := sm.Send(send)
	require.Equal(t, "rejection", resp.Type)
	require.Equal(t, ReasonBalance, resp.Reason)
}

func TestStateMachineBalanceUnknownAddress(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	resp := sm.Balance("nobody")
	require.Equal(t, "rejection", resp.Type)
	require.Equal(t, ReasonAddressNonExistent, resp.Reason)
}

func TestStateMachinePendingSendFindsUnclaimedSend(t *testing.T) {
	sm, store := newTestStateMachine(t)
	sender := newTestAccount(t)
	g := openGenesisChain(t, store, sender, "100")

	recipient := newTestAccount(t)
	send := signedBlock(t, sender, Block{Type: TypeSend, ID: sender.id(), Previous: g.ID, Balance: "60", Link: recipient.address})
	require.NoError(t, store.Append(sender.address, send))

	resp := sm.PendingSend(recipient.address)
	require.Equal(t, "pendingSend", resp.Type)
	require.Equal(t, SendLinkKey(sender.address, send.ID), resp.Link)
	require.Equal(t, "40", resp.SendAmount)
}

func TestStateMachinePendingSendIgnoresClaimedSend(t *testing.T) {
	sm, store := newTestStateMachine(t)
	sender := newTestAccount(t)
	g := openGenesisChain(t, store, sender, "100")

	recipient := newTestAccount(t)
	send := signedBlock(t, sender, Block{Type: TypeSend, ID: sender.id(), Previous: g.ID, Balance: "60", Link: recipient.address})
	require.NoError(t, store.Append(sender.address, send))

	open := signedBlock(t, recipient, Block{
		Type: TypeOpen, ID: recipient.id(), Previous: ZeroPrevious,
		Balance: "40", Link: SendLinkKey(sender.address, send.ID),
	})
	require.NoError(t, store.Append(recipient.address, open))

	resp := sm.PendingSend(recipient.address)
	require.Equal(t, "pendingSend", resp.Type)
	require.Empty(t, resp.Link)
}
