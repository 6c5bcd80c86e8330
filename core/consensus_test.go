package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "latticed/core"
)

func TestReceiveVoteConfirmsOnValidBlock(t *testing.T) {
	store, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)
	validator := NewChainValidator(store)

	self := newTestAccount(t)
	peers := NewPeerRegistry("ws://127.0.0.1:1")
	vc := NewVotingCoordinator(self.priv, self.address, peers, validator)

	a := newTestAccount(t)
	g := openGenesisChain(t, store, a, "100")
	send := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "60", Link: "bob"})

	voter := newTestAccount(t)
	packet := VotePacket{Type: "vote", VoteID: "v1", Block: send, Address: voter.address}

	valid, round := vc.ReceiveVote(packet, 1.0)
	require.True(t, valid)
	require.Equal(t, "confirmed", round.Outcome())
}

func TestReceiveVoteRejectsOnInvalidBlock(t *testing.T) {
	store, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)
	validator := NewChainValidator(store)

	self := newTestAccount(t)
	peers := NewPeerRegistry("ws://127.0.0.1:1")
	vc := NewVotingCoordinator(self.priv, self.address, peers, validator)

	a := newTestAccount(t)
	g := openGenesisChain(t, store, a, "100")
	// balance does not decrease: invalid send
	bad := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "100", Link: "bob"})

	voter := newTestAccount(t)
	packet := VotePacket{Type: "vote", VoteID: "v2", Block: bad, Address: voter.address}

	valid, round := vc.ReceiveVote(packet, 1.0)
	require.False(t, valid)
	require.Equal(t, "rejected", round.Outcome())
}

func TestAwaitOutcomeTimesOutToAbandoned(t *testing.T) {
	store, err := NewBlockStore(t.TempDir())
	require.NoError(t, err)
	validator := NewChainValidator(store)
	self := newTestAccount(t)
	peers := NewPeerRegistry("ws://127.0.0.1:1")
	vc := NewVotingCoordinator(self.priv, self.address, peers, validator)

	a := newTestAccount(t)
	g := openGenesisChain(t, store, a, "100")
	send := signedBlock(t, a, Block{Type: TypeSend, ID: a.id(), Previous: g.ID, Balance: "60", Link: "bob"})

	// A single low-weight vote never crosses the 0.65 threshold alone.
	voter := newTestAccount(t)
	_, round := vc.ReceiveVote(VotePacket{Type: "vote", VoteID: "v3", Block: send, Address: voter.address}, 0.1)

	outcome := AwaitOutcome(round, 20*time.Millisecond)
	require.Equal(t, "abandoned", outcome)
}
