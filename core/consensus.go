package core

// VotingCoordinator broadcasts a locally confirmed block to the live
// peer set, tallying signed weights per voteID until a weighted quorum
// is crossed or the round times out.

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var voteLog = logrus.WithField("component", "consensus")

// ConsensusPercent is the fraction of live-peer weight a vote must cross,
// in either direction, to resolve.
const ConsensusPercent = 0.65

// VoteAckTimeout bounds how long a peer has to ack a vote packet.
const VoteAckTimeout = 5 * time.Second

// DefaultRoundTimeout is the round lifetime used when no gossip-diameter
// estimate is available; it must be at least the vote-ack timeout.
const DefaultRoundTimeout = 10 * time.Second

// VotePacket is the wire shape of a `type:vote` frame.
type VotePacket struct {
	Type      string `json:"type"`
	VoteID    string `json:"voteID"`
	Block     Block  `json:"block"`
	Address   string `json:"address"`
	Signature string `json:"signature,omitempty"`
}

// VoteRound is a single proposed block's weighted tally, keyed by voteID.
type VoteRound struct {
	VoteID    string
	Subject   Block
	Threshold float64

	mu      sync.Mutex
	tallies map[string]float64 // peer address -> signed weight
	done    chan struct{}
	outcome string // "confirmed" | "rejected" | "abandoned"
}

func newVoteRound(id string, subject Block, threshold float64) *VoteRound {
	return &VoteRound{
		VoteID:    id,
		Subject:   subject,
		Threshold: threshold,
		tallies:   make(map[string]float64),
		done:      make(chan struct{}),
	}
}

// record adds signed weight from voter, resolving the round if the signed
// sum crosses +/- Threshold. Returns true if this call resolved the round.
func (vr *VoteRound) record(voter string, signedWeight float64) bool {
	vr.mu.Lock()
	defer vr.mu.Unlock()
	if vr.outcome != "" {
		return false
	}
	vr.tallies[voter] = signedWeight
	var sum float64
	for _, w := range vr.tallies {
		sum += w
	}
	switch {
	case sum >= vr.Threshold:
		vr.outcome = "confirmed"
	case sum <= -vr.Threshold:
		vr.outcome = "rejected"
	default:
		return false
	}
	close(vr.done)
	return true
}

func (vr *VoteRound) Outcome() string {
	vr.mu.Lock()
	defer vr.mu.Unlock()
	return vr.outcome
}

// VotingCoordinator owns every active VoteRound.
type VotingCoordinator struct {
	priv      *ecdsa.PrivateKey
	self      string // our own address/pubkey-wire, used as the vote sender
	peers     *PeerRegistry
	validator *ChainValidator

	weight func(peerURL string) float64 // hook for future staking policies

	mu     sync.Mutex
	rounds map[string]*VoteRound
}

func NewVotingCoordinator(priv *ecdsa.PrivateKey, self string, peers *PeerRegistry, validator *ChainValidator) *VotingCoordinator {
	return &VotingCoordinator{
		priv:      priv,
		self:      self,
		peers:     peers,
		validator: validator,
		weight:    func(string) float64 { return 1.0 }, // uniform default until a weight table is configured
		rounds:    make(map[string]*VoteRound),
	}
}

// SetWeightFunc overrides the default uniform peer weight.
func (vc *VotingCoordinator) SetWeightFunc(f func(peerURL string) float64) {
	vc.weight = f
}

// generateVoteID produces a 20-digit zero-padded decimal id.
func generateVoteID() (string, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%020s", n.String()), nil
}

// Broadcast generates a voteID, pings every known peer to build the
// live set L, computes the weighted threshold, signs and sends the vote
// packet to L, and awaits each peer's ack within VoteAckTimeout (logging,
// not retrying, on timeout).
func (vc *VotingCoordinator) Broadcast(block Block) (*VoteRound, error) {
	voteID, err := generateVoteID()
	if err != nil {
		return nil, fmt.Errorf("consensus: generate voteID: %w", err)
	}

	var live []string
	var totalWeight float64
	for _, p := range vc.peers.Live() {
		if vc.peers.Ping(p) {
			live = append(live, p)
			totalWeight += vc.weight(p)
		}
	}

	threshold := ConsensusPercent * totalWeight
	round := newVoteRound(voteID, block, threshold)
	vc.mu.Lock()
	vc.rounds[voteID] = round
	vc.mu.Unlock()

	packet := VotePacket{Type: "vote", VoteID: voteID, Block: block, Address: vc.self}
	payload, err := canonicalJSON(struct {
		Type    string `json:"type"`
		VoteID  string `json:"voteID"`
		Block   Block  `json:"block"`
		Address string `json:"address"`
	}{packet.Type, packet.VoteID, packet.Block, packet.Address})
	if err != nil {
		return round, fmt.Errorf("consensus: encode vote packet: %w", err)
	}
	sig, err := Sign(vc.priv, payload)
	if err != nil {
		return round, fmt.Errorf("consensus: sign vote packet: %w", err)
	}
	packet.Signature = sig

	for _, peerURL := range live {
		if err := vc.peers.SendTo(peerURL, packet); err != nil {
			voteLog.WithError(err).WithField("peer", peerURL).Warn("vote send failed")
			continue
		}
		var resp Response
		if err := vc.peers.AwaitAck(peerURL, VoteAckTimeout, &resp); err != nil {
			voteLog.WithField("peer", peerURL).Warn("vote ack timed out, not retrying")
			continue
		}
	}
	return round, nil
}

// ReceiveVote validates the enclosed block independently, never trusting
// the outer packet signature alone, records a positive or negative tally
// in its own VoteRound for packet.VoteID, and reports whether the
// enclosed block looks valid so the caller can decide whether to gossip
// its own vote onward.
func (vc *VotingCoordinator) ReceiveVote(packet VotePacket, weight float64) (valid bool, round *VoteRound) {
	if !vc.verifyOuterSignature(packet) {
		voteLog.WithField("voteID", packet.VoteID).Warn("vote packet outer signature invalid (not fatal to the tally)")
	}

	valid = vc.validateEnclosedBlock(packet.Block)

	vc.mu.Lock()
	round, ok := vc.rounds[packet.VoteID]
	if !ok {
		round = newVoteRound(packet.VoteID, packet.Block, ConsensusPercent)
		vc.rounds[packet.VoteID] = round
	}
	vc.mu.Unlock()

	signed := weight
	if !valid {
		signed = -weight
	}
	round.record(packet.Address, signed)
	return valid, round
}

func (vc *VotingCoordinator) verifyOuterSignature(packet VotePacket) bool {
	payload, err := canonicalJSON(struct {
		Type    string `json:"type"`
		VoteID  string `json:"voteID"`
		Block   Block  `json:"block"`
		Address string `json:"address"`
	}{packet.Type, packet.VoteID, packet.Block, packet.Address})
	if err != nil {
		return false
	}
	return Verify(packet.Address, payload, packet.Signature)
}

func (vc *VotingCoordinator) validateEnclosedBlock(b Block) bool {
	switch b.Type {
	case TypeSend:
		return vc.validator.ValidateSend(b) == ""
	case TypeReceive:
		return vc.validator.ValidateReceive(b) == ""
	case TypeOpen:
		return vc.validator.ValidateOpen(b) == ""
	default:
		return false
	}
}

// Round returns the active or resolved round for voteID, if any.
func (vc *VotingCoordinator) Round(voteID string) (*VoteRound, bool) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	r, ok := vc.rounds[voteID]
	return r, ok
}

// AwaitOutcome blocks until round resolves or timeout elapses, returning
// "abandoned" on timeout.
func AwaitOutcome(round *VoteRound, timeout time.Duration) string {
	select {
	case <-round.done:
		return round.Outcome()
	case <-time.After(timeout):
		round.mu.Lock()
		if round.outcome == "" {
			round.outcome = "abandoned"
		}
		outcome := round.outcome
		round.mu.Unlock()
		return outcome
	}
}
