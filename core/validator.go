package core

// ChainValidator implements the two validation entry points of the
// ledger: single-block validation against the live BlockStore (used by
// the StateMachine on each incoming request) and recursive whole-ledger
// re-verification (used once at cold start).

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var validatorLog = logrus.WithField("component", "validator")

// ChainValidator borrows read views from a BlockStore; it never mutates
// the store.
type ChainValidator struct {
	store *BlockStore
}

func NewChainValidator(store *BlockStore) *ChainValidator {
	return &ChainValidator{store: store}
}

// verifyBlockSignature verifies b's detached signature against its own
// Address, which doubles as the wire-form public key per the protocol.
func verifyBlockSignature(b Block) bool {
	if b.Type == TypeGenesis {
		return b.Signature == GenesisSignature
	}
	payload, err := b.SigningPayload()
	if err != nil {
		return false
	}
	return Verify(b.Address, payload, b.Signature)
}

// ValidateSend checks a proposed send block against the live head of its
// sender's chain.
func (v *ChainValidator) ValidateSend(b Block) RejectReason {
	head, err := v.store.Head(b.Address)
	if err != nil {
		return ReasonAddressNonExistent
	}
	if !verifyBlockSignature(b) {
		return ReasonSignature
	}
	if b.Previous != head.ID {
		return ReasonInvalidPrevious
	}
	headBal, err1 := parseBalance(head.Balance)
	newBal, err2 := parseBalance(b.Balance)
	if err1 != nil || err2 != nil {
		return ReasonInvalidBalance
	}
	if newBal.Cmp(headBal) >= 0 {
		return ReasonBalance
	}
	return ""
}

// ValidateReceive checks a proposed receive block: its own signature, the
// paired send's signature, no prior double-receive of the same link, chain
// continuity, and conservation of the transferred amount.
func (v *ChainValidator) ValidateReceive(b Block) RejectReason {
	if !verifyBlockSignature(b) {
		return ReasonSignature
	}
	send, sendPrev, reason := v.resolvePairedSend(b)
	if reason != "" {
		return reason
	}
	if v.linkConsumedElsewhere(b.Link, b.Address, b.ID) {
		return ReasonDoubleReceive
	}
	head, err := v.store.Head(b.Address)
	if err != nil {
		return ReasonAddressNonExistent
	}
	if b.Previous != head.ID {
		return ReasonInvalidPrevious
	}
	return v.checkConservation(b, head.Balance, send, sendPrev)
}

// ValidateOpen checks a proposed open block: its own signature, the paired
// send's signature, chain-root shape, no double-receive, and conservation
// (with the account's prior balance fixed at zero).
func (v *ChainValidator) ValidateOpen(b Block) RejectReason {
	if !verifyBlockSignature(b) {
		return ReasonSignature
	}
	if !b.IsChainRoot() {
		return ReasonInvalidPrevious
	}
	send, sendPrev, reason := v.resolvePairedSend(b)
	if reason != "" {
		return reason
	}
	if v.linkConsumedElsewhere(b.Link, b.Address, b.ID) {
		return ReasonDoubleReceive
	}
	return v.checkConservation(b, "0", send, sendPrev)
}

// resolvePairedSend resolves and signature-checks the send block a
// receive/open's Link points at, along with that send's own predecessor
// (needed to compute the transferred delta).
func (v *ChainValidator) resolvePairedSend(b Block) (send, sendPrev Block, reason RejectReason) {
	sendAddr, sendID, ok := b.LinkSource()
	if !ok {
		return Block{}, Block{}, ReasonInvalidBalance
	}
	send, err := v.store.Get(sendAddr, sendID)
	if err != nil {
		return Block{}, Block{}, ReasonInvalidBalance
	}
	if send.Type != TypeSend || !verifyBlockSignature(send) {
		return Block{}, Block{}, ReasonSendSignature
	}
	sendPrev, err = v.store.Get(send.Address, send.Previous)
	if err != nil {
		return Block{}, Block{}, ReasonInvalidBalance
	}
	return send, sendPrev, ""
}

// checkConservation verifies this.balance - prevBalance == sendPrev.balance
// - send.balance, i.e. Invariant 5.
func (v *ChainValidator) checkConservation(b Block, prevBalance string, send, sendPrev Block) RejectReason {
	prevBal, e1 := parseBalance(prevBalance)
	newBal, e2 := parseBalance(b.Balance)
	sendPrevBal, e3 := parseBalance(sendPrev.Balance)
	sendBal, e4 := parseBalance(send.Balance)
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		return ReasonInvalidBalance
	}
	got := balanceDelta(newBal, prevBal)
	want := balanceDelta(sendPrevBal, sendBal)
	if got.Cmp(want) != 0 {
		return ReasonInvalidBalance
	}
	return ""
}

// linkConsumedElsewhere reports whether any stored block in the whole
// ledger (other than block excludeID on excludeAddress's chain) already
// carries the given Link. A send is consumed by at most one receive/open
// across every account, not just the recipient's own chain.
func (v *ChainValidator) linkConsumedElsewhere(link, excludeAddress, excludeID string) bool {
	addresses, err := v.store.List()
	if err != nil {
		return false
	}
	for _, addr := range addresses {
		chain, err := v.store.Chain(addr)
		if err != nil {
			continue
		}
		for _, b := range chain {
			if addr == excludeAddress && b.ID == excludeID {
				continue
			}
			if b.Link == link && (b.Type == TypeReceive || b.Type == TypeOpen) {
				return true
			}
		}
	}
	return false
}

// --- Recursive whole-ledger verification ---

type chainStatus int

const (
	statusUnknown chainStatus = iota
	statusTrue
	statusFalse
)

type ledgerView map[string]map[string]Block // address -> id -> block

// usedKey is the (address, previous) sibling-fork guard.
type usedKey struct{ address, previous string }

// VerifyLedger re-verifies every block in the store from scratch, the way
// a node does once at cold start after bootstrap. It returns, for every
// address in the store, whether that address's chain is entirely valid.
func (v *ChainValidator) VerifyLedger() (map[string]bool, error) {
	addresses, err := v.store.List()
	if err != nil {
		return nil, fmt.Errorf("validator: list accounts: %w", err)
	}
	view := make(ledgerView, len(addresses))
	for _, addr := range addresses {
		chain, err := v.store.loadChain(addr)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]Block, len(chain))
		for _, b := range chain {
			byID[b.ID] = b
		}
		view[addr] = byID
	}

	status := make(map[string]map[string]chainStatus, len(view))
	for addr := range view {
		status[addr] = make(map[string]chainStatus)
	}
	used := make(map[usedKey]bool)

	result := make(map[string]bool, len(view))
	for addr, blocks := range view {
		ok := true
		for id := range blocks {
			if !verifyBlock(view, status, used, addr, id) {
				ok = false
			}
		}
		result[addr] = ok
	}
	return result, nil
}

// verifyBlock is the recursive verifier, one block at a time.
func verifyBlock(view ledgerView, status map[string]map[string]chainStatus, used map[usedKey]bool, address, id string) bool {
	if s, ok := status[address][id]; ok && s != statusUnknown {
		return s == statusTrue
	}
	b, ok := view[address][id]
	if !ok {
		status[address][id] = statusFalse
		return false
	}

	key := usedKey{address, b.Previous}
	if used[key] {
		validatorLog.WithFields(logrus.Fields{"address": address, "id": id}).
			Warn("sibling fork detected, rejecting")
		status[address][id] = statusFalse
		return false
	}

	if !verifyBlockSignature(b) {
		status[address][id] = statusFalse
		return false
	}

	ok = true
	switch b.Type {
	case TypeGenesis:
		if b.Signature != GenesisSignature {
			validatorLog.WithField("address", address).Warn("fake genesis rejected")
			ok = false
		}
	case TypeSend:
		prev, exists := view[address][b.Previous]
		if !exists {
			ok = false
			break
		}
		if !verifyBlock(view, status, used, address, b.Previous) {
			ok = false
			break
		}
		prevBal, e1 := parseBalance(prev.Balance)
		newBal, e2 := parseBalance(b.Balance)
		if e1 != nil || e2 != nil || newBal.Cmp(prevBal) >= 0 {
			ok = false
		}
	case TypeReceive, TypeOpen:
		ok = verifyReceiveOrOpen(view, status, used, address, b)
	default:
		ok = false
	}

	if ok {
		status[address][id] = statusTrue
		used[key] = true
	} else {
		status[address][id] = statusFalse
	}
	return ok
}

func verifyReceiveOrOpen(view ledgerView, status map[string]map[string]chainStatus, used map[usedKey]bool, address string, b Block) bool {
	sendAddr, sendID, ok := b.LinkSource()
	if !ok {
		return false
	}
	send, exists := view[sendAddr][sendID]
	if !exists || send.Type != TypeSend {
		return false
	}
	if !verifyBlock(view, status, used, sendAddr, sendID) {
		return false
	}
	sendPrev, exists := view[sendAddr][send.Previous]
	if !exists {
		return false
	}

	var prevBalance string
	if b.Type == TypeOpen {
		if !b.IsChainRoot() {
			return false
		}
		prevBalance = "0"
	} else {
		prev, exists := view[address][b.Previous]
		if !exists {
			return false
		}
		if !verifyBlock(view, status, used, address, b.Previous) {
			return false
		}
		prevBalance = prev.Balance
	}

	prevBal, e1 := parseBalance(prevBalance)
	newBal, e2 := parseBalance(b.Balance)
	sendPrevBal, e3 := parseBalance(sendPrev.Balance)
	sendBal, e4 := parseBalance(send.Balance)
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		return false
	}
	got := balanceDelta(newBal, prevBal)
	want := balanceDelta(sendPrevBal, sendBal)
	return got.Cmp(want) == 0
}
