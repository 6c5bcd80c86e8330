package core

// StateMachine implements the pure request/response functions of the
// node: send/receive/open acceptance, balance lookup, pending-send
// discovery. Every method returns a JSON-shaped Response; the external
// request router (internal/api) decides whether to persist a confirm.

import (
	"github.com/sirupsen/logrus"
)

var stateLog = logrus.WithField("component", "statemachine")

type StateMachine struct {
	store     *BlockStore
	validator *ChainValidator
}

func NewStateMachine(store *BlockStore, validator *ChainValidator) *StateMachine {
	return &StateMachine{store: store, validator: validator}
}

// Balance returns the head balance of address, or addressNonExistent.
func (sm *StateMachine) Balance(address string) Response {
	head, err := sm.store.Head(address)
	if err != nil {
		return reject(ReasonAddressNonExistent)
	}
	return Response{Type: "info", Address: address, Balance: head.Balance}
}

// Send validates a proposed send block. It does not persist anything;
// the router decides whether to append once a block is confirmed.
func (sm *StateMachine) Send(b Block) Response {
	if reason := sm.validator.ValidateSend(b); reason != "" {
		stateLog.WithFields(logrus.Fields{"address": b.Address, "id": b.ID, "reason": reason}).
			Warn("send rejected")
		return Response{Type: "rejection", Address: b.Address, ID: b.ID, Reason: reason}
	}
	return Response{Type: "confirm", Address: b.Address, ID: b.ID}
}

// Receive validates a proposed receive block. Pure; see Send.
func (sm *StateMachine) Receive(b Block) Response {
	if reason := sm.validator.ValidateReceive(b); reason != "" {
		stateLog.WithFields(logrus.Fields{"address": b.Address, "id": b.ID, "reason": reason}).
			Warn("receive rejected")
		return Response{Type: "rejection", Address: b.Address, ID: b.ID, Reason: reason}
	}
	return Response{Type: "confirm", Address: b.Address, ID: b.ID}
}

// OpenAccount validates a proposed open block, the first block of a new
// chain (wire type "open"; named OpenAccount here since "Open" collides
// with the standard I/O verb). Pure; see Send.
func (sm *StateMachine) OpenAccount(b Block) Response {
	if reason := sm.validator.ValidateOpen(b); reason != "" {
		stateLog.WithFields(logrus.Fields{"address": b.Address, "id": b.ID, "reason": reason}).
			Warn("open rejected")
		return Response{Type: "rejection", Address: b.Address, ID: b.ID, Reason: reason}
	}
	return Response{Type: "confirm", Address: b.Address, ID: b.ID}
}

// PendingSend returns the first send whose recipient Link matches address
// and which has not yet been claimed by a receive/open on address's own
// chain. Returns an empty Response.Link/SendAmount when none is found.
func (sm *StateMachine) PendingSend(address string) Response {
	addresses, err := sm.store.List()
	if err != nil {
		return Response{Type: "pendingSend"}
	}

	received := make(map[string]bool)
	if chain, err := sm.store.Chain(address); err == nil {
		for _, b := range chain {
			if b.Type == TypeReceive || b.Type == TypeOpen {
				received[b.Link] = true
			}
		}
	}

	for _, acct := range addresses {
		chain, err := sm.store.Chain(acct)
		if err != nil {
			continue
		}
		for _, b := range chain {
			if b.Type != TypeSend || b.Link != address {
				continue
			}
			key := SendLinkKey(b.Address, b.ID)
			if received[key] {
				continue
			}
			amount, ok := sm.sendAmount(b)
			if !ok {
				continue
			}
			return Response{Type: "pendingSend", Link: key, SendAmount: amount}
		}
	}
	return Response{Type: "pendingSend"}
}

// SendAmount returns the transferred delta of a send block (its
// predecessor's balance minus its own), for sendAlert notifications.
func (sm *StateMachine) SendAmount(send Block) (string, bool) {
	return sm.sendAmount(send)
}

func (sm *StateMachine) sendAmount(send Block) (string, bool) {
	prev, err := sm.store.Get(send.Address, send.Previous)
	if err != nil {
		return "", false
	}
	prevBal, e1 := parseBalance(prev.Balance)
	sendBal, e2 := parseBalance(send.Balance)
	if e1 != nil || e2 != nil {
		return "", false
	}
	return formatBalance(balanceDelta(prevBal, sendBal)), true
}

// GetPrevious returns address's current head id (the "previous" value a
// new block submitted against this chain must carry).
func (sm *StateMachine) GetPrevious(address string) Response {
	head, err := sm.store.Head(address)
	if err != nil {
		return reject(ReasonAddressNonExistent)
	}
	return Response{Type: "previous", Address: address, Link: head.ID}
}
