// Package core implements the block-lattice ledger: per-account chains,
// signature verification, consensus voting, and peer gossip.
package core

import (
	"fmt"
	"strings"
)

// BlockType discriminates the four block variants sharing the common
// Block header.
type BlockType string

const (
	TypeGenesis BlockType = "genesis"
	TypeOpen    BlockType = "open"
	TypeSend    BlockType = "send"
	TypeReceive BlockType = "receive"
)

// ZeroPrevious is the sentinel previous-id for the first block of a chain.
const ZeroPrevious = "00000000000000000000"

// GenesisSignature is the protocol-fixed canonical signature carried by the
// single legitimate genesis block (G0 in spec terms). Any genesis-typed
// block whose signature differs is forgery.
const GenesisSignature = "0xc9052f33ef7690bf24171ec5c4f506caeee1ab88419dc6abc0644e6033f6c526ccff87f6bc8096b0463e38e3221c054b88938408fbaada4a6148d46d38daa52b"

// Block is the only on-ledger entity. Variants are distinguished by Type;
// Link carries different semantics per variant (see LinkSource/SendLinkKey).
type Block struct {
	Type      BlockType `json:"type"`
	Address   string    `json:"address"`
	ID        string    `json:"id"`
	Previous  string    `json:"previous"`
	Balance   string    `json:"balance"`
	Link      string    `json:"link"`
	Signature string    `json:"signature,omitempty"`
}

// SigningPayload returns the canonical bytes signed/verified for this
// block: the block serialized with Signature omitted.
func (b Block) SigningPayload() ([]byte, error) {
	cp := b
	cp.Signature = ""
	return canonicalJSON(cp)
}

// IsChainRoot reports whether this block is the first of its chain.
func (b Block) IsChainRoot() bool {
	return b.Previous == ZeroPrevious
}

// LinkSource splits a receive/open Link of the form "address/id" into its
// parts. Returns ok=false if Link is not in that shape.
func (b Block) LinkSource() (address, id string, ok bool) {
	i := strings.LastIndex(b.Link, "/")
	if i <= 0 || i == len(b.Link)-1 {
		return "", "", false
	}
	return b.Link[:i], b.Link[i+1:], true
}

// SendLinkKey formats the Link value a receive/open block must carry to
// claim the given send.
func SendLinkKey(sendAddress, sendID string) string {
	return fmt.Sprintf("%s/%s", sendAddress, sendID)
}

// Peer is a known node in the gossip network.
type Peer struct {
	URL    string
	Weight float64
}

// RejectReason is the closed set of rejection tags the state machine may
// emit.
type RejectReason string

const (
	ReasonAddressNonExistent RejectReason = "addressNonExistent"
	ReasonSignature          RejectReason = "signature"
	ReasonSendSignature      RejectReason = "sendSignature"
	ReasonInvalidBalance     RejectReason = "invalidBalance"
	ReasonInvalidPrevious    RejectReason = "invalidPrevious"
	ReasonBalance            RejectReason = "balance"
	ReasonDoubleReceive      RejectReason = "doubleReceive"
	ReasonUnknownRequest     RejectReason = "unknown request"
)

// Response is the JSON-shaped reply of every StateMachine operation.
type Response struct {
	Type       string       `json:"type"`
	Action     string       `json:"action,omitempty"`
	Address    string       `json:"address,omitempty"`
	ID         string       `json:"id,omitempty"`
	Balance    string       `json:"balance,omitempty"`
	Link       string       `json:"link,omitempty"`
	SendAmount string       `json:"sendAmount,omitempty"`
	Nodes      string       `json:"nodes,omitempty"`
	Reason     RejectReason `json:"reason,omitempty"`
}

func confirm() Response { return Response{Type: "confirm"} }

func reject(reason RejectReason) Response {
	return Response{Type: "rejection", Reason: reason}
}
