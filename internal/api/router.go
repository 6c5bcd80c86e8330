// Package api decodes one JSON frame per WebSocket message and
// dispatches it to the core components, persisting accepted blocks and
// fanning out vote/gossip traffic. The core itself never imports this
// package.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"latticed/core"
)

var apiLog = logrus.WithField("component", "api")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inbound mirrors every field any request type might carry; unused fields
// for a given `type` are simply ignored.
type inbound struct {
	Type      string `json:"type"`
	Address   string `json:"address"`
	ID        string `json:"id"`
	Previous  string `json:"previous"`
	Balance   string `json:"balance"`
	Link      string `json:"link"`
	Signature string `json:"signature"`
	Port      string `json:"port"`
	VoteID    string `json:"voteID"`
	Block     json.RawMessage `json:"block"`
}

// Router wires the external JSON protocol to the core components.
type Router struct {
	Store     *core.BlockStore
	Validator *core.ChainValidator
	State     *core.StateMachine
	Peers     *core.PeerRegistry
	Votes     *core.VotingCoordinator
	SelfPort  int
}

// ServeWS upgrades an HTTP connection and services JSON frames on it until
// the client disconnects.
func (rt *Router) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		apiLog.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var req inbound
		if err := conn.ReadJSON(&req); err != nil {
			apiLog.WithError(err).Debug("connection closed")
			return
		}
		resp := rt.dispatch(context.Background(), req, conn, r)
		if resp == nil {
			continue // e.g. watchForSends keeps the connection open for pushes
		}
		if err := conn.WriteJSON(resp); err != nil {
			apiLog.WithError(err).Debug("write failed, closing connection")
			return
		}
	}
}

func (rt *Router) dispatch(ctx context.Context, req inbound, conn *websocket.Conn, r *http.Request) interface{} {
	switch req.Type {
	case "ping":
		return map[string]string{"type": "confirm", "action": "ping"}

	case "balance":
		return rt.State.Balance(req.Address)

	case "send":
		blk := toBlock(req, core.TypeSend)
		resp := rt.State.Send(blk)
		rt.afterConfirm(resp, blk)
		return resp

	case "receive":
		blk := toBlock(req, core.TypeReceive)
		resp := rt.State.Receive(blk)
		rt.afterConfirm(resp, blk)
		return resp

	case "open":
		blk := toBlock(req, core.TypeOpen)
		resp := rt.State.OpenAccount(blk)
		rt.afterConfirm(resp, blk)
		return resp

	case "pendingSend":
		return rt.State.PendingSend(req.Address)

	case "getPrevious":
		return rt.State.GetPrevious(req.Address)

	case "registerNode":
		peerURL := remotePeerURL(r, req.Port)
		rt.Peers.AddInbound(peerURL, conn)
		return map[string]string{"type": "confirm", "action": "registerNode"}

	case "fetchNodes":
		return map[string]string{"type": "confirm", "action": "fetchNodes", "nodes": rt.Peers.FetchNodesList()}

	case "watchForSends":
		rt.Peers.WatchForSends(req.Address, conn)
		return map[string]string{"type": "confirm", "action": "watchForSends", "address": req.Address}

	case "vote":
		var blk core.Block
		_ = json.Unmarshal(req.Block, &blk)
		packet := core.VotePacket{Type: "vote", VoteID: req.VoteID, Block: blk, Address: req.Address, Signature: req.Signature}
		valid, round := rt.Votes.ReceiveVote(packet, 1.0)
		apiLog.WithField("voteID", req.VoteID).WithField("valid", valid).Debug("recorded incoming vote")
		if valid {
			go rt.relayVote(packet, round)
		}
		return map[string]string{"type": "confirm"}

	default:
		return map[string]string{"type": "rejection", "reason": string(core.ReasonUnknownRequest)}
	}
}

// relayVote forwards a received vote packet whose enclosed block validated
// here to every live peer, unchanged: it still carries the original
// voter's address and signature. This node does not create or sign a vote
// of its own for the block.
func (rt *Router) relayVote(packet core.VotePacket, round *core.VoteRound) {
	if round == nil {
		return
	}
	for _, peerURL := range rt.Peers.Live() {
		if err := rt.Peers.SendTo(peerURL, packet); err != nil {
			apiLog.WithError(err).WithField("peer", peerURL).Debug("vote gossip send failed")
		}
	}
}

// remotePeerURL builds the ws:// URL a registering peer is reachable at,
// from its connection's remote IP and the port it advertised.
func remotePeerURL(r *http.Request, port string) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return fmt.Sprintf("ws://%s:%s", host, port)
}

func toBlock(req inbound, t core.BlockType) core.Block {
	return core.Block{
		Type:      t,
		Address:   req.Address,
		ID:        req.ID,
		Previous:  req.Previous,
		Balance:   req.Balance,
		Link:      req.Link,
		Signature: req.Signature,
	}
}

// afterConfirm persists a freshly-confirmed block, hands it to the
// voting coordinator, and notifies send-subscribers. The state machine
// only validates; this is where a confirm becomes durable.
func (rt *Router) afterConfirm(resp interface{}, block core.Block) {
	r, ok := resp.(core.Response)
	if !ok || r.Type != "confirm" {
		return
	}
	if err := rt.Store.Append(block.Address, block); err != nil {
		apiLog.WithError(err).WithFields(logrus.Fields{"address": block.Address, "id": block.ID}).
			Error("confirm: persist failed")
		return
	}
	if block.Type == core.TypeSend {
		if amount, ok := rt.State.SendAmount(block); ok {
			rt.Peers.NotifySend(block.Link, amount, core.SendLinkKey(block.Address, block.ID))
		}
	}
	go func(b core.Block) {
		round, err := rt.Votes.Broadcast(b)
		if err != nil {
			apiLog.WithError(err).Warn("vote broadcast failed")
			return
		}
		outcome := core.AwaitOutcome(round, core.DefaultRoundTimeout)
		apiLog.WithField("outcome", outcome).WithField("id", b.ID).Debug("vote round resolved")
	}(block)
}
