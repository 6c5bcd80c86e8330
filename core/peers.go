package core

// PeerRegistry owns every outbound peer socket and the send-subscription
// table. Other components, VotingCoordinator and StateMachine included,
// route outbound peer traffic through here rather than holding sockets
// themselves.

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var peerLog = logrus.WithField("component", "peers")

// LivenessProbeTimeout bounds how long a bootstrap ping round-trip may
// take before the peer is considered unreachable.
const LivenessProbeTimeout = 3 * time.Second

// peerConn is one live outbound socket to a peer, guarded by its own mutex
// so writes are never interleaved (gorilla/websocket connections are not
// safe for concurrent writers).
type peerConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peerConn) send(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(v)
}

func (p *peerConn) recv(v interface{}) error {
	return p.conn.ReadJSON(v)
}

// PeerRegistry is the peer table (url -> live socket) plus the
// process-lifetime send-subscription cache.
type PeerRegistry struct {
	selfURL string

	mu    sync.RWMutex
	peers map[string]*peerConn

	subsMu sync.Mutex
	subs   map[string][]*websocket.Conn
}

func NewPeerRegistry(selfURL string) *PeerRegistry {
	return &PeerRegistry{
		selfURL: selfURL,
		peers:   make(map[string]*peerConn),
		subs:    make(map[string][]*websocket.Conn),
	}
}

// Register performs the connect/registerNode/fetchNodes handshake
// against peerURL, then recurses into any newly-discovered, non-self
// URL returned by fetchNodes.
func (r *PeerRegistry) Register(ctx context.Context, peerURL string, selfPort int) error {
	if r.isSelf(peerURL, selfPort) {
		return nil
	}
	r.mu.RLock()
	_, known := r.peers[peerURL]
	r.mu.RUnlock()
	if known {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: LivenessProbeTimeout}
	conn, _, err := dialer.DialContext(ctx, peerURL, nil)
	if err != nil {
		return fmt.Errorf("peers: dial %s: %w", peerURL, err)
	}
	pc := &peerConn{conn: conn}

	if err := pc.send(map[string]interface{}{"type": "registerNode", "port": fmt.Sprintf("%d", selfPort)}); err != nil {
		conn.Close()
		return fmt.Errorf("peers: registerNode %s: %w", peerURL, err)
	}
	var resp Response
	if err := pc.recv(&resp); err != nil || resp.Type != "confirm" {
		conn.Close()
		return fmt.Errorf("peers: %s refused registration", peerURL)
	}

	r.mu.Lock()
	r.peers[peerURL] = pc
	r.mu.Unlock()
	peerLog.WithField("peer", peerURL).Info("registered with peer")

	if err := pc.send(map[string]interface{}{"type": "fetchNodes"}); err != nil {
		peerLog.WithError(err).Warn("peers: fetchNodes request failed")
		return nil
	}
	var nodesResp Response
	if err := pc.recv(&nodesResp); err != nil {
		peerLog.WithError(err).Warn("peers: fetchNodes response failed")
		return nil
	}
	for _, candidate := range strings.Split(nodesResp.Nodes, "|") {
		if candidate == "" {
			continue
		}
		r.mu.RLock()
		_, known := r.peers[candidate]
		r.mu.RUnlock()
		if known || r.isSelf(candidate, selfPort) {
			continue
		}
		if err := r.Register(ctx, candidate, selfPort); err != nil {
			peerLog.WithError(err).WithField("peer", candidate).Warn("transitive registration failed")
		}
	}
	return nil
}

// isSelf compares the host of peerURL (as written, not DNS-resolved) against localhost,
// 127.0.0.1, and our own advertised URL, and requires matching ports
// too. Loopback/localhost comparisons are unreliable behind NAT, so
// this only guards against a node accidentally registering itself.
func (r *PeerRegistry) isSelf(peerURL string, selfPort int) bool {
	u, err := url.Parse(peerURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	port := u.Port()
	if port != fmt.Sprintf("%d", selfPort) {
		return false
	}
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	selfU, err := url.Parse(r.selfURL)
	if err == nil && selfU.Hostname() == host {
		return true
	}
	return false
}

// FetchNodesList renders the pipe-delimited peer list for a fetchNodes
// reply.
func (r *PeerRegistry) FetchNodesList() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for url := range r.peers {
		b.WriteString("|")
		b.WriteString(url)
	}
	return b.String()
}

// AddInbound registers a peer that connected to us first (after it sends
// registerNode), so it participates in future broadcasts/gossip too.
func (r *PeerRegistry) AddInbound(peerURL string, conn *websocket.Conn) {
	r.mu.Lock()
	r.peers[peerURL] = &peerConn{conn: conn}
	r.mu.Unlock()
}

// Live returns a snapshot of currently known peer URLs.
func (r *PeerRegistry) Live() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for u := range r.peers {
		out = append(out, u)
	}
	return out
}

// Ping checks liveness of a single peer within LivenessProbeTimeout,
// degrading (but not evicting) it on failure.
func (r *PeerRegistry) Ping(peerURL string) bool {
	r.mu.RLock()
	pc, ok := r.peers[peerURL]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	pc.conn.SetWriteDeadline(time.Now().Add(LivenessProbeTimeout))
	if err := pc.send(map[string]interface{}{"type": "ping"}); err != nil {
		peerLog.WithError(err).WithField("peer", peerURL).Warn("ping send failed, marking degraded for this round")
		return false
	}
	pc.conn.SetReadDeadline(time.Now().Add(LivenessProbeTimeout))
	var resp Response
	if err := pc.recv(&resp); err != nil || resp.Type != "confirm" {
		peerLog.WithField("peer", peerURL).Warn("ping reply missing or invalid, marking degraded for this round")
		return false
	}
	return true
}

// SendTo delivers an arbitrary frame to peerURL, used by VotingCoordinator
// to broadcast vote packets.
func (r *PeerRegistry) SendTo(peerURL string, frame interface{}) error {
	r.mu.RLock()
	pc, ok := r.peers[peerURL]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("peers: unknown peer %s", peerURL)
	}
	return pc.send(frame)
}

// AwaitAck blocks up to timeout for the next frame from peerURL and
// decodes it into resp.
func (r *PeerRegistry) AwaitAck(peerURL string, timeout time.Duration, resp *Response) error {
	r.mu.RLock()
	pc, ok := r.peers[peerURL]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("peers: unknown peer %s", peerURL)
	}
	pc.conn.SetReadDeadline(time.Now().Add(timeout))
	return pc.recv(resp)
}

// WatchForSends registers conn to receive a sendAlert frame whenever a
// send block lands with Link == address.
func (r *PeerRegistry) WatchForSends(address string, conn *websocket.Conn) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	r.subs[address] = append(r.subs[address], conn)
}

// NotifySend pushes a sendAlert frame to every subscriber of address.
// Connections that error on write (closed by the client) are silently
// dropped from the subscription list.
func (r *PeerRegistry) NotifySend(address string, amount, link string) {
	r.subsMu.Lock()
	conns := append([]*websocket.Conn(nil), r.subs[address]...)
	r.subsMu.Unlock()

	frame := map[string]string{
		"type":       "sendAlert",
		"address":    address,
		"sendAmount": amount,
		"link":       link,
	}
	var live []*websocket.Conn
	for _, conn := range conns {
		if err := conn.WriteJSON(frame); err != nil {
			peerLog.WithField("address", address).Debug("dropping closed sendAlert subscriber")
			continue
		}
		live = append(live, conn)
	}

	r.subsMu.Lock()
	r.subs[address] = live
	r.subsMu.Unlock()
}
