package p2p

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Misbehavior penalties. A peer reaching BanThreshold is banned and its
// connection dropped.
const (
	BanThreshold = 100

	PenaltyInvalidBlock = 20
	PenaltyInvalidTx    = 10
	PenaltyMalformed    = 100 // instant ban
)

// maxFailedAttempts is the dial-failure count past which a peer is no
// longer offered by GetPeersToConnect.
const maxFailedAttempts = 5

// PeerState tracks where a peer sits in the connection lifecycle.
type PeerState int

const (
	StateDisconnected PeerState = iota
	StateConnecting
	StateConnected
	StateBanned
)

func (s PeerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// PeerInfo is the manager's record for one peer address.
type PeerInfo struct {
	Addr             string
	State            PeerState
	LastSeen         time.Time
	FailedAttempts   int
	BestHeight       uint64
	Version          uint32
	MisbehaviorScore int

	// peer enqueues outbound messages while Connected; nil otherwise.
	// Writes go through Peer.Send, which drops rather than blocks when the
	// peer's bounded queue is full.
	peer *Peer
}

// Manager owns the address-keyed connection table: state transitions,
// misbehavior scoring, and outbound fan-out across every connected peer.
type Manager struct {
	mu             sync.Mutex
	peers          map[string]*PeerInfo
	maxConnections int
	logger         zerolog.Logger
}

// NewManager creates a Manager bounded to maxConnections concurrent
// connected peers.
func NewManager(maxConnections int, logger zerolog.Logger) *Manager {
	if maxConnections <= 0 {
		maxConnections = 50
	}
	return &Manager{
		peers:          make(map[string]*PeerInfo),
		maxConnections: maxConnections,
		logger:         logger,
	}
}

// AddAddress records a peer address if it is new. Known addresses keep
// their existing state (a banned peer does not become dialable again by
// being re-announced).
func (m *Manager) AddAddress(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[addr]; ok {
		return
	}
	m.peers[addr] = &PeerInfo{Addr: addr, State: StateDisconnected}
}

// MarkConnecting transitions addr to Connecting, registering it first if
// unknown. Returns false for banned peers.
func (m *Manager) MarkConnecting(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.ensureLocked(addr)
	if info.State == StateBanned {
		return false
	}
	info.State = StateConnecting
	return true
}

// MarkConnected transitions addr to Connected and attaches its peer for
// outbound sends. Returns false for banned peers — the caller must drop
// the connection.
func (m *Manager) MarkConnected(addr string, p *Peer, version uint32, bestHeight uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.ensureLocked(addr)
	if info.State == StateBanned {
		return false
	}
	info.State = StateConnected
	info.peer = p
	info.Version = version
	info.BestHeight = bestHeight
	info.LastSeen = time.Now()
	info.FailedAttempts = 0
	return true
}

// MarkDisconnected records a connection teardown. Banned peers stay banned.
func (m *Manager) MarkDisconnected(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.peers[addr]
	if !ok {
		return
	}
	info.peer = nil
	if info.State != StateBanned {
		info.State = StateDisconnected
	}
}

// MarkFailed records a failed dial attempt.
func (m *Manager) MarkFailed(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.peers[addr]
	if !ok {
		return
	}
	info.FailedAttempts++
	if info.State != StateBanned {
		info.State = StateDisconnected
	}
}

// UpdateBestHeight records a peer's advertised chain height.
func (m *Manager) UpdateBestHeight(addr string, height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.peers[addr]; ok {
		info.BestHeight = height
		info.LastSeen = time.Now()
	}
}

// TouchLastSeen refreshes a peer's liveness timestamp.
func (m *Manager) TouchLastSeen(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.peers[addr]; ok {
		info.LastSeen = time.Now()
	}
}

// RecordMisbehavior adds penalty to addr's score. Crossing BanThreshold
// bans the peer and closes its connection. Returns true if the peer is now
// banned.
func (m *Manager) RecordMisbehavior(addr string, penalty int, reason string) bool {
	m.mu.Lock()
	info := m.ensureLocked(addr)
	info.MisbehaviorScore += penalty
	banned := info.MisbehaviorScore >= BanThreshold
	var p *Peer
	if banned {
		info.State = StateBanned
		p = info.peer
		info.peer = nil
	}
	score := info.MisbehaviorScore
	m.mu.Unlock()

	if banned {
		m.logger.Warn().Str("peer", addr).Str("reason", reason).Int("score", score).Msg("peer banned")
		if p != nil {
			p.Close()
		}
	} else {
		m.logger.Debug().Str("peer", addr).Str("reason", reason).Int("score", score).Msg("peer misbehavior recorded")
	}
	return banned
}

// IsBanned reports whether addr is banned.
func (m *Manager) IsBanned(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.peers[addr]
	return ok && info.State == StateBanned
}

// ConnectedCount returns the number of peers currently Connected.
func (m *Manager) ConnectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedLocked()
}

func (m *Manager) connectedLocked() int {
	n := 0
	for _, info := range m.peers {
		if info.State == StateConnected {
			n++
		}
	}
	return n
}

// GetPeersToConnect returns up to min(n, maxConnections − connected)
// disconnected, non-banned addresses with fewer than maxFailedAttempts
// dial failures.
func (m *Manager) GetPeersToConnect(n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := m.maxConnections - m.connectedLocked()
	if n > slots {
		n = slots
	}
	if n <= 0 {
		return nil
	}

	out := make([]string, 0, n)
	for _, info := range m.peers {
		if len(out) >= n {
			break
		}
		if info.State == StateDisconnected && info.FailedAttempts < maxFailedAttempts {
			out = append(out, info.Addr)
		}
	}
	return out
}

// KnownAddresses returns up to limit non-banned addresses (all of them when
// limit <= 0), for answering GetAddr.
func (m *Manager) KnownAddresses(limit int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for _, info := range m.peers {
		if info.State == StateBanned {
			continue
		}
		out = append(out, info.Addr)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// BestPeerHeight returns the highest height any connected peer has
// advertised.
func (m *Manager) BestPeerHeight() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best uint64
	for _, info := range m.peers {
		if info.State == StateConnected && info.BestHeight > best {
			best = info.BestHeight
		}
	}
	return best
}

// Broadcast enqueues msg to every connected peer except the one named by
// except (pass "" to reach all). Enqueueing never blocks: a slow peer with
// a full queue simply misses the message.
func (m *Manager) Broadcast(msg Message, except string) {
	m.mu.Lock()
	targets := make([]*Peer, 0, len(m.peers))
	for addr, info := range m.peers {
		if info.State == StateConnected && info.peer != nil && addr != except {
			targets = append(targets, info.peer)
		}
	}
	m.mu.Unlock()

	for _, p := range targets {
		p.Send(msg)
	}
}

// ensureLocked returns the record for addr, creating it if missing. Caller
// holds mu.
func (m *Manager) ensureLocked(addr string) *PeerInfo {
	info, ok := m.peers[addr]
	if !ok {
		info = &PeerInfo{Addr: addr, State: StateDisconnected}
		m.peers[addr] = info
	}
	return info
}
