package p2p

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ranjeet-h/roho-rh-blockchain/internal/chain"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// MaxBlocksPerInv caps the inventory answered to one getblocks.
	MaxBlocksPerInv = 500

	// MaxHeadersPerMsg caps the headers answered to one getheaders.
	MaxHeadersPerMsg = 2000

	connectInterval = 15 * time.Second
	pingInterval    = 2 * time.Minute

	// versionNonceTTL is how long a generated handshake nonce is remembered
	// for self-connection detection.
	versionNonceTTL = 5 * time.Minute
)

// ChainAccess is the slice of the chain-state engine the peer loop drives.
// *chain.Chain satisfies it; tests may substitute their own.
type ChainAccess interface {
	Height() uint64
	TipHash() types.Hash
	HasBlock(hash types.Hash) bool
	GetBlock(hash types.Hash) (*block.Block, error)
	GetIndexEntry(hash types.Hash) (*chain.IndexEntry, error)
	GetHeightHash(height uint64) (types.Hash, error)
	ApplyBlock(blk *block.Block) error
	IndexBlock(blk *block.Block) error
	Reorganize(targetHash types.Hash) error
}

// TxPool is the mempool surface the peer loop needs for relay.
type TxPool interface {
	Add(transaction *tx.Transaction) (uint64, error)
	Has(hash types.Hash) bool
	Get(hash types.Hash) *tx.Transaction
}

// MinerControl interrupts an in-flight proof-of-work search when a peer
// delivers a block that changes the tip.
type MinerControl interface {
	Stop()
}

// Config holds the node's network settings.
type Config struct {
	ListenAddr string // "host:port"; empty disables listening
	Seeds      []string
	MaxPeers   int
}

// Node ties the pieces together: it owns the listener, the dial loop, the
// peer manager, and the per-message state machine every peer connection
// feeds.
type Node struct {
	cfg    Config
	chain  ChainAccess
	pool   TxPool
	miner  MinerControl // may be nil when not mining
	mgr    *Manager
	logger zerolog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	nonceMu  sync.Mutex
	ownNonce map[uint64]time.Time
}

// NewNode creates a Node. miner may be nil.
func NewNode(cfg Config, chainState ChainAccess, pool TxPool, miner MinerControl, logger zerolog.Logger) *Node {
	return &Node{
		cfg:      cfg,
		chain:    chainState,
		pool:     pool,
		miner:    miner,
		mgr:      NewManager(cfg.MaxPeers, logger),
		logger:   logger,
		ownNonce: make(map[uint64]time.Time),
	}
}

// Manager exposes the peer table for callers that report or broadcast.
func (n *Node) Manager() *Manager { return n.mgr }

// Start begins listening (when configured), seeds the address table, and
// launches the dial and ping loops. It returns once the listener is bound;
// the loops run until Stop.
func (n *Node) Start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	for _, seed := range n.cfg.Seeds {
		n.mgr.AddAddress(seed)
	}

	if n.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", n.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("p2p listen on %s: %w", n.cfg.ListenAddr, err)
		}
		n.listener = ln
		n.logger.Info().Str("addr", ln.Addr().String()).Msg("p2p listening")
		n.wg.Add(1)
		go n.acceptLoop()
	}

	n.wg.Add(2)
	go n.connectLoop()
	go n.pingLoop()
	return nil
}

// Stop closes the listener and every connection, then waits for the loops
// to drain.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	if n.listener != nil {
		n.listener.Close()
	}
	n.mgr.mu.Lock()
	for _, info := range n.mgr.peers {
		if info.peer != nil {
			info.peer.Close()
		}
	}
	n.mgr.mu.Unlock()
	n.wg.Wait()
}

// ListenAddr returns the bound listener address, or "".
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if n.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			n.logger.Debug().Err(err).Msg("accept failed")
			continue
		}
		addr := conn.RemoteAddr().String()
		if n.mgr.IsBanned(addr) {
			conn.Close()
			continue
		}
		if n.mgr.ConnectedCount() >= n.cfg.MaxPeers {
			conn.Close()
			continue
		}
		n.startPeer(addr, conn, true)
	}
}

func (n *Node) connectLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(connectInterval)
	defer ticker.Stop()

	n.dialPending()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.dialPending()
			n.expireNonces()
		}
	}
}

func (n *Node) dialPending() {
	for _, addr := range n.mgr.GetPeersToConnect(8) {
		if !n.mgr.MarkConnecting(addr) {
			continue
		}
		n.wg.Add(1)
		go func(addr string) {
			defer n.wg.Done()
			conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
			if err != nil {
				n.logger.Debug().Str("peer", addr).Err(err).Msg("dial failed")
				n.mgr.MarkFailed(addr)
				return
			}
			n.startPeer(addr, conn, false)
		}(addr)
	}
}

func (n *Node) pingLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.mgr.Broadcast(&Ping{Nonce: randomNonce()}, "")
		}
	}
}

// startPeer registers the connection and begins the handshake by sending
// our Version, per the state machine's connect step.
func (n *Node) startPeer(addr string, conn net.Conn, inbound bool) {
	p := newPeer(addr, conn, inbound, n)
	n.mgr.AddAddress(addr)
	p.Send(n.buildVersion())

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		p.run()
	}()
}

func (n *Node) buildVersion() *Version {
	nonce := randomNonce()
	n.nonceMu.Lock()
	n.ownNonce[nonce] = time.Now()
	n.nonceMu.Unlock()
	return &Version{
		Version:    ProtocolVersion,
		Nonce:      nonce,
		BestHeight: n.chain.Height(),
		Timestamp:  uint64(time.Now().Unix()),
	}
}

func (n *Node) isOwnNonce(nonce uint64) bool {
	n.nonceMu.Lock()
	defer n.nonceMu.Unlock()
	t, ok := n.ownNonce[nonce]
	return ok && time.Since(t) < versionNonceTTL
}

func (n *Node) expireNonces() {
	n.nonceMu.Lock()
	defer n.nonceMu.Unlock()
	for nonce, t := range n.ownNonce {
		if time.Since(t) >= versionNonceTTL {
			delete(n.ownNonce, nonce)
		}
	}
}

func randomNonce() uint64 {
	var b [8]byte
	rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// handleMessage drives the per-peer state machine for one inbound message.
func (n *Node) handleMessage(p *Peer, msg Message) error {
	// Everything except the handshake itself requires the peer to have
	// introduced itself with a Version first.
	switch msg.(type) {
	case *Version, *VerAck, *Reject:
	default:
		if !p.versionReceived() {
			n.mgr.RecordMisbehavior(p.addr, PenaltyInvalidTx, fmt.Sprintf("%s before version", msg.Type()))
			return fmt.Errorf("%w: %s before version", chainerr.ErrPeerProtocolViolation, msg.Type())
		}
	}

	switch m := msg.(type) {
	case *Version:
		return n.handleVersion(p, m)
	case *VerAck:
		if p.markVerAckReceived() {
			n.logger.Debug().Str("peer", p.addr).Msg("handshake complete")
		}
		return nil
	case *Ping:
		p.Send(&Pong{Nonce: m.Nonce})
		return nil
	case *Pong:
		n.mgr.TouchLastSeen(p.addr)
		return nil
	case *GetAddr:
		p.Send(&Addr{Addrs: n.mgr.KnownAddresses(MaxBlocksPerInv)})
		return nil
	case *Addr:
		for _, a := range m.Addrs {
			n.mgr.AddAddress(a)
		}
		return nil
	case *Inv:
		return n.handleInv(p, m)
	case *GetData:
		return n.handleGetData(p, m)
	case *BlockMsg:
		if m.Block == nil {
			n.mgr.RecordMisbehavior(p.addr, PenaltyMalformed, "nil block body")
			return chainerr.ErrPeerMalformedMessage
		}
		return n.handleBlock(p, m.Block)
	case *TxMsg:
		if m.Tx == nil {
			n.mgr.RecordMisbehavior(p.addr, PenaltyMalformed, "nil tx body")
			return chainerr.ErrPeerMalformedMessage
		}
		return n.handleTx(p, m.Tx)
	case *GetBlocks:
		return n.handleGetBlocks(p, m)
	case *GetHeaders:
		return n.handleGetHeaders(p, m)
	case *Reject:
		n.logger.Debug().Str("peer", p.addr).Str("rejected", m.Rejected.String()).Str("reason", m.Reason).Msg("peer rejected our message")
		return nil
	default:
		return fmt.Errorf("%w: unhandled message %s", chainerr.ErrPeerProtocolViolation, msg.Type())
	}
}

func (n *Node) handleVersion(p *Peer, m *Version) error {
	if n.isOwnNonce(m.Nonce) {
		n.logger.Debug().Str("peer", p.addr).Msg("self-connection detected, dropping")
		p.Close()
		return nil
	}

	p.markVersionReceived()
	if !n.mgr.MarkConnected(p.addr, p, m.Version, m.BestHeight) {
		p.Close()
		return nil
	}
	p.Send(&VerAck{})
	n.logger.Info().Str("peer", p.addr).Uint64("best_height", m.BestHeight).Bool("inbound", p.inbound).Msg("peer connected")

	// If the peer is ahead, start syncing from our tip.
	if m.BestHeight > n.chain.Height() {
		locators, err := BuildBlockLocator(n.chain, n.chain.Height())
		if err != nil {
			return fmt.Errorf("build locator: %w", err)
		}
		p.Send(&GetBlocks{Locators: locators})
	}
	return nil
}

func (n *Node) handleInv(p *Peer, m *Inv) error {
	var want []InvItem
	for _, it := range m.Items {
		switch it.Type {
		case InvBlock:
			if !n.chain.HasBlock(it.Hash) {
				want = append(want, it)
			}
		case InvTx:
			if !n.pool.Has(it.Hash) {
				want = append(want, it)
			}
		}
	}
	if len(want) > 0 {
		p.Send(&GetData{Items: want})
	}
	return nil
}

func (n *Node) handleGetData(p *Peer, m *GetData) error {
	for _, it := range m.Items {
		switch it.Type {
		case InvBlock:
			blk, err := n.chain.GetBlock(it.Hash)
			if err != nil {
				p.Send(&Reject{Rejected: MsgGetData, Code: RejectInvalid, Reason: "block not found", DataHash: it.Hash})
				continue
			}
			p.Send(&BlockMsg{Block: blk})
		case InvTx:
			if t := n.pool.Get(it.Hash); t != nil {
				p.Send(&TxMsg{Tx: t})
			}
		}
	}
	return nil
}

func (n *Node) handleBlock(p *Peer, blk *block.Block) error {
	hash := blk.Hash()
	if n.chain.HasBlock(hash) {
		return nil
	}

	// Extends our tip: the common path.
	if blk.Header.PrevHash == n.chain.TipHash() {
		if err := n.chain.ApplyBlock(blk); err != nil {
			n.mgr.RecordMisbehavior(p.addr, PenaltyInvalidBlock, err.Error())
			p.Send(&Reject{Rejected: MsgBlock, Code: RejectInvalid, Reason: err.Error(), DataHash: hash})
			return err
		}
		n.interruptMiner()
		n.mgr.Broadcast(&Inv{Items: []InvItem{{Type: InvBlock, Hash: hash}}}, p.addr)
		return nil
	}

	// Parent unknown: we're behind or on a different branch; negotiate a
	// common ancestor rather than guessing.
	if !n.chain.HasBlock(blk.Header.PrevHash) {
		locators, err := BuildBlockLocator(n.chain, n.chain.Height())
		if err != nil {
			return fmt.Errorf("build locator: %w", err)
		}
		p.Send(&GetBlocks{Locators: locators})
		return nil
	}

	// Known parent off the main tip: a side-branch candidate.
	if err := n.chain.IndexBlock(blk); err != nil {
		n.mgr.RecordMisbehavior(p.addr, PenaltyInvalidBlock, err.Error())
		return err
	}
	entry, err := n.chain.GetIndexEntry(hash)
	if err != nil {
		return err
	}
	if entry.Height > n.chain.Height() {
		if err := n.chain.Reorganize(hash); err != nil {
			n.logger.Debug().Str("peer", p.addr).Str("hash", hash.String()).Err(err).Msg("reorganize refused")
			return nil
		}
		n.interruptMiner()
		n.mgr.Broadcast(&Inv{Items: []InvItem{{Type: InvBlock, Hash: hash}}}, p.addr)
	}
	return nil
}

func (n *Node) handleTx(p *Peer, t *tx.Transaction) error {
	hash := t.Hash()
	if n.pool.Has(hash) {
		return nil
	}

	if _, err := n.pool.Add(t); err != nil {
		switch {
		case errors.Is(err, chainerr.ErrDuplicateInMempool),
			errors.Is(err, chainerr.ErrMempoolFull),
			errors.Is(err, chainerr.ErrNonceGap):
			// Not the sender's fault; drop silently.
		case errors.Is(err, chainerr.ErrFeeTooLow):
			p.Send(&Reject{Rejected: MsgTx, Code: RejectLowFee, Reason: err.Error(), DataHash: hash})
		default:
			n.mgr.RecordMisbehavior(p.addr, PenaltyInvalidTx, err.Error())
			p.Send(&Reject{Rejected: MsgTx, Code: RejectInvalid, Reason: err.Error(), DataHash: hash})
		}
		return err
	}

	n.mgr.Broadcast(&Inv{Items: []InvItem{{Type: InvTx, Hash: hash}}}, p.addr)
	return nil
}

// locatorForkHeight finds the height of the first locator hash that is on
// our main chain. Genesis is always shared, so the walk defaults to 0.
func (n *Node) locatorForkHeight(locators []types.Hash) uint64 {
	for _, h := range locators {
		entry, err := n.chain.GetIndexEntry(h)
		if err != nil {
			continue
		}
		mainHash, err := n.chain.GetHeightHash(entry.Height)
		if err == nil && mainHash == h {
			return entry.Height
		}
	}
	return 0
}

func (n *Node) handleGetBlocks(p *Peer, m *GetBlocks) error {
	start := n.locatorForkHeight(m.Locators)
	tip := n.chain.Height()

	var items []InvItem
	for h := start + 1; h <= tip && len(items) < MaxBlocksPerInv; h++ {
		hash, err := n.chain.GetHeightHash(h)
		if err != nil {
			break
		}
		items = append(items, InvItem{Type: InvBlock, Hash: hash})
		if hash == m.StopHash {
			break
		}
	}
	if len(items) > 0 {
		p.Send(&Inv{Items: items})
	}
	return nil
}

func (n *Node) handleGetHeaders(p *Peer, m *GetHeaders) error {
	start := n.locatorForkHeight(m.Locators)
	tip := n.chain.Height()

	var headers []*block.Header
	for h := start + 1; h <= tip && len(headers) < MaxHeadersPerMsg; h++ {
		hash, err := n.chain.GetHeightHash(h)
		if err != nil {
			break
		}
		entry, err := n.chain.GetIndexEntry(hash)
		if err != nil {
			break
		}
		headers = append(headers, entry.Header)
		if hash == m.StopHash {
			break
		}
	}
	p.Send(&HeadersMsg{Headers: headers})
	return nil
}

// AnnounceBlock broadcasts a locally mined block's inventory to every
// connected peer. The miner submission path calls this after ApplyBlock
// succeeds.
func (n *Node) AnnounceBlock(hash types.Hash) {
	n.mgr.Broadcast(&Inv{Items: []InvItem{{Type: InvBlock, Hash: hash}}}, "")
}

// AnnounceTx broadcasts a locally submitted transaction's inventory.
func (n *Node) AnnounceTx(hash types.Hash) {
	n.mgr.Broadcast(&Inv{Items: []InvItem{{Type: InvTx, Hash: hash}}}, "")
}

func (n *Node) interruptMiner() {
	if n.miner != nil {
		n.miner.Stop()
	}
}
