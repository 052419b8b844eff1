package p2p

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
)

const (
	// outboundQueueSize bounds each peer's send queue. Broadcast enqueues
	// without blocking; a peer that can't drain 100 messages misses the
	// overflow rather than stalling the caller.
	outboundQueueSize = 100

	// readIdleTimeout disconnects a peer that sends nothing for this long.
	// The ping loop keeps healthy connections well under it.
	readIdleTimeout = 5 * time.Minute

	writeTimeout = 30 * time.Second
)

// Peer is one live connection: a framed net.Conn with a read pump feeding
// the node's handler and a write pump draining the bounded outbound queue.
type Peer struct {
	addr      string // canonical address used as the manager's table key
	conn      net.Conn
	inbound   bool
	out       chan Message
	node      *Node
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	gotVerAck bool
	gotVer    bool
}

func newPeer(addr string, conn net.Conn, inbound bool, node *Node) *Peer {
	return &Peer{
		addr:    addr,
		conn:    conn,
		inbound: inbound,
		out:     make(chan Message, outboundQueueSize),
		node:    node,
		closed:  make(chan struct{}),
	}
}

// Addr returns the peer's table key ("host:port").
func (p *Peer) Addr() string { return p.addr }

// Send enqueues msg for delivery. It never blocks: when the queue is full
// the message is dropped and Send reports false.
func (p *Peer) Send(msg Message) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.out <- msg:
		return true
	default:
		p.node.logger.Debug().Str("peer", p.addr).Str("msg", msg.Type().String()).Msg("outbound queue full, dropping")
		return false
	}
}

// Close tears the connection down. Safe to call multiple times.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close()
	})
}

// run starts the pumps and blocks until the connection dies. It always
// leaves the manager marked disconnected for this peer.
func (p *Peer) run() {
	go p.writeLoop()
	p.readLoop()
	p.Close()
	p.node.mgr.MarkDisconnected(p.addr)
	p.node.logger.Info().Str("peer", p.addr).Msg("peer disconnected")
}

func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.closed:
			return
		case msg := <-p.out:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := WriteFrame(p.conn, EncodeMessage(msg)); err != nil {
				p.node.logger.Debug().Str("peer", p.addr).Err(err).Msg("write failed")
				p.Close()
				return
			}
		}
	}
}

func (p *Peer) readLoop() {
	for {
		p.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		payload, err := ReadFrame(p.conn)
		if err != nil {
			if errors.Is(err, chainerr.ErrPeerMalformedMessage) || errors.Is(err, chainerr.ErrPeerOversizedMessage) {
				p.node.mgr.RecordMisbehavior(p.addr, PenaltyMalformed, err.Error())
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				p.node.logger.Debug().Str("peer", p.addr).Err(err).Msg("read failed")
			}
			return
		}

		msg, err := DecodeMessage(payload)
		if err != nil {
			if p.node.mgr.RecordMisbehavior(p.addr, PenaltyMalformed, err.Error()) {
				return
			}
			continue
		}

		if err := p.node.handleMessage(p, msg); err != nil {
			p.node.logger.Debug().Str("peer", p.addr).Str("msg", msg.Type().String()).Err(err).Msg("handler rejected message")
		}

		select {
		case <-p.closed:
			return
		default:
		}
	}
}

// versionReceived reports whether the peer has introduced itself.
func (p *Peer) versionReceived() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gotVer
}

func (p *Peer) markVersionReceived() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotVer = true
}

// markVerAckReceived records the peer's acknowledgement and reports
// whether the handshake is now complete in both directions.
func (p *Peer) markVerAckReceived() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotVerAck = true
	return p.gotVer && p.gotVerAck
}
