package p2p

import (
	"fmt"

	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// MsgType identifies a protocol message variant.
type MsgType uint8

const (
	MsgVersion MsgType = iota + 1
	MsgVerAck
	MsgPing
	MsgPong
	MsgGetAddr
	MsgAddr
	MsgInv
	MsgGetData
	MsgBlock
	MsgTx
	MsgGetHeaders
	MsgHeaders
	MsgGetBlocks
	MsgReject
)

func (t MsgType) String() string {
	switch t {
	case MsgVersion:
		return "version"
	case MsgVerAck:
		return "verack"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgGetAddr:
		return "getaddr"
	case MsgAddr:
		return "addr"
	case MsgInv:
		return "inv"
	case MsgGetData:
		return "getdata"
	case MsgBlock:
		return "block"
	case MsgTx:
		return "tx"
	case MsgGetHeaders:
		return "getheaders"
	case MsgHeaders:
		return "headers"
	case MsgGetBlocks:
		return "getblocks"
	case MsgReject:
		return "reject"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// InvType distinguishes inventory item kinds.
type InvType uint8

const (
	InvTx InvType = iota + 1
	InvBlock
)

// InvItem announces or requests one object by hash.
type InvItem struct {
	Type InvType
	Hash types.Hash
}

// Reject codes, carried in the Reject message's Code field.
const (
	RejectMalformed uint8 = 0x01
	RejectInvalid   uint8 = 0x10
	RejectDuplicate uint8 = 0x12
	RejectLowFee    uint8 = 0x42
)

// Message is one protocol message. EncodeMessage produces the full payload
// (type byte plus body) ready for WriteFrame.
type Message interface {
	Type() MsgType
	encode(*writer)
}

// Version opens the handshake. Nonce is a random value used for
// self-connection detection: a node that reads its own recently generated
// nonce back has dialed itself and drops the connection.
type Version struct {
	Version    uint32
	Nonce      uint64
	BestHeight uint64
	Timestamp  uint64
}

func (*Version) Type() MsgType { return MsgVersion }
func (m *Version) encode(w *writer) {
	w.u32(m.Version)
	w.u64(m.Nonce)
	w.u64(m.BestHeight)
	w.u64(m.Timestamp)
}

// VerAck acknowledges a Version.
type VerAck struct{}

func (*VerAck) Type() MsgType    { return MsgVerAck }
func (*VerAck) encode(w *writer) {}

// Ping carries a nonce the peer echoes back in a Pong.
type Ping struct{ Nonce uint64 }

func (*Ping) Type() MsgType     { return MsgPing }
func (m *Ping) encode(w *writer) { w.u64(m.Nonce) }

// Pong answers a Ping.
type Pong struct{ Nonce uint64 }

func (*Pong) Type() MsgType     { return MsgPong }
func (m *Pong) encode(w *writer) { w.u64(m.Nonce) }

// GetAddr asks a peer for addresses of other known peers.
type GetAddr struct{}

func (*GetAddr) Type() MsgType    { return MsgGetAddr }
func (*GetAddr) encode(w *writer) {}

// Addr shares known peer addresses as "host:port" strings.
type Addr struct{ Addrs []string }

func (*Addr) Type() MsgType { return MsgAddr }
func (m *Addr) encode(w *writer) {
	w.u32(uint32(len(m.Addrs)))
	for _, a := range m.Addrs {
		w.str(a)
	}
}

// Inv announces objects the sender holds.
type Inv struct{ Items []InvItem }

func (*Inv) Type() MsgType { return MsgInv }
func (m *Inv) encode(w *writer) { encodeInvItems(w, m.Items) }

// GetData requests objects previously announced via Inv.
type GetData struct{ Items []InvItem }

func (*GetData) Type() MsgType { return MsgGetData }
func (m *GetData) encode(w *writer) { encodeInvItems(w, m.Items) }

func encodeInvItems(w *writer, items []InvItem) {
	w.u32(uint32(len(items)))
	for _, it := range items {
		w.u8(uint8(it.Type))
		w.hash(it.Hash)
	}
}

func decodeInvItems(r *reader) []InvItem {
	n := r.count()
	items := make([]InvItem, 0, n)
	for i := 0; i < n; i++ {
		it := InvItem{Type: InvType(r.u8()), Hash: r.hash()}
		if r.err != nil {
			return nil
		}
		if it.Type != InvTx && it.Type != InvBlock {
			r.err = fmt.Errorf("%w: inv type %d", chainerr.ErrPeerMalformedMessage, it.Type)
			return nil
		}
		items = append(items, it)
	}
	return items
}

// BlockMsg carries a full block.
type BlockMsg struct{ Block *block.Block }

func (*BlockMsg) Type() MsgType { return MsgBlock }
func (m *BlockMsg) encode(w *writer) { encodeBlock(w, m.Block) }

// TxMsg carries a full transaction.
type TxMsg struct{ Tx *tx.Transaction }

func (*TxMsg) Type() MsgType { return MsgTx }
func (m *TxMsg) encode(w *writer) { encodeTx(w, m.Tx) }

// GetHeaders asks for up to MaxHeadersPerMsg headers following the first
// locator hash found on the responder's main chain.
type GetHeaders struct {
	Locators []types.Hash
	StopHash types.Hash
}

func (*GetHeaders) Type() MsgType { return MsgGetHeaders }
func (m *GetHeaders) encode(w *writer) { encodeLocatorReq(w, m.Locators, m.StopHash) }

// GetBlocks is GetHeaders' block-inventory counterpart: the responder
// answers with an Inv of up to MaxBlocksPerInv block hashes.
type GetBlocks struct {
	Locators []types.Hash
	StopHash types.Hash
}

func (*GetBlocks) Type() MsgType { return MsgGetBlocks }
func (m *GetBlocks) encode(w *writer) { encodeLocatorReq(w, m.Locators, m.StopHash) }

func encodeLocatorReq(w *writer, locators []types.Hash, stop types.Hash) {
	w.u32(uint32(len(locators)))
	for _, h := range locators {
		w.hash(h)
	}
	w.hash(stop)
}

func decodeLocatorReq(r *reader) ([]types.Hash, types.Hash) {
	n := r.count()
	locators := make([]types.Hash, 0, n)
	for i := 0; i < n; i++ {
		locators = append(locators, r.hash())
	}
	return locators, r.hash()
}

// HeadersMsg answers a GetHeaders.
type HeadersMsg struct{ Headers []*block.Header }

func (*HeadersMsg) Type() MsgType { return MsgHeaders }
func (m *HeadersMsg) encode(w *writer) {
	w.u32(uint32(len(m.Headers)))
	for _, h := range m.Headers {
		encodeHeader(w, h)
	}
}

// Reject reports why a peer's message was refused. DataHash is the hash of
// the rejected object when one applies, zero otherwise.
type Reject struct {
	Rejected MsgType
	Code     uint8
	Reason   string
	DataHash types.Hash
}

func (*Reject) Type() MsgType { return MsgReject }
func (m *Reject) encode(w *writer) {
	w.u8(uint8(m.Rejected))
	w.u8(m.Code)
	w.str(m.Reason)
	w.hash(m.DataHash)
}

// EncodeMessage serializes m into a frame payload: type byte plus body.
func EncodeMessage(m Message) []byte {
	w := &writer{buf: make([]byte, 0, 64)}
	w.u8(uint8(m.Type()))
	m.encode(w)
	return w.buf
}

// DecodeMessage parses a frame payload back into a typed message. Every
// failure is chainerr.ErrPeerMalformedMessage so the peer loop can score
// the sender uniformly.
func DecodeMessage(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", chainerr.ErrPeerMalformedMessage)
	}
	r := newReader(payload)
	msgType := MsgType(r.u8())

	var m Message
	switch msgType {
	case MsgVersion:
		m = &Version{Version: r.u32(), Nonce: r.u64(), BestHeight: r.u64(), Timestamp: r.u64()}
	case MsgVerAck:
		m = &VerAck{}
	case MsgPing:
		m = &Ping{Nonce: r.u64()}
	case MsgPong:
		m = &Pong{Nonce: r.u64()}
	case MsgGetAddr:
		m = &GetAddr{}
	case MsgAddr:
		n := r.count()
		addrs := make([]string, 0, n)
		for i := 0; i < n; i++ {
			addrs = append(addrs, r.str())
		}
		m = &Addr{Addrs: addrs}
	case MsgInv:
		m = &Inv{Items: decodeInvItems(r)}
	case MsgGetData:
		m = &GetData{Items: decodeInvItems(r)}
	case MsgBlock:
		m = &BlockMsg{Block: decodeBlock(r)}
	case MsgTx:
		m = &TxMsg{Tx: decodeTx(r)}
	case MsgGetHeaders:
		locators, stop := decodeLocatorReq(r)
		m = &GetHeaders{Locators: locators, StopHash: stop}
	case MsgGetBlocks:
		locators, stop := decodeLocatorReq(r)
		m = &GetBlocks{Locators: locators, StopHash: stop}
	case MsgHeaders:
		n := r.count()
		headers := make([]*block.Header, 0, n)
		for i := 0; i < n; i++ {
			headers = append(headers, decodeHeader(r))
		}
		m = &HeadersMsg{Headers: headers}
	case MsgReject:
		m = &Reject{Rejected: MsgType(r.u8()), Code: r.u8(), Reason: r.str(), DataHash: r.hash()}
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", chainerr.ErrPeerMalformedMessage, msgType)
	}

	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}
