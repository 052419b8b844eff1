package p2p

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %x want %x", got, payload)
	}
}

func TestReadFrame_BadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xde, 0xad, 0xbe, 0xef})
	buf.Write(binary.LittleEndian.AppendUint32(nil, 1))
	buf.WriteByte(0x00)

	_, err := ReadFrame(&buf)
	if !errors.Is(err, chainerr.ErrPeerMalformedMessage) {
		t.Errorf("want ErrPeerMalformedMessage, got %v", err)
	}
}

func TestReadFrame_Oversized(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.Write(binary.LittleEndian.AppendUint32(nil, MaxPayloadBytes+1))

	_, err := ReadFrame(&buf)
	if !errors.Is(err, chainerr.ErrPeerOversizedMessage) {
		t.Errorf("want ErrPeerOversizedMessage, got %v", err)
	}
}

func TestWriteFrame_Oversized(t *testing.T) {
	err := WriteFrame(&bytes.Buffer{}, make([]byte, MaxPayloadBytes+1))
	if !errors.Is(err, chainerr.ErrPeerOversizedMessage) {
		t.Errorf("want ErrPeerOversizedMessage, got %v", err)
	}
}

func sampleTx() *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut:   types.Outpoint{TxID: types.Hash{0xaa, 0xbb}, Index: 3},
			Signature: bytes.Repeat([]byte{0x11}, 64),
			PubKey:    bytes.Repeat([]byte{0x22}, 32),
		}},
		Outputs: []tx.Output{
			{Amount: 5000, PubKeyHash: types.Hash{0xcc}},
			{Amount: 700, PubKeyHash: types.Hash{0xdd}},
		},
		LockTime: 9,
		Nonce:    4,
	}
}

func sampleHeader() *block.Header {
	return &block.Header{
		Version:          1,
		ChainID:          0x01,
		PrevHash:         types.Hash{0x01},
		MerkleRoot:       types.Hash{0x02},
		Timestamp:        1_736_339_999,
		DifficultyTarget: 0x1e00ffff,
		Nonce:            424242,
	}
}

// Every message variant must survive encode → decode unchanged.
func TestMessageRoundTrip(t *testing.T) {
	blk := block.NewBlock(sampleHeader(), []*tx.Transaction{sampleTx()})

	messages := []Message{
		&Version{Version: ProtocolVersion, Nonce: 77, BestHeight: 12, Timestamp: 1_736_340_000},
		&VerAck{},
		&Ping{Nonce: 5},
		&Pong{Nonce: 5},
		&GetAddr{},
		&Addr{Addrs: []string{"10.0.0.1:30303", "[::1]:30304"}},
		&Inv{Items: []InvItem{{Type: InvBlock, Hash: types.Hash{0x01}}, {Type: InvTx, Hash: types.Hash{0x02}}}},
		&GetData{Items: []InvItem{{Type: InvTx, Hash: types.Hash{0x03}}}},
		&BlockMsg{Block: blk},
		&TxMsg{Tx: sampleTx()},
		&GetHeaders{Locators: []types.Hash{{0x04}, {0x05}}, StopHash: types.Hash{0x06}},
		&HeadersMsg{Headers: []*block.Header{sampleHeader()}},
		&GetBlocks{Locators: []types.Hash{{0x07}}, StopHash: types.Hash{}},
		&Reject{Rejected: MsgTx, Code: RejectLowFee, Reason: "fee rate below minimum relay fee", DataHash: types.Hash{0x08}},
	}

	for _, msg := range messages {
		t.Run(msg.Type().String(), func(t *testing.T) {
			payload := EncodeMessage(msg)
			decoded, err := DecodeMessage(payload)
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if !reflect.DeepEqual(msg, decoded) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, msg)
			}
		})
	}
}

// Two encodings of the same message must be byte-identical — the wire
// layout has no map iteration or other nondeterminism in it.
func TestMessageEncodingDeterministic(t *testing.T) {
	blk := block.NewBlock(sampleHeader(), []*tx.Transaction{sampleTx()})
	a := EncodeMessage(&BlockMsg{Block: blk})
	b := EncodeMessage(&BlockMsg{Block: blk})
	if !bytes.Equal(a, b) {
		t.Error("block message encoding is not deterministic")
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"unknown type", []byte{0xff}},
		{"truncated version", []byte{byte(MsgVersion), 0x01}},
		{"trailing bytes", append(EncodeMessage(&Ping{Nonce: 1}), 0x00)},
		{"inv bad item type", func() []byte {
			w := &writer{}
			w.u8(uint8(MsgInv))
			w.u32(1)
			w.u8(0x09)
			w.hash(types.Hash{})
			return w.buf
		}()},
		{"inv count past end", func() []byte {
			w := &writer{}
			w.u8(uint8(MsgInv))
			w.u32(0xffffffff)
			return w.buf
		}()},
		{"tx signature length past end", func() []byte {
			w := &writer{}
			w.u8(uint8(MsgTx))
			w.u32(1) // version
			w.u32(1) // one input
			w.hash(types.Hash{})
			w.u32(0)
			w.u32(1 << 30) // absurd signature length
			return w.buf
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeMessage(tc.payload); !errors.Is(err, chainerr.ErrPeerMalformedMessage) {
				t.Errorf("want ErrPeerMalformedMessage, got %v", err)
			}
		})
	}
}

func TestHeaderWireMatchesSigningBytes(t *testing.T) {
	h := sampleHeader()
	w := &writer{}
	encodeHeader(w, h)
	if !bytes.Equal(w.buf, h.SigningBytes()) {
		t.Error("wire header layout must match Header.SigningBytes")
	}
}

func TestBlockBytesRoundTrip(t *testing.T) {
	blk := block.NewBlock(sampleHeader(), []*tx.Transaction{sampleTx(), sampleTx()})
	buf := EncodeBlockBytes(blk)
	decoded, err := DecodeBlockBytes(buf)
	if err != nil {
		t.Fatalf("DecodeBlockBytes: %v", err)
	}
	if decoded.Hash() != blk.Hash() {
		t.Error("decoded block hash mismatch")
	}
	if !reflect.DeepEqual(blk, decoded) {
		t.Error("decoded block differs from original")
	}
}
