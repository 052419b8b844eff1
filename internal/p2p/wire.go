// Package p2p implements the peer protocol: wire framing, the message set,
// block locators, the per-peer state machine, and the peer manager that
// tracks connection state, misbehavior scores, and outbound fan-out.
package p2p

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// Magic is the 4-byte network prefix on every frame ("RHCN"). A peer that
// sends anything else is speaking a different protocol (or garbage) and is
// disconnected immediately.
var Magic = [4]byte{0x52, 0x48, 0x43, 0x4E}

// MaxPayloadBytes caps a single frame's payload. Matches the maximum block
// size, the largest thing the protocol ever ships in one message.
const MaxPayloadBytes = 4 * 1024 * 1024

// ProtocolVersion is advertised in the Version message.
const ProtocolVersion uint32 = 1

// Frame layout: magic(4) | payload_length(u32 LE) | payload. The payload's
// first byte is the message type; the rest is the message body.

// WriteFrame writes one framed payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes", chainerr.ErrPeerOversizedMessage, len(payload))
	}
	hdr := make([]byte, 8)
	copy(hdr[:4], Magic[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one framed payload from r. Magic mismatch and oversized
// lengths return typed errors so the caller can score the peer.
func ReadFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	if [4]byte(hdr[:4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %x", chainerr.ErrPeerMalformedMessage, hdr[:4])
	}
	length := binary.LittleEndian.Uint32(hdr[4:])
	if length > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: declared %d bytes", chainerr.ErrPeerOversizedMessage, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writer accumulates a message body in the protocol's fixed little-endian
// layout. Unlike the JSON used for at-rest storage, the wire encoding must
// be byte-identical across nodes, so every field is written explicitly.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *writer) hash(h types.Hash) { w.buf = append(w.buf, h[:]...) }

// bytes writes a u32 length prefix followed by the raw bytes.
func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) { w.bytes([]byte(s)) }

// reader consumes a message body, tracking a single sticky error so call
// sites stay linear instead of checking every field read.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) fail() {
	if r.err == nil {
		r.err = fmt.Errorf("%w: truncated body at offset %d", chainerr.ErrPeerMalformedMessage, r.off)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail()
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) hash() types.Hash {
	var h types.Hash
	b := r.take(types.HashSize)
	if b != nil {
		copy(h[:], b)
	}
	return h
}

func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	// A length prefix can never legitimately exceed the frame it arrived
	// in, so this also guards against allocation-bomb lengths.
	if int(n) > len(r.buf)-r.off {
		r.fail()
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) str() string { return string(r.bytes()) }

// count reads a u32 element count and rejects values that could not fit in
// the remaining body even at one byte per element.
func (r *reader) count() int {
	n := r.u32()
	if r.err != nil {
		return 0
	}
	if int(n) > len(r.buf)-r.off {
		r.fail()
		return 0
	}
	return int(n)
}

// done reports an error unless the body was consumed exactly.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", chainerr.ErrPeerMalformedMessage, len(r.buf)-r.off)
	}
	return nil
}
