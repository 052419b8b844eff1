package p2p

import (
	"fmt"

	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// Wire encoding of chain objects. The header layout matches
// Header.SigningBytes exactly; transactions extend the signing layout with
// each input's signature and public key, which the ID hash excludes but
// relay obviously needs.

func encodeHeader(w *writer, h *block.Header) {
	w.u32(h.Version)
	w.u8(h.ChainID)
	w.hash(h.PrevHash)
	w.hash(h.MerkleRoot)
	w.u64(h.Timestamp)
	w.u32(h.DifficultyTarget)
	w.u64(h.Nonce)
}

func decodeHeader(r *reader) *block.Header {
	h := &block.Header{
		Version:          r.u32(),
		ChainID:          r.u8(),
		PrevHash:         r.hash(),
		MerkleRoot:       r.hash(),
		Timestamp:        r.u64(),
		DifficultyTarget: r.u32(),
		Nonce:            r.u64(),
	}
	if r.err != nil {
		return nil
	}
	return h
}

func encodeTx(w *writer, t *tx.Transaction) {
	w.u32(t.Version)
	w.u32(uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		w.hash(in.PrevOut.TxID)
		w.u32(in.PrevOut.Index)
		w.bytes(in.Signature)
		w.bytes(in.PubKey)
	}
	w.u32(uint32(len(t.Outputs)))
	for _, out := range t.Outputs {
		w.u64(out.Amount)
		w.hash(out.PubKeyHash)
	}
	w.u32(t.LockTime)
	w.u64(t.Nonce)
}

func decodeTx(r *reader) *tx.Transaction {
	t := &tx.Transaction{Version: r.u32()}

	nIn := r.count()
	t.Inputs = make([]tx.Input, 0, nIn)
	for i := 0; i < nIn; i++ {
		in := tx.Input{
			PrevOut:   types.Outpoint{TxID: r.hash(), Index: r.u32()},
			Signature: r.bytes(),
			PubKey:    r.bytes(),
		}
		if r.err != nil {
			return nil
		}
		// Empty slices and nil round-trip identically; normalize to nil so
		// decoded transactions compare equal to locally built ones.
		if len(in.Signature) == 0 {
			in.Signature = nil
		}
		if len(in.PubKey) == 0 {
			in.PubKey = nil
		}
		t.Inputs = append(t.Inputs, in)
	}

	nOut := r.count()
	t.Outputs = make([]tx.Output, 0, nOut)
	for i := 0; i < nOut; i++ {
		t.Outputs = append(t.Outputs, tx.Output{Amount: r.u64(), PubKeyHash: r.hash()})
	}

	t.LockTime = r.u32()
	t.Nonce = r.u64()
	if r.err != nil {
		return nil
	}
	return t
}

func encodeBlock(w *writer, b *block.Block) {
	encodeHeader(w, b.Header)
	w.u32(uint32(len(b.Transactions)))
	for _, t := range b.Transactions {
		encodeTx(w, t)
	}
}

func decodeBlock(r *reader) *block.Block {
	header := decodeHeader(r)
	n := r.count()
	txs := make([]*tx.Transaction, 0, n)
	for i := 0; i < n; i++ {
		t := decodeTx(r)
		if t == nil {
			return nil
		}
		txs = append(txs, t)
	}
	if r.err != nil || header == nil {
		return nil
	}
	return block.NewBlock(header, txs)
}

// EncodeBlockBytes serializes a block as it travels in a BlockMsg body,
// without the message type byte. Used by tests and size accounting.
func EncodeBlockBytes(b *block.Block) []byte {
	w := &writer{}
	encodeBlock(w, b)
	return w.buf
}

// DecodeBlockBytes is EncodeBlockBytes' inverse.
func DecodeBlockBytes(buf []byte) (*block.Block, error) {
	r := newReader(buf)
	b := decodeBlock(r)
	if b == nil {
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("%w: truncated block", chainerr.ErrPeerMalformedMessage)
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return b, nil
}
