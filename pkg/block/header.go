package block

import (
	"encoding/binary"

	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// CurrentVersion is the block version produced by this software.
const CurrentVersion = 1

// Header contains block metadata. ChainID provides replay protection
// between mainnet and testnet. DifficultyTarget is the
// bitcoin-style compact encoding of the 256-bit PoW threshold. Height is
// deliberately not a header field — it is derived from the chain's block
// index, matching the on-wire header shape.
type Header struct {
	Version          uint32     `json:"version"`
	ChainID          uint8      `json:"chain_id"`
	PrevHash         types.Hash `json:"prev_hash"`
	MerkleRoot       types.Hash `json:"merkle_root"`
	Timestamp        uint64     `json:"timestamp"`
	DifficultyTarget uint32     `json:"difficulty_target"`
	Nonce            uint64     `json:"nonce"`
}

// Hash computes the block hash: the content hash of the header's canonical
// encoding.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// SigningBytes returns the canonical byte encoding used for both hashing
// and PoW comparison.
//
// Layout: version(4) | chain_id(1) | prev_hash(32) | merkle_root(32) |
// timestamp(8) | difficulty_target(4) | nonce(8)
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 4+1+32+32+8+4+8)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.ChainID)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.DifficultyTarget)
	buf = binary.LittleEndian.AppendUint64(buf, h.Nonce)
	return buf
}
