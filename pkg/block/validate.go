package block

import (
	"errors"
	"fmt"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// Structural validation errors. Consensus-level checks (PoW, difficulty,
// chain_id, timestamp bounds against chain history) live in internal/chain
// and internal/consensus, which need chain state this package doesn't have.
var (
	ErrNilHeader           = errors.New("block has nil header")
	ErrNoTransactions      = errors.New("block has no transactions")
	ErrBadMerkleRoot       = errors.New("merkle root mismatch")
	ErrBadVersion          = errors.New("unsupported block version")
	ErrZeroTimestamp       = errors.New("block timestamp is zero")
	ErrNoCoinbase          = errors.New("first transaction must be coinbase")
	ErrMultipleCoinbase    = errors.New("multiple coinbase transactions in block")
	ErrTooManyTxs          = errors.New("too many transactions in block")
	ErrBlockTooLarge       = errors.New("block too large")
	ErrDuplicateBlockInput = errors.New("duplicate input across transactions in block")
)

// MaxVersion is the highest block version this software understands.
const MaxVersion = CurrentVersion

// Validate checks block structure and internal consistency: header shape,
// merkle root, coinbase position/uniqueness, size and transaction count
// bounds, and intra-block double-spends (the part that doesn't need
// chain state). It does not check proof-of-work, chain_id,
// difficulty, or timestamp bounds — see internal/chain.Chain.ApplyBlock.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}
	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}

	blockSize := len(b.Header.SigningBytes())
	for _, t := range b.Transactions {
		blockSize += len(t.SigningBytes())
	}
	if blockSize > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, blockSize, config.MaxBlockSize)
	}

	if !b.Transactions[0].IsCoinbase() {
		return ErrNoCoinbase
	}
	for i, t := range b.Transactions[1:] {
		if t.IsCoinbase() {
			return fmt.Errorf("tx %d: %w", i+1, ErrMultipleCoinbase)
		}
	}

	txHashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		txHashes[i] = t.Hash()
	}
	expectedRoot := ComputeMerkleRoot(txHashes)
	if b.Header.MerkleRoot != expectedRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, expectedRoot)
	}

	for i, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	// Intra-block double-spend: no two inputs across the whole block may
	// reference the same outpoint (per-tx duplicates are already caught by
	// tx.Validate above).
	seen := make(map[types.Outpoint]int, len(b.Transactions))
	for i, t := range b.Transactions {
		for _, in := range t.Inputs {
			if in.PrevOut.IsZero() || in.PrevOut.Index == 0xFFFFFFFF || in.PrevOut.Index == 0xFFFFFFFE {
				continue // Coinbase / genesis sentinel inputs.
			}
			if prevTx, exists := seen[in.PrevOut]; exists {
				return fmt.Errorf("tx %d: %w: outpoint %s also spent in tx %d",
					i, ErrDuplicateBlockInput, in.PrevOut, prevTx)
			}
			seen[in.PrevOut] = i
		}
	}

	return nil
}
