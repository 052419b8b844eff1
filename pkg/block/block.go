// Package block defines block types, merkle trees, and structural validation.
package block

import (
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/tx"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// Block pairs a header with its ordered transaction list. The first
// transaction must be the coinbase.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a new block with the given header and transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// Hash returns the block header hash, or the zero hash when the block has
// no header.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}
