// Package chain implements the authoritative mapping from the block graph
// to a single canonical main chain: the block index, the main-chain height
// map, undo data, and the apply/revert/reorganize operations that keep the
// UTXO set consistent with whatever branch is currently canonical.
package chain

import (
	"github.com/ranjeet-h/roho-rh-blockchain/internal/utxo"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/block"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// UndoEntry records one UTXO that a block's application removed from the
// set, so revert_tip can restore it. Outputs the block itself created are
// not recorded here — they're derived from the block's own transactions
// (held in full_blocks) and simply deleted on revert.
type UndoEntry struct {
	Outpoint types.Outpoint `json:"outpoint"`
	UTXO     utxo.UTXO      `json:"utxo"`
}

// IndexEntry is the per-known-block record kept in the block index,
// regardless of whether the block is on the main chain. IndexBlock only
// accepts blocks whose parent is already indexed, so Height and
// CumulativeIssuedAfter are computed from the parent's entry at index time;
// ApplyBlock rewrites the entry, adding UndoData, when the block joins the
// main chain.
type IndexEntry struct {
	Header                *block.Header `json:"header"`
	Height                uint64        `json:"height"`
	CumulativeIssuedAfter uint64        `json:"cumulative_issued_after"`
	UndoData              []UndoEntry   `json:"undo_data,omitempty"`
}
