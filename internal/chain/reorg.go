package chain

import (
	"fmt"
	"math/big"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/chainerr"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/consensus"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/utxo"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// branchAncestry walks from hash back through the block index, collecting
// entries until it reaches a block whose height is already on the main
// chain (store.GetHeightHash(height) equals that block's hash) — the
// common ancestor. Entries are returned in descending order (tip first);
// the caller reverses them before replay.
func (c *Chain) branchAncestry(hash types.Hash) ([]*IndexEntry, uint64, error) {
	var branch []*IndexEntry

	for {
		entry, err := c.store.GetIndexEntry(hash)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", chainerr.ErrMissingAncestor, err)
		}
		branch = append(branch, entry)

		if uint64(len(branch)) > config.MaxReorgDepth {
			return nil, 0, fmt.Errorf("%w: branch exceeds %d blocks", chainerr.ErrReorgTooDeep, config.MaxReorgDepth)
		}

		if entry.Height == 0 {
			return branch, 0, nil
		}

		mainHash, err := c.store.GetHeightHash(entry.Height - 1)
		if err == nil && mainHash == entry.Header.PrevHash {
			return branch, entry.Height - 1, nil
		}
		hash = entry.Header.PrevHash
	}
}

// Reorganize switches the main chain to the branch ending at targetHash, if
// and only if that branch carries strictly more cumulative work than the
// current chain above their common ancestor. targetHash must already be
// known to the block index (via IndexBlock). The reorg depth (current
// height minus the ancestor's height) must not exceed MaxReorgDepth, and
// the ancestor must not sit below any hardcoded checkpoint — both rejected
// with a typed error rather than silently refusing.
func (c *Chain) Reorganize(targetHash types.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if targetHash == c.tipHash {
		return nil
	}

	descBranch, ancestorHeight, err := c.branchAncestry(targetHash)
	if err != nil {
		return err
	}

	depth := c.height - ancestorHeight
	if depth > config.MaxReorgDepth {
		return fmt.Errorf("%w: %d blocks, max %d", chainerr.ErrReorgTooDeep, depth, config.MaxReorgDepth)
	}
	for checkpointHeight := range c.checkpoints {
		if checkpointHeight > ancestorHeight && checkpointHeight <= c.height {
			return fmt.Errorf("%w: reorg would rewrite checkpointed height %d", chainerr.ErrCheckpointViolation, checkpointHeight)
		}
	}

	newWork := consensus.CumulativeWork(compactsOf(descBranch))
	oldWork, err := c.cumulativeWorkAbove(ancestorHeight)
	if err != nil {
		return fmt.Errorf("compute current branch work: %w", err)
	}
	if newWork.Cmp(oldWork) <= 0 {
		return nil // Not heavier — keep the current chain, no flip-flopping on ties.
	}

	for c.height > ancestorHeight {
		if err := c.revertTipLocked(); err != nil {
			return fmt.Errorf("revert to common ancestor: %w", err)
		}
	}

	for i := len(descBranch) - 1; i >= 0; i-- {
		blk, err := c.store.GetBlock(descBranch[i].Header.Hash())
		if err != nil {
			return fmt.Errorf("load branch block at height %d: %w", descBranch[i].Height, err)
		}
		if err := c.applyBlockLocked(blk); err != nil {
			return fmt.Errorf("apply branch block at height %d: %w", descBranch[i].Height, err)
		}
	}

	event := c.logger.Info().Str("new_tip", c.tipHash.String()).Uint64("new_height", c.height).Uint64("depth", depth)
	if commitment, err := utxo.Commitment(c.utxoSet); err == nil {
		// The set digest lets two operators confirm their nodes converged
		// on identical state after the switch, not just the same tip.
		event = event.Str("utxo_commitment", commitment.String())
	}
	event.Msg("reorganized")
	return nil
}

func compactsOf(branch []*IndexEntry) []uint32 {
	out := make([]uint32, len(branch))
	for i, e := range branch {
		out[i] = e.Header.DifficultyTarget
	}
	return out
}

// cumulativeWorkAbove sums the proof-of-work of every main-chain block
// above ancestorHeight, up to and including the current tip.
func (c *Chain) cumulativeWorkAbove(ancestorHeight uint64) (*big.Int, error) {
	compacts := make([]uint32, 0, c.height-ancestorHeight)
	for h := ancestorHeight + 1; h <= c.height; h++ {
		hash, err := c.store.GetHeightHash(h)
		if err != nil {
			return nil, err
		}
		entry, err := c.store.GetIndexEntry(hash)
		if err != nil {
			return nil, err
		}
		compacts = append(compacts, entry.Header.DifficultyTarget)
	}
	return consensus.CumulativeWork(compacts), nil
}
